package client

// relay_client.go = controller and receiver protocol clients for relaycli.

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"signalrelay/internal/relay"
)

const (
	DefaultDialTimeout = 5 * time.Second

	// pause after the handshake so it and the first packet arrive as separate reads
	handshakeSettle = 100 * time.Millisecond

	heartbeatProbe = "HEARTBEAT"
	heartbeatAck   = "HEARTBEAT_ACK"

	readBufferSize = 64 * 1024
)

// dial connects and performs the role handshake
func dial(serverAddr, handshake string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", serverAddr, DefaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	if _, err := conn.Write([]byte(handshake)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	time.Sleep(handshakeSettle)
	return conn, nil
}

// ControllerClient publishes packets and queries the directory.
type ControllerClient struct {
	serverAddr string
	name       string
	conn       net.Conn
	reader     *bufio.Reader
	mu         sync.Mutex
}

// DialController connects as "controller:<name>".
func DialController(serverAddr, name string) (*ControllerClient, error) {
	conn, err := dial(serverAddr, "controller:"+name)
	if err != nil {
		return nil, err
	}
	return &ControllerClient{
		serverAddr: serverAddr,
		name:       name,
		conn:       conn,
		reader:     bufio.NewReader(conn),
	}, nil
}

// Send publishes body to every receiver and returns the packet id.
func (c *ControllerClient) Send(receivers []string, body string) (string, error) {
	packet := relay.NewPacket(receivers, body)
	if err := c.writePacket(packet); err != nil {
		return "", err
	}
	return packet.ID, nil
}

// Query runs a directory command and returns the names it lists.
func (c *ControllerClient) Query(command string, timeout time.Duration) ([]string, error) {
	request := relay.NewPacket([]string{relay.ServerRecipient}, command)
	if err := c.writePacket(request); err != nil {
		return nil, err
	}

	reply, err := c.ReadPacket(timeout)
	if err != nil {
		return nil, fmt.Errorf("no reply to %q: %w", command, err)
	}
	if reply.ID != request.ID {
		return nil, fmt.Errorf("reply id %s does not match request id %s: %s", reply.ID, request.ID, reply.Body)
	}

	var msg relay.Message
	if err := json.Unmarshal([]byte(reply.Body), &msg); err != nil {
		return nil, fmt.Errorf("invalid reply envelope: %w", err)
	}
	var names []string
	if err := json.Unmarshal([]byte(msg.Body), &names); err != nil {
		return nil, fmt.Errorf("invalid reply body: %w", err)
	}
	return names, nil
}

// ReadPacket waits up to timeout for the next newline-terminated packet.
func (c *ControllerClient) ReadPacket(timeout time.Duration) (relay.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return relay.Packet{}, err
	}
	return relay.DecodePacket(line)
}

// WriteRaw sends bytes without packet encoding.
func (c *ControllerClient) WriteRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

func (c *ControllerClient) writePacket(packet relay.Packet) error {
	data, err := packet.Encode()
	if err != nil {
		return err
	}
	return c.WriteRaw(append(data, '\n'))
}

func (c *ControllerClient) Close() error {
	return c.conn.Close()
}

// ReceiverStats holds receiver session statistics
type ReceiverStats struct {
	ConnectedAt      time.Time
	MessagesReceived int
	HeartbeatsAcked  int
	LastHeartbeat    time.Time
}

// ReceiverClient holds a receiver connection, answering heartbeats and
// handing every other read to a callback.
type ReceiverClient struct {
	serverAddr string
	name       string
	conn       net.Conn
	mu         sync.RWMutex
	stats      ReceiverStats
}

// DialReceiver connects as "receiver:<name>".
func DialReceiver(serverAddr, name string) (*ReceiverClient, error) {
	conn, err := dial(serverAddr, "receiver:"+name)
	if err != nil {
		return nil, err
	}
	return &ReceiverClient{
		serverAddr: serverAddr,
		name:       name,
		conn:       conn,
		stats:      ReceiverStats{ConnectedAt: time.Now()},
	}, nil
}

// Listen runs until ctx is done or the server closes the connection.
// Each read that is not a heartbeat probe is passed to onMessage verbatim.
func (r *ReceiverClient) Listen(ctx context.Context, onMessage func(body string)) error {
	stop := context.AfterFunc(ctx, func() {
		r.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, readBufferSize)
	for {
		n, err := r.conn.Read(buf)
		if n > 0 {
			data := string(buf[:n])
			if data == heartbeatProbe {
				if err := r.ack(); err != nil {
					return err
				}
				continue
			}
			r.mu.Lock()
			r.stats.MessagesReceived++
			r.mu.Unlock()
			onMessage(data)
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("receive failed: %w", err)
	}
}

func (r *ReceiverClient) ack() error {
	if _, err := r.conn.Write([]byte(heartbeatAck)); err != nil {
		return fmt.Errorf("failed to acknowledge heartbeat: %w", err)
	}
	r.mu.Lock()
	r.stats.HeartbeatsAcked++
	r.stats.LastHeartbeat = time.Now()
	r.mu.Unlock()
	return nil
}

// Stats returns a copy of the session statistics.
func (r *ReceiverClient) Stats() ReceiverStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

func (r *ReceiverClient) Close() error {
	return r.conn.Close()
}
