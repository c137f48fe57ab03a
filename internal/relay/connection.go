package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxPacketSize bounds a single read, which is also a single packet.
const DefaultMaxPacketSize = 64 * 1024

// State is a step of the connection lifecycle:
// Connecting -> Identified -> Active -> Closed, with Closed reachable from any state.
type State int32

const (
	StateConnecting State = iota
	StateIdentified
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options are the per-connection tunables.
type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxPacketSize     int
}

func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  time.Second,
		MaxPacketSize:     DefaultMaxPacketSize,
	}
}

// Shared is the process-wide state every connection works against.
// Presence is optional.
type Shared struct {
	Registry *Registry
	Pipe     *Pipe
	Presence PresenceStore
}

// Connection drives one accepted socket through handshake, role dispatch and teardown.
type Connection struct {
	ID     string
	conn   net.Conn
	writer *bufio.Writer
	// mu serializes socket I/O between the notify and heartbeat loops
	mu sync.Mutex

	shared   *Shared
	commands *CommandProcessor
	opts     Options
	logger   *slog.Logger

	role       Role
	registered bool
	state      atomic.Int32
}

// constructor for Connection
func NewConnection(conn net.Conn, shared *Shared, opts Options, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPacketSize <= 0 {
		opts.MaxPacketSize = DefaultMaxPacketSize
	}

	id := uuid.NewString()
	connLogger := logger.With(
		"conn_id", id,
		"remote_addr", conn.RemoteAddr().String(),
	)
	return &Connection{
		ID:       id,
		conn:     conn,
		writer:   bufio.NewWriter(conn),
		shared:   shared,
		commands: NewCommandProcessor(shared.Registry, connLogger),
		opts:     opts,
		logger:   connLogger,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Role returns the role resolved by the handshake (Unknown before it).
func (c *Connection) Role() Role {
	return c.role
}

func (c *Connection) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("connection_state_changed",
			"from", prev.String(),
			"to", s.String(),
		)
	}
}

// Serve runs the connection until it terminates. The socket is closed and the
// role removed from the registry before Serve returns.
func (c *Connection) Serve(ctx context.Context) {
	defer c.close()

	c.logger.Info("client_connected")

	role, err := c.identify()
	if err != nil {
		c.logger.Warn("handshake_failed", "error", err)
		return
	}
	c.role = role
	c.logger = c.logger.With("role", role.String())

	var sub *Subscription
	switch role.Kind() {
	case KindUnknown:
		err := fmt.Errorf("%w: connection has unknown role", ErrHandshakeUnrecognized)
		c.logger.Warn("handshake_rejected", "error", err)
		c.writeErrorPacket(err)
		return
	case KindReceiver:
		// subscribe before registering so a receiver listed in the
		// directory is already observing the pipe
		sub = c.shared.Pipe.Subscribe()
	case KindController:
	}
	c.setState(StateIdentified)

	// A peer reconnecting before its stale connection has been reaped
	// finds its role still listed. It is served anyway, but only the
	// connection that added the entry removes it on teardown.
	if c.shared.Registry.Add(role) {
		c.registered = true
		c.logger.Info("client_identified")
		c.announce()
	} else {
		c.logger.Warn("role_already_registered")
	}

	c.setState(StateActive)
	switch role.Kind() {
	case KindController:
		err = c.serveController()
	case KindReceiver:
		err = c.serveReceiver(ctx, sub)
	default:
		err = ErrHandshakeUnrecognized
	}
	c.logTermination(err)
}

// identify performs the single-read handshake.
func (c *Connection) identify() (Role, error) {
	frame, err := c.readFrame()
	if err != nil {
		return Unknown(), err
	}
	return ParseHandshake(string(frame)), nil
}

// serveController processes packets in arrival order until the peer goes away
// or sends something that cannot be decoded. A bad read cannot be
// resynchronized, so it ends the connection after a best-effort error reply.
func (c *Connection) serveController() error {
	name, err := c.role.Name()
	if err != nil {
		return err
	}

	for {
		frame, err := c.readFrame()
		if err != nil {
			return err
		}

		packet, err := DecodePacket(frame)
		if err != nil {
			c.logger.Debug("packet_rejected", "error", err)
			reply := c.role.NewPacket(fmt.Sprintf("Error reading packet: %v", err))
			if werr := c.writePacket(reply); werr != nil {
				c.logger.Debug("error_reply_failed", "error", werr)
			}
			return err
		}
		c.logger.Debug("packet_received",
			"packet_id", packet.ID,
			"receivers", packet.Receivers,
			"body", packet.Body,
		)

		if packet.IsCommand() {
			if err := c.handleCommand(packet); err != nil {
				return err
			}
			continue
		}
		c.route(name, packet)
	}
}

func (c *Connection) handleCommand(packet Packet) error {
	reply, err := c.commands.Handle(c.role, packet)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	return c.writePacket(*reply)
}

// route fans a packet out into one message per receiver. Delivery is fire and forget.
func (c *Connection) route(from string, packet Packet) {
	for _, to := range packet.Receivers {
		msg := Message{From: from, To: to, Body: packet.Body}
		if err := c.shared.Pipe.Send(msg); err != nil {
			c.logger.Warn("route_send_failed",
				"to", to,
				"packet_id", packet.ID,
				"error", err,
			)
		}
	}
}

// serveReceiver races the notify loop against the heartbeat loop. Whichever
// finishes first decides the outcome; the other is cancelled and joined
// before returning.
func (c *Connection) serveReceiver(ctx context.Context, sub *Subscription) error {
	name, err := c.role.Name()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, 2)
	go func() { results <- c.notifyLoop(ctx, sub, name) }()
	go func() { results <- c.heartbeatLoop(ctx) }()

	err = <-results
	cancel()
	c.interrupt()
	<-results
	return err
}

func (c *Connection) notifyLoop(ctx context.Context, sub *Subscription, name string) error {
	for {
		msg, err := sub.Receive(ctx, name)
		if err != nil {
			return err
		}
		c.logger.Debug("message_received", "message", msg.String())

		if err := c.writeRaw([]byte(msg.Body)); err != nil {
			return err
		}
		c.logger.Info("message_delivered",
			"from", msg.From,
			"size", len(msg.Body),
		)
	}
}

// readFrame performs one socket read. Zero bytes means the peer closed.
func (c *Connection) readFrame() ([]byte, error) {
	buf := make([]byte, c.opts.MaxPacketSize)
	n, err := c.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil, ErrConnectionClosed
	}
	return nil, fmt.Errorf("failed to read from connection: %w", err)
}

// writePacket encodes packet, appends a newline and flushes in one go.
func (c *Connection) writePacket(packet Packet) error {
	data, err := packet.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(append(data, '\n'))
}

// writeRaw writes bytes verbatim, without packet framing.
func (c *Connection) writeRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(data)
}

// caller must hold mu
func (c *Connection) write(data []byte) error {
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return nil
}

// writeErrorPacket tells the peer why it is being dropped; failures are ignored.
func (c *Connection) writeErrorPacket(cause error) {
	packet := c.role.NewPacket(fmt.Sprintf("Connection closed, error: %v", cause))
	if err := c.writePacket(packet); err != nil {
		c.logger.Debug("error_reply_failed", "error", err)
	}
}

// interrupt unblocks any read or write in progress on the socket.
func (c *Connection) interrupt() {
	if err := c.conn.SetDeadline(time.Now()); err != nil {
		c.logger.Debug("set_deadline_failed", "error", err)
	}
}

// Close closes the underlying socket; Serve then unwinds and tears down.
func (c *Connection) Close() {
	c.conn.Close()
}

func (c *Connection) close() {
	c.setState(StateClosed)
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug("socket_close_failed", "error", err)
	}
	if c.registered {
		c.shared.Registry.Remove(c.role)
		c.withdraw()
	}
	c.logger.Info("client_disconnected")
}

func (c *Connection) announce() {
	if c.shared.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	info := PresenceInfo{
		ConnID:      c.ID,
		RemoteAddr:  c.conn.RemoteAddr().String(),
		ConnectedAt: time.Now().UTC(),
	}
	if err := c.shared.Presence.Announce(ctx, c.role, info); err != nil {
		c.logger.Warn("presence_announce_failed", "error", err)
	}
}

func (c *Connection) withdraw() {
	if c.shared.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	if err := c.shared.Presence.Withdraw(ctx, c.role); err != nil {
		c.logger.Warn("presence_withdraw_failed", "error", err)
	}
}

func (c *Connection) logTermination(err error) {
	switch {
	case err == nil, errors.Is(err, ErrConnectionClosed):
		c.logger.Info("client_closed_connection")
	case errors.Is(err, ErrPipeClosed), errors.Is(err, context.Canceled):
		c.logger.Info("connection_shutdown")
	default:
		c.logger.Warn("connection_terminated", "error", err)
	}
}
