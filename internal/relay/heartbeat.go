package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	heartbeatProbe = "HEARTBEAT"
	heartbeatAck   = "HEARTBEAT_ACK"
)

// heartbeatLoop probes a receiver every HeartbeatInterval. It only returns on
// cancellation, peer closure (ErrConnectionClosed) or a liveness failure.
func (c *Connection) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := c.probe(); err != nil {
			return err
		}
		c.logger.Debug("heartbeat_acknowledged")
	}
}

// probe writes HEARTBEAT and waits up to HeartbeatTimeout for HEARTBEAT_ACK.
// The socket lock is held for the whole exchange so deliveries cannot interleave.
func (c *Connection) probe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.write([]byte(heartbeatProbe)); err != nil {
		return err
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.HeartbeatTimeout)); err != nil {
		return fmt.Errorf("failed to arm heartbeat deadline: %w", err)
	}
	defer c.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 64)
	n, err := c.conn.Read(buf)
	switch {
	case n > 0 && string(buf[:n]) == heartbeatAck:
		return nil
	case n > 0:
		return fmt.Errorf("%w: %q", ErrHeartbeatMismatch, buf[:n])
	case err == nil, errors.Is(err, io.EOF):
		return ErrConnectionClosed
	case isTimeout(err):
		return fmt.Errorf("%w after %s", ErrHeartbeatTimeout, c.opts.HeartbeatTimeout)
	default:
		return fmt.Errorf("heartbeat read failed: %w", err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
