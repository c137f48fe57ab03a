package relay

import "errors"

// connection-level errors, classified with errors.Is by the caller
var (
	ErrHandshakeUnrecognized = errors.New("handshake not recognized")
	ErrRemoteNotAllowed      = errors.New("remote address not allowed")
	ErrMalformedPacket       = errors.New("malformed packet")
	ErrConnectionClosed      = errors.New("connection was closed")
	ErrWriteFailure          = errors.New("write failed")
	ErrHeartbeatTimeout      = errors.New("heartbeat timed out")
	ErrHeartbeatMismatch     = errors.New("unexpected heartbeat reply")
	ErrUnknownCommand        = errors.New("unknown command")
	ErrPipeClosed            = errors.New("message pipe closed")
)
