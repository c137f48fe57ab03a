package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"signalrelay/internal/config"
)

// Server accepts sockets and runs one Connection per socket against the
// shared Registry and Pipe.
type Server struct {
	Addr string
	// listen address, "host:port"
	Registry *Registry
	// directory of identified roles, shared with every connection
	Pipe *Pipe
	// latest-wins router between controllers and receivers
	Manager *ConnectionManager
	// every accepted socket, identified or not, so Stop can close them all

	shared *Shared       // what each Connection works against
	policy *AccessPolicy // whitelist, accept limiter and ttl
	opts   Options       // per-connection tunables from config
	logger *slog.Logger

	ctx    context.Context // cancelled by Stop, parent of every connection
	cancel context.CancelFunc

	mu       sync.Mutex // guards listener, quitChan close and wg.Add
	listener net.Listener
	quitChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup // one per connection goroutine
}

// NewServer builds a server from configuration. presence may be nil.
func NewServer(cfg *config.Config, presence PresenceStore, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	whitelist, err := cfg.WhitelistPrefixes()
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	pipe := NewPipe()
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		Addr:     cfg.Addr,
		Registry: registry,
		Pipe:     pipe,
		Manager:  NewConnectionManager(logger),
		shared: &Shared{
			Registry: registry,
			Pipe:     pipe,
			Presence: presence,
		},
		policy: NewAccessPolicy(whitelist, cfg.TTL, cfg.AcceptRate, cfg.AcceptBurst),
		opts: Options{
			HeartbeatInterval: cfg.HeartbeatInterval,
			HeartbeatTimeout:  cfg.HeartbeatTimeout,
			MaxPacketSize:     cfg.MaxPacketSize,
		},
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		quitChan: make(chan struct{}),
	}, nil
}

// Start binds Addr and serves until Stop. Bind failures are returned.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to start relay server: %w", err)
	}
	return s.Serve(listener)
}

// Serve runs the accept loop on an already bound listener. It returns nil after Stop.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.quitChan:
		s.mu.Unlock()
		listener.Close()
		return nil
	default:
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("relay_server_started", "addr", listener.Addr().String())

	// accept connections in a loop until Stop closes the listener
	for {
		conn, err := listener.Accept()
		if err != nil {
			// a closed quit channel means the listener was closed on purpose
			select {
			case <-s.quitChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed unexpectedly: %w", err)
			}
			s.logger.Error("failed_to_accept_connection", "error", err)
			continue
		}

		// whitelist and accept limiter run before any byte is read
		if !s.admit(conn) {
			continue
		}

		// wg.Add under mu so Stop cannot start waiting between the quit
		// check and the Add
		s.mu.Lock()
		select {
		case <-s.quitChan:
			s.mu.Unlock()
			conn.Close()
			return nil
		default:
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go func(conn net.Conn) {
			defer s.wg.Done()
			s.handleConnection(conn)
		}(conn)
	}
}

// admit applies the access policy, closing rejected sockets.
func (s *Server) admit(conn net.Conn) bool {
	if err := s.policy.Admit(conn); err != nil {
		s.logger.Warn("connection_rejected",
			"remote_addr", conn.RemoteAddr().String(),
			"error", err,
		)
		conn.Close()
		return false
	}
	if err := s.policy.ApplyTTL(conn); err != nil {
		s.logger.Warn("set_ttl_failed",
			"remote_addr", conn.RemoteAddr().String(),
			"error", err,
		)
	}
	return true
}

// handle lifecycle of a single peer connection
func (s *Server) handleConnection(conn net.Conn) {
	// wrap the socket with the shared registry and pipe
	client := NewConnection(conn, s.shared, s.opts, s.logger)
	// the manager refuses new connections once shutdown has begun
	if !s.Manager.Add(client) {
		return
	}
	defer s.Manager.Remove(client) // unregister connection on exit
	client.Serve(s.ctx)            // handshake, role loop and teardown
}

// ListenAddr returns the bound address, or nil before Serve.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, wakes every receiver, closes every connection
// and waits for all connection goroutines to finish. Safe to call twice.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.quitChan)
		listener := s.listener
		s.mu.Unlock()

		if listener != nil {
			listener.Close() // unblock Accept
		}
		s.cancel()           // stop heartbeat loops
		s.Pipe.Close()       // wake every receiver blocked in Receive
		s.Manager.CloseAll() // unblock controller reads
		s.wg.Wait()          // wait for every connection goroutine to tear down
		s.logger.Info("relay_server_stopped")
	})
}
