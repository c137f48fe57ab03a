package relay

import (
	"log/slog"
	"sync"
)

// ConnectionManager tracks live connections so they can be counted and closed on shutdown.
type ConnectionManager struct {
	connections map[string]*Connection // key: connection ID
	mu          sync.RWMutex           // RWMutex: Count is read by the status surface while connections come and go
	logger      *slog.Logger
	closed      bool // set by CloseAll, later arrivals are closed immediately
}

// constructor for ConnectionManager
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		logger:      logger,
	}
}

// Add registers a connection. It returns false, and closes the connection,
// once the manager has been shut down.
func (m *ConnectionManager) Add(c *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	// a socket accepted just before Stop must not outlive CloseAll
	if m.closed {
		c.Close()
		return false
	}
	m.connections[c.ID] = c
	m.logger.Debug("client_added", "conn_id", c.ID)
	return true
}

func (m *ConnectionManager) Remove(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, c.ID)
	m.logger.Debug("client_removed", "conn_id", c.ID)
}

// Count returns the number of live connections, identified or not.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll closes every live connection and refuses new ones.
func (m *ConnectionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, c := range m.connections {
		// closing the socket is enough, Serve notices and tears down
		c.Close()
		m.logger.Info("client_connection_closed", "conn_id", id)
	}
	// connections remove themselves as their goroutines unwind
}
