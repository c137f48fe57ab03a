// Package status exposes a read-only HTTP view of the relay directory.
package status

import (
	"context"
	"net/http"
	"time"

	"signalrelay/internal/relay"

	"github.com/gin-gonic/gin"
)

// Directory is the subset of the registry the status surface reads.
type Directory interface {
	List() []relay.Role
	ListControllers() []string
	ListReceivers() []string
}

// ConnectionCounter reports live sockets, including ones still in handshake.
type ConnectionCounter interface {
	Count() int
}

// PresenceSource reads the externally mirrored directory.
type PresenceSource interface {
	Snapshot(ctx context.Context) (map[string]relay.PresenceInfo, error)
}

const presenceReadTimeout = 2 * time.Second

type Handler struct {
	directory   Directory
	connections ConnectionCounter
	presence    PresenceSource // nil when no mirror is configured
}

func NewHandler(directory Directory, connections ConnectionCounter, presence PresenceSource) *Handler {
	return &Handler{directory: directory, connections: connections, presence: presence}
}

// RolesResponse is the body of GET /roles
type RolesResponse struct {
	Roles       []string `json:"roles"`
	Count       int      `json:"count"`
	Connections int      `json:"connections"`
}

// NamesResponse is the body of GET /roles/controllers and /roles/receivers
type NamesResponse struct {
	Names []string `json:"names"`
	Count int      `json:"count"`
}

// PresenceResponse is the body of GET /presence
type PresenceResponse struct {
	Presence map[string]relay.PresenceInfo `json:"presence"`
	Count    int                           `json:"count"`
}

// Health GET /healthz
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Roles GET /roles
func (h *Handler) Roles(c *gin.Context) {
	roles := h.directory.List()
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.String())
	}

	connections := 0
	if h.connections != nil {
		connections = h.connections.Count()
	}
	c.JSON(http.StatusOK, RolesResponse{
		Roles:       names,
		Count:       len(names),
		Connections: connections,
	})
}

// Controllers GET /roles/controllers
func (h *Handler) Controllers(c *gin.Context) {
	names := h.directory.ListControllers()
	c.JSON(http.StatusOK, NamesResponse{Names: names, Count: len(names)})
}

// Receivers GET /roles/receivers
func (h *Handler) Receivers(c *gin.Context) {
	names := h.directory.ListReceivers()
	c.JSON(http.StatusOK, NamesResponse{Names: names, Count: len(names)})
}

// Presence GET /presence
func (h *Handler) Presence(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence mirror is not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), presenceReadTimeout)
	defer cancel()
	snapshot, err := h.presence.Snapshot(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, PresenceResponse{Presence: snapshot, Count: len(snapshot)})
}

// NewRouter wires the handler into a gin engine.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.Health)
	router.GET("/presence", h.Presence)
	roles := router.Group("/roles")
	{
		roles.GET("", h.Roles)
		roles.GET("/controllers", h.Controllers)
		roles.GET("/receivers", h.Receivers)
	}
	return router
}
