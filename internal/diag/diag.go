// Package diag implements a read-only HTTP introspection surface for a
// running resolver instance: health, engine counters with a host
// resource sample, and configured upstreams. It never accepts writes — operators change
// configuration through internal/config and internal/store, not
// through this surface.
//
// @title rdnsloop Diagnostics API
// @version 1.0
// @description Read-only introspection for a running resolver instance.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8853
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package diag

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/jroosing/rdnsloop/internal/stats"
)

// ServerInfo is a read-only view of one configured upstream.
type ServerInfo struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Priority int    `json:"priority"`
}

// Source supplies the live state diag renders; cmd/rdnsloopd's
// diagSource adapter over a Resolver (or any test double) implements
// it without diag importing the root package,
// keeping this an inbound-only dependency.
type Source interface {
	Servers() []ServerInfo
	Counters() *stats.Counters
}

// Handler holds the dependencies diag's routes read from.
type Handler struct {
	source    Source
	logger    *slog.Logger
	startTime time.Time
	apiKey    string

	mu sync.RWMutex
}

// NewHandler builds a Handler over source. apiKey, if non-empty,
// requires clients to send a matching X-API-Key header.
func NewHandler(source Source, logger *slog.Logger, apiKey string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		source:    source,
		logger:    logger,
		startTime: time.Now(),
		apiKey:    apiKey,
	}
}

// RequireAPIKey enforces a shared-secret API key via X-API-Key when
// apiKey is non-empty; it's a no-op middleware otherwise.
func RequireAPIKey(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" || c.GetHeader("X-API-Key") == apiKey {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

// NewRouter builds the gin.Engine serving h's routes plus the Swagger
// UI at /swagger/*any.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	if h.apiKey != "" {
		v1.Use(RequireAPIKey(h.apiKey))
	}

	v1.GET("/health", h.Health)
	v1.GET("/stats", h.Stats)
	v1.GET("/servers", h.ListServers)

	return r
}

// StatusResponse is the /health payload.
type StatusResponse struct {
	Status string `json:"status"`
}

// Health godoc
// @Summary Health check
// @Produce json
// @Success 200 {object} StatusResponse
// @Security ApiKeyAuth
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// StatsResponse is the /stats payload: engine counters plus a short
// host resource sample.
type StatsResponse struct {
	UptimeSeconds int64              `json:"uptime_seconds"`
	Engine        stats.Snapshot     `json:"engine"`
	Host          stats.HostSnapshot `json:"host"`
}

// Stats godoc
// @Summary Resolver engine and host statistics
// @Produce json
// @Success 200 {object} StatsResponse
// @Security ApiKeyAuth
// @Router /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	resp := StatsResponse{
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Host:          stats.SampleHost(100 * time.Millisecond),
	}
	if h.source != nil {
		if counters := h.source.Counters(); counters != nil {
			resp.Engine = counters.Snapshot()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ListServers godoc
// @Summary Configured upstream servers
// @Produce json
// @Success 200 {array} ServerInfo
// @Security ApiKeyAuth
// @Router /servers [get]
func (h *Handler) ListServers(c *gin.Context) {
	var servers []ServerInfo
	if h.source != nil {
		servers = h.source.Servers()
	}
	c.JSON(http.StatusOK, servers)
}
