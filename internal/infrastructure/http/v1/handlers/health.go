package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"specforge/internal/core/apperror"
)

// Pinger checks a backing database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	schemas SchemaSource
	db      Pinger
	version string
}

// NewHealthHandler creates a new health handler. db may be nil when rows
// live in memory.
func NewHealthHandler(schemas SchemaSource, db Pinger, version string) *HealthHandler {
	return &HealthHandler{schemas: schemas, db: db, version: version}
}

// Live handles liveness probe (is the process alive?).
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles readiness probe: a schema is installed and the database answers.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := map[string]string{}
	ready := true

	if sc := h.schemas.Current(); sc == nil {
		checks["schema"] = "not compiled"
		ready = false
	} else {
		checks["schema"] = "healthy"
	}

	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
			ready = false
		} else {
			checks["database"] = "healthy"
		}
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	info := gin.H{
		"app":     "specforge",
		"version": h.version,
	}
	if sc := h.schemas.Current(); sc != nil {
		info["schema"] = gin.H{
			"version":    sc.Version,
			"compiledAt": sc.CompiledAt,
			"entities":   len(sc.Order),
		}
	}
	c.JSON(http.StatusOK, info)
}

// NotFound renders unknown routes in the API error format.
func NotFound(c *gin.Context) {
	_ = c.Error(apperror.NewNotFound("route", c.Request.URL.Path))
}
