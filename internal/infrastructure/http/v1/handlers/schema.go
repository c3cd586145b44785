package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"specforge/internal/core/apperror"
	"specforge/internal/infrastructure/http/v1/dto"
	"specforge/internal/infrastructure/storage/postgres"
	"specforge/internal/metadata"
	"specforge/pkg/logger"
)

// SchemaHandler exposes the compiled schema and recompiles it on demand.
type SchemaHandler struct {
	*BaseHandler
	registry *metadata.Registry
	build    metadata.BuildFunc
	// installed runs after a successful reload, e.g. to migrate the store.
	installed func(ctx context.Context, s *metadata.Schema) error
}

// NewSchemaHandler creates a schema handler. build may be nil, which
// disables reloads.
func NewSchemaHandler(base *BaseHandler, registry *metadata.Registry, build metadata.BuildFunc, installed func(ctx context.Context, s *metadata.Schema) error) *SchemaHandler {
	return &SchemaHandler{BaseHandler: base, registry: registry, build: build, installed: installed}
}

// RegisterRoutes registers schema routes.
func (h *SchemaHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.Get)
	rg.GET("/ddl", h.DDL)
	rg.GET("/entities/:entity", h.Entity)
	rg.POST("/reload", h.Reload)
}

// Get returns the schema summary.
// GET /api/v1/schema
func (h *SchemaHandler) Get(c *gin.Context) {
	sc, err := h.registry.Must()
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromSchema(sc))
}

// Entity returns one entity definition.
// GET /api/v1/schema/entities/:entity
func (h *SchemaHandler) Entity(c *gin.Context) {
	_, e, ok := h.BaseHandler.Entity(c, h.registry)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.FromEntity(e))
}

// DDL renders the PostgreSQL DDL of the active schema as plain SQL.
// GET /api/v1/schema/ddl
func (h *SchemaHandler) DDL(c *gin.Context) {
	sc, err := h.registry.Must()
	if err != nil {
		h.Error(c, err)
		return
	}
	c.String(http.StatusOK, postgres.GenerateDDL(sc).String())
}

// Reload recompiles the entity documents. A failed compile keeps the
// previous snapshot active and reports the compile error.
// POST /api/v1/schema/reload
func (h *SchemaHandler) Reload(c *gin.Context) {
	if h.build == nil {
		h.Error(c, apperror.NewConflict("schema reload is not configured"))
		return
	}
	ctx := c.Request.Context()
	sc, err := h.registry.Reload(ctx, h.build)
	if err != nil {
		h.Error(c, err)
		return
	}
	if h.installed != nil {
		if err := h.installed(ctx, sc); err != nil {
			logger.Error(ctx, "schema installed but follow-up failed", "version", sc.Version, "error", err)
			h.Error(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, dto.FromSchema(sc))
}
