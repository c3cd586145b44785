package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"specforge/internal/domain/exchange"
	"specforge/internal/domain/importer"
	"specforge/internal/infrastructure/http/v1/dto"
	"specforge/pkg/logger"
)

// ImportLog lists recent batch results.
type ImportLog interface {
	Recent(ctx context.Context, entity string, limit int) ([]importer.Result, error)
}

// ChangeNotifier is told about entities whose rows a batch changed.
type ChangeNotifier interface {
	Changed(ctx context.Context, entity string) error
}

// ExchangeConfig wires the exchange handler.
type ExchangeConfig struct {
	Schemas  SchemaSource
	Importer *importer.Service
	Exporter *exchange.Exporter
	// Log and Notifier are optional.
	Log      ImportLog
	Notifier ChangeNotifier
	// DefaultAcceptQL applies when a request names no accept_ql.
	DefaultAcceptQL int
}

// ExchangeHandler imports and exports records.
type ExchangeHandler struct {
	*BaseHandler
	cfg ExchangeConfig
}

// NewExchangeHandler creates an exchange handler.
func NewExchangeHandler(base *BaseHandler, cfg ExchangeConfig) *ExchangeHandler {
	return &ExchangeHandler{BaseHandler: base, cfg: cfg}
}

// RegisterRoutes registers import and export routes. Mutating routes go on
// the write group so idempotency applies to them only.
func (h *ExchangeHandler) RegisterRoutes(read, write *gin.RouterGroup) {
	write.POST("/import", h.ImportAll)
	write.POST("/import/:entity", h.Import)
	read.GET("/export/:entity", h.Export)
	read.GET("/import-log", h.Log)
}

func (h *ExchangeHandler) acceptQL(q dto.ImportQuery) int {
	if q.AcceptQL != nil {
		return *q.AcceptQL
	}
	return h.cfg.DefaultAcceptQL
}

// Import loads records of one entity.
// POST /api/v1/import/:entity?accept_ql=N&dry_run=true
func (h *ExchangeHandler) Import(c *gin.Context) {
	_, e, ok := h.Entity(c, h.cfg.Schemas)
	if !ok {
		return
	}
	var q dto.ImportQuery
	if !h.BindQuery(c, &q) {
		return
	}
	var req dto.ImportRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.cfg.Importer.Load(c.Request.Context(), importer.Batch{
		Entity:   e.Name,
		Records:  dto.ToRecords(req.Records),
		AcceptQL: h.acceptQL(q),
		DryRun:   q.DryRun,
		Pending:  dto.ToPending(req.Pending),
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.notify(c.Request.Context(), res)
	h.OK(c, res)
}

// ImportAll loads several entities in dependency order.
// POST /api/v1/import?accept_ql=N&dry_run=true
func (h *ExchangeHandler) ImportAll(c *gin.Context) {
	var q dto.ImportQuery
	if !h.BindQuery(c, &q) {
		return
	}
	var req dto.ImportAllRequest
	if !h.BindJSON(c, &req) {
		return
	}

	batches := make([]importer.Batch, len(req.Batches))
	for i, b := range req.Batches {
		batches[i] = importer.Batch{
			Entity:   b.Entity,
			Records:  dto.ToRecords(b.Records),
			AcceptQL: h.acceptQL(q),
			DryRun:   q.DryRun,
		}
	}
	results, err := h.cfg.Importer.LoadAll(c.Request.Context(), batches)
	if err != nil {
		h.Error(c, err)
		return
	}
	for _, res := range results {
		h.notify(c.Request.Context(), res)
	}
	h.OK(c, dto.ImportAllResponse{Results: results})
}

func (h *ExchangeHandler) notify(ctx context.Context, res *importer.Result) {
	if h.cfg.Notifier == nil || res.DryRun || res.Loaded+res.Updated == 0 {
		return
	}
	if err := h.cfg.Notifier.Changed(ctx, res.Entity); err != nil {
		logger.Warn(ctx, "computed refresh after import failed", "entity", res.Entity, "error", err)
	}
}

// Export returns the records of one entity in exchange form.
// GET /api/v1/export/:entity?include_defective=true
func (h *ExchangeHandler) Export(c *gin.Context) {
	_, e, ok := h.Entity(c, h.cfg.Schemas)
	if !ok {
		return
	}
	var q dto.ExportQuery
	if !h.BindQuery(c, &q) {
		return
	}
	records, err := h.cfg.Exporter.Export(c.Request.Context(), e.Name, exchange.Options{IncludeDefective: q.IncludeDefective})
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ExportResponse{Entity: e.Name, Records: records})
}

// Log lists recent committed batches, newest first.
// GET /api/v1/import-log?entity=Project&limit=20
func (h *ExchangeHandler) Log(c *gin.Context) {
	if h.cfg.Log == nil {
		c.JSON(http.StatusOK, dto.ImportLogResponse{Results: []importer.Result{}})
		return
	}
	var q struct {
		Entity string `form:"entity"`
		Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
	}
	if !h.BindQuery(c, &q) {
		return
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	results, err := h.cfg.Log.Recent(c.Request.Context(), q.Entity, q.Limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	if results == nil {
		results = []importer.Result{}
	}
	c.JSON(http.StatusOK, dto.ImportLogResponse{Entity: q.Entity, Results: results})
}
