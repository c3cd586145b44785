package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"specforge/internal/core/apperror"
	"specforge/internal/core/id"
	"specforge/internal/domain"
	"specforge/internal/domain/lookup"
	"specforge/internal/infrastructure/http/v1/dto"
)

// RecordsHandler reads stored rows through the default read path.
type RecordsHandler struct {
	*BaseHandler
	schemas SchemaSource
	store   domain.RecordStore
}

// NewRecordsHandler creates a records handler.
func NewRecordsHandler(base *BaseHandler, schemas SchemaSource, store domain.RecordStore) *RecordsHandler {
	return &RecordsHandler{BaseHandler: base, schemas: schemas, store: store}
}

// RegisterRoutes registers row routes.
func (h *RecordsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:entity", h.List)
	rg.GET("/:entity/labels", h.Labels)
	rg.GET("/:entity/:id", h.Get)
}

// List returns one page of rows. Defective rows are hidden unless asked for.
// GET /api/v1/records/:entity?page=1&pageSize=50&include_defective=true
func (h *RecordsHandler) List(c *gin.Context) {
	_, e, ok := h.Entity(c, h.schemas)
	if !ok {
		return
	}
	var q dto.RecordsQuery
	if !h.BindQuery(c, &q) {
		return
	}
	q.Defaults()

	ctx := c.Request.Context()
	f := domain.ReadFilter{IncludeDefective: q.IncludeDefective}
	total, err := h.store.Count(ctx, e, f)
	if err != nil {
		h.Error(c, err)
		return
	}
	f.Limit = q.PageSize
	f.Offset = q.Offset()
	rows, err := h.store.List(ctx, e, f)
	if err != nil {
		h.Error(c, err)
		return
	}
	if rows == nil {
		rows = []domain.Row{}
	}
	h.OK(c, dto.RecordsResponse{
		Data:       rows,
		Pagination: dto.NewPaginationResponse(q.Page, q.PageSize, total),
	})
}

// Get returns one row by id, defective rows included.
// GET /api/v1/records/:entity/:id
func (h *RecordsHandler) Get(c *gin.Context) {
	_, e, ok := h.Entity(c, h.schemas)
	if !ok {
		return
	}
	rid, err := id.ParseRecord(c.Param("id"))
	if err != nil || !id.Valid(rid) {
		h.Error(c, apperror.NewValidation("id must be a positive integer").WithDetail("id", c.Param("id")))
		return
	}
	row, err := h.store.Get(c.Request.Context(), e, rid)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, row)
}

// Labels returns the rendered label of every readable row.
// GET /api/v1/records/:entity/labels
func (h *RecordsHandler) Labels(c *gin.Context) {
	sc, e, ok := h.Entity(c, h.schemas)
	if !ok {
		return
	}
	labels, err := lookup.NewBuilder(h.store, sc).Labels(c.Request.Context(), e.Name)
	if err != nil {
		h.Error(c, err)
		return
	}
	out := make(map[string]string, len(labels))
	for rid, label := range labels {
		out[strconv.FormatInt(rid, 10)] = label
	}
	h.OK(c, dto.LabelsResponse{Entity: e.Name, Labels: out})
}
