// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"specforge/internal/core/apperror"
	"specforge/internal/infrastructure/http/v1/dto"
	"specforge/internal/infrastructure/http/v1/middleware"
	"specforge/internal/metadata"
)

// SchemaSource yields the active schema snapshot.
type SchemaSource interface {
	Current() *metadata.Schema
}

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds and validates JSON request body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// BindQuery binds and validates query parameters.
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid query parameters").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers error on Gin context and aborts request.
// Actual JSON response is produced by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// Entity resolves the :entity path parameter against the active schema.
func (h *BaseHandler) Entity(c *gin.Context, schemas SchemaSource) (*metadata.Schema, *metadata.Entity, bool) {
	sc := schemas.Current()
	if sc == nil {
		h.Error(c, apperror.NewConflict("no schema has been compiled yet"))
		return nil, nil, false
	}
	name := c.Param("entity")
	e, ok := sc.Entity(name)
	if !ok {
		h.Error(c, apperror.NewNotFound("entity", name))
		return nil, nil, false
	}
	return sc, e, true
}

// OK sends 200 response with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	middleware.CompleteIdempotency(c, http.StatusOK, data)
	c.JSON(http.StatusOK, data)
}

// Success sends success response.
func (h *BaseHandler) Success(c *gin.Context, message string) {
	h.OK(c, dto.SuccessResponse{Success: true, Message: message})
}
