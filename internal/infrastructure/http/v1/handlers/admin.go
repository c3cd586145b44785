package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"specforge/internal/core/apperror"
	"specforge/internal/domain/backup"
	"specforge/internal/domain/computed"
	"specforge/internal/infrastructure/http/v1/dto"
)

// AdminHandler serves backups and manual computed-rule runs.
type AdminHandler struct {
	*BaseHandler
	writer    *backup.Writer
	reader    *backup.Reader
	scheduler *computed.Scheduler
	acceptQL  int
}

// NewAdminHandler creates an admin handler. scheduler may be nil.
func NewAdminHandler(base *BaseHandler, writer *backup.Writer, reader *backup.Reader, scheduler *computed.Scheduler, acceptQL int) *AdminHandler {
	return &AdminHandler{BaseHandler: base, writer: writer, reader: reader, scheduler: scheduler, acceptQL: acceptQL}
}

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(read, write *gin.RouterGroup) {
	read.GET("/backup", h.Backup)
	write.POST("/restore", h.Restore)
	read.GET("/computed", h.Computed)
	write.POST("/computed/:entity/:column/run", h.RunComputed)
}

// Backup streams a compressed dump of every entity.
// GET /api/v1/backup
func (h *AdminHandler) Backup(c *gin.Context) {
	name := fmt.Sprintf("specforge-%s.jsonl.zst", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "application/zstd")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Status(http.StatusOK)
	if _, err := h.writer.Write(c.Request.Context(), c.Writer); err != nil {
		// headers are gone; the truncated stream fails to decompress
		_ = c.Error(err)
		c.Abort()
	}
}

// Restore replays a dump uploaded as the request body.
// POST /api/v1/restore?accept_ql=N&dry_run=true
func (h *AdminHandler) Restore(c *gin.Context) {
	var q dto.ImportQuery
	if !h.BindQuery(c, &q) {
		return
	}
	opts := backup.RestoreOptions{AcceptQL: h.acceptQL, DryRun: q.DryRun}
	if q.AcceptQL != nil {
		opts.AcceptQL = *q.AcceptQL
	}
	results, err := h.reader.Restore(c.Request.Context(), c.Request.Body, opts)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ImportAllResponse{Results: results})
}

// Computed lists the periodic rules currently scheduled.
// GET /api/v1/computed
func (h *AdminHandler) Computed(c *gin.Context) {
	scheduled := []string{}
	if h.scheduler != nil {
		scheduled = append(scheduled, h.scheduler.Scheduled()...)
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": scheduled})
}

// RunComputed refreshes one computed column now.
// POST /api/v1/computed/:entity/:column/run
func (h *AdminHandler) RunComputed(c *gin.Context) {
	if h.scheduler == nil {
		h.Error(c, apperror.NewConflict("computed scheduler is not enabled"))
		return
	}
	if err := h.scheduler.Run(c.Request.Context(), c.Param("entity"), c.Param("column")); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, c.Param("entity")+"."+c.Param("column")+" refreshed")
}
