// Package v1 provides HTTP API version 1.
package v1

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"specforge/internal/domain"
	"specforge/internal/domain/backup"
	"specforge/internal/domain/computed"
	"specforge/internal/domain/exchange"
	"specforge/internal/domain/importer"
	"specforge/internal/infrastructure/http/v1/handlers"
	"specforge/internal/infrastructure/http/v1/middleware"
	"specforge/internal/metadata"
	"specforge/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	Logger   *logger.Logger
	Registry *metadata.Registry
	// Build recompiles the schema; nil disables POST /schema/reload.
	Build metadata.BuildFunc
	// Installed runs after every successful reload.
	Installed func(ctx context.Context, s *metadata.Schema) error

	Store    domain.RecordStore
	Importer *importer.Service
	Exporter *exchange.Exporter
	Backup   *backup.Writer
	Restore  *backup.Reader

	// Optional collaborators.
	DB          handlers.Pinger
	ImportLog   handlers.ImportLog
	Scheduler   *computed.Scheduler
	Idempotency middleware.IdempotencyStore
	Gatherer    prometheus.Gatherer

	DefaultAcceptQL int
	Version         string
	Development     bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.NoRoute(handlers.NotFound)

	healthHandler := handlers.NewHealthHandler(cfg.Registry, cfg.DB, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	base := handlers.NewBaseHandler()
	v1 := router.Group("/api/v1")
	{
		read := v1.Group("")
		write := v1.Group("")
		if cfg.Idempotency != nil {
			write.Use(middleware.Idempotency(cfg.Idempotency))
		}

		handlers.NewSchemaHandler(base, cfg.Registry, cfg.Build, cfg.Installed).
			RegisterRoutes(v1.Group("/schema"))

		handlers.NewExchangeHandler(base, handlers.ExchangeConfig{
			Schemas:         cfg.Registry,
			Importer:        cfg.Importer,
			Exporter:        cfg.Exporter,
			Log:             cfg.ImportLog,
			Notifier:        notifier(cfg.Scheduler),
			DefaultAcceptQL: cfg.DefaultAcceptQL,
		}).RegisterRoutes(read, write)

		handlers.NewRecordsHandler(base, cfg.Registry, cfg.Store).
			RegisterRoutes(v1.Group("/records"))

		if cfg.Backup != nil && cfg.Restore != nil {
			handlers.NewAdminHandler(base, cfg.Backup, cfg.Restore, cfg.Scheduler, cfg.DefaultAcceptQL).
				RegisterRoutes(read, write)
		}
	}

	return router
}

// notifier avoids handing a typed nil to the interface.
func notifier(s *computed.Scheduler) handlers.ChangeNotifier {
	if s == nil {
		return nil
	}
	return s
}
