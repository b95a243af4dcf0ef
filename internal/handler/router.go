package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/middleware"
	"github.com/noah-isme/timetable-api/internal/service"
	"github.com/noah-isme/timetable-api/pkg/logger"
	"github.com/noah-isme/timetable-api/pkg/middleware/requestid"
)

// RouterConfig collects everything the HTTP surface is built from.
type RouterConfig struct {
	APIPrefix  string
	EnableDocs bool
	Logger     *zap.Logger
	Metrics    *service.MetricsService
	Timetables *TimetableHandler
	Ledgers    *LedgerHandler
	Probes     *MetricsHandler
}

// NewRouter registers every route on a fresh gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestid.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(middleware.Metrics(cfg.Metrics, "/health", "/ready", "/metrics"))

	if cfg.Probes != nil {
		r.GET("/health", cfg.Probes.Health)
		r.GET("/ready", cfg.Probes.Ready)
		r.GET("/metrics", cfg.Probes.Prometheus)
	}
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	if h := cfg.Timetables; h != nil {
		timetables := api.Group("/timetables")
		timetables.POST("/generate", h.Generate)
		timetables.GET("/jobs/:id", h.JobStatus)
		timetables.GET("", h.List)
		timetables.GET("/:year/:semester/export", h.ExportAll)
		timetables.GET("/:year/:semester/batches/:batch", h.Get)
		timetables.GET("/:year/:semester/batches/:batch/export", h.Export)
		timetables.DELETE("/:year/:semester", h.Delete)
	}
	if h := cfg.Ledgers; h != nil {
		api.GET("/ledgers", h.Get)
		api.DELETE("/ledgers", h.Reset)
	}
	return r
}
