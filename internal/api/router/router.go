package router

import (
	"net/http"

	"github.com/RecSpeed/firmwareextrs/internal/api/handler"
	"github.com/RecSpeed/firmwareextrs/shared/metrics"
	"github.com/gin-gonic/gin"
)

// Options holds the optional parts of the router
type Options struct {
	Metrics        metrics.Metrics
	MetricsHandler http.Handler
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware(opts.Metrics))
	r.Use(CORSMiddleware())

	extractHandler := handler.NewExtractHandler(deps)

	r.GET("/health", extractHandler.Health)
	if opts.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}

	// GET /?url=...&type=... kept for existing clients
	r.GET("/", extractHandler.Extract)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/extract - Resolve or start an extraction
		v1.GET("/extract", extractHandler.Extract)
	}

	return r
}
