package router

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"tocanan.ai/geo/internal/http/handler"
	"tocanan.ai/geo/internal/http/middleware"
)

type Config struct {
	ServiceName string
	OTelEnabled bool
}

// SetupRoutes wires middleware and the API surface onto the engine.
func SetupRoutes(engine *gin.Engine, jobs *handler.JobHandler, health *handler.HealthHandler, cfg Config) {
	// Order matters: OTel creates the span, Recovery catches panics,
	// the logger then logs with trace context.
	if cfg.OTelEnabled {
		engine.Use(otelgin.Middleware(cfg.ServiceName))
	}
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/generate/async", jobs.SubmitGenerate)
		v1.POST("/rewrite/async", jobs.SubmitRewrite)
		v1.GET("/jobs/:job_id", jobs.GetStatus)
		v1.GET("/history", jobs.History)
		v1.GET("/health", health.Health)
		v1.GET("/health/deep", health.Deep)
	}
}
