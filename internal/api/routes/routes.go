package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dermaglow/resolve/internal/api/handlers"
	"github.com/dermaglow/resolve/internal/api/middleware"
	"github.com/dermaglow/resolve/internal/config"
	"github.com/dermaglow/resolve/internal/monitoring"
	"github.com/dermaglow/resolve/internal/taskqueue"
	"github.com/dermaglow/resolve/internal/timeout"
	"github.com/dermaglow/resolve/pkg/logger"
)

// Dependencies carries the wired components the routes expose
type Dependencies struct {
	Manager  *timeout.Manager
	Queue    *taskqueue.Queue
	Hub      *monitoring.Hub
	Registry *prometheus.Registry
	Checks   map[string]handlers.HealthChecker
}

func Setup(router *gin.Engine, cfg *config.Config, log *logger.Logger, deps Dependencies) {
	setupMiddleware(router, cfg, log)
	setupRoutes(router, log, deps)
}

func setupMiddleware(router *gin.Engine, cfg *config.Config, log *logger.Logger) {
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))
	router.Use(log.GinLogger())
	router.Use(log.GinRecovery())
	router.Use(middleware.ErrorHandler())
}

func setupRoutes(router *gin.Engine, log *logger.Logger, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	for name, check := range deps.Checks {
		healthHandler.AddHealthCheck(name, check)
	}

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Readiness)

	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	executeHandler := handlers.NewExecuteHandler(deps.Manager, log)
	taskHandler := handlers.NewTaskHandler(deps.Queue, log)
	metricsHandler := handlers.NewMetricsHandler(deps.Hub)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/execute", executeHandler.Execute)

		tasks := v1.Group("/tasks")
		{
			tasks.GET("/:id", taskHandler.Get)
			tasks.DELETE("/:id", taskHandler.Cancel)
		}
		v1.GET("/queue/stats", taskHandler.Stats)

		metrics := v1.Group("/metrics")
		{
			metrics.GET("/events", metricsHandler.RecentEvents)
			metrics.GET("/:serviceType", metricsHandler.ServiceMetrics)
		}
	}
}
