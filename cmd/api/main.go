package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dermaglow/resolve/internal/api/handlers"
	"github.com/dermaglow/resolve/internal/api/routes"
	"github.com/dermaglow/resolve/internal/classifier"
	"github.com/dermaglow/resolve/internal/config"
	"github.com/dermaglow/resolve/internal/fallback"
	"github.com/dermaglow/resolve/internal/invoker"
	"github.com/dermaglow/resolve/internal/monitoring"
	"github.com/dermaglow/resolve/internal/taskqueue"
	"github.com/dermaglow/resolve/internal/timeout"
	"github.com/dermaglow/resolve/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	slogger := log.Logger

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	cls := classifier.New(slogger)
	for _, p := range cfg.Policies {
		if err := cls.RegisterPolicy(p.ToPolicy()); err != nil {
			log.Error("invalid timeout policy", "service_type", p.ServiceType, "error", err)
			os.Exit(1)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := monitoring.NewPromMetrics(registry)

	hub := monitoring.NewHub(monitoring.Config{
		BufferSize:          cfg.Monitoring.BufferSize,
		WindowSize:          cfg.Monitoring.WindowSize,
		WindowAge:           cfg.Monitoring.WindowAge,
		AggregationInterval: cfg.Monitoring.AggregationInterval,
		AlertThreshold:      cfg.Monitoring.AlertThreshold,
		TrendDelta:          cfg.Monitoring.TrendDelta,
		EventLogSize:        cfg.Monitoring.EventLogSize,
	}, monitoring.NewLogNotifier(slogger), prom, slogger)
	if err := hub.Start(context.Background()); err != nil {
		log.Error("failed to start monitoring hub", "error", err)
		os.Exit(1)
	}

	store, cache, err := buildStorage(cfg, slogger)
	if err != nil {
		log.Error("failed to initialize storage backend", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}

	engine := fallback.NewEngine(cache, fallback.Providers{Defaults: cfg.Defaults}, slogger)

	backends := invoker.NewRegistry()
	httpClient := &http.Client{}
	for serviceType, url := range cfg.Backends {
		backends.Register(serviceType, invoker.NewHTTPInvoker(url, httpClient))
		log.Info("registered service backend", "service_type", serviceType, "url", url)
	}

	queue := taskqueue.New(store, backends, cls, engine, hub, taskqueue.Config{
		Workers:        cfg.Queue.Workers,
		QueueCapacity:  cfg.Queue.Capacity,
		RetentionTTL:   cfg.Queue.RetentionTTL,
		GCInterval:     cfg.Queue.GCInterval,
		FallbackBudget: cfg.Queue.FallbackBudget,
	}, slogger)
	if err := queue.Start(context.Background()); err != nil {
		log.Error("failed to start task queue", "error", err)
		os.Exit(1)
	}

	manager := timeout.New(cls, backends, engine, queue, hub, timeout.Config{
		CacheTTL: cfg.Resolver.CacheTTL,
	}, slogger)

	router := gin.New()
	routes.Setup(router, cfg, log, routes.Dependencies{
		Manager:  manager,
		Queue:    queue,
		Hub:      hub,
		Registry: registry,
		Checks: map[string]handlers.HealthChecker{
			"queue": handlers.HealthCheckerFunc(func() (string, error) {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := queue.IsHealthy(ctx); err != nil {
					return "unhealthy", err
				}
				return "ready", nil
			}),
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("starting server",
			"host", cfg.Server.Host,
			"port", cfg.Server.Port,
			"env", cfg.Server.Env,
			"storage", cfg.Storage.Backend,
			"service_types", cls.ServiceTypes(),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	// Stop taking new tasks and let in-flight workers finish within the
	// shutdown budget, then flush the monitoring pipeline
	if err := queue.Stop(ctx); err != nil {
		log.Error("task queue did not drain cleanly", "error", err)
	}
	hub.Stop()

	log.Info("server exited")
}

// buildStorage wires the task store and result cache for the configured
// backend. Both live on the same Redis instance when redis is selected.
func buildStorage(cfg *config.Config, slogger *slog.Logger) (taskqueue.TaskStore, fallback.ResultCache, error) {
	switch cfg.Storage.Backend {
	case "redis":
		client, err := taskqueue.NewRedisClient(&cfg.Redis, slogger)
		if err != nil {
			return nil, nil, err
		}
		store, err := taskqueue.NewRedisStore(client, slogger)
		if err != nil {
			return nil, nil, err
		}
		cache, err := fallback.NewRedisCache(client, slogger)
		if err != nil {
			return nil, nil, err
		}
		return store, cache, nil
	default:
		return taskqueue.NewMemoryStore(), fallback.NewMemoryCache(), nil
	}
}
