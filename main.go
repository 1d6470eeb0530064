package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/app"
	"github.com/Kocoro-lab/deepresearch/internal/circuitbreaker"
	"github.com/Kocoro-lab/deepresearch/internal/config"
	"github.com/Kocoro-lab/deepresearch/internal/health"
	"github.com/Kocoro-lab/deepresearch/internal/httpapi"
	"github.com/Kocoro-lab/deepresearch/internal/launcher"
	"github.com/Kocoro-lab/deepresearch/internal/registry"
	"github.com/Kocoro-lab/deepresearch/internal/temporal"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := getEnvOrDefault("RESEARCH_CONFIG", "config/research.yaml")
	if _, err := os.Stat(configPath); err != nil {
		configPath = ""
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Service)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	for _, w := range cfg.Warnings() {
		logger.Warn("Configuration warning", zap.String("warning", w))
	}

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	circuitbreaker.StartMetricsCollection(ctx, 10*time.Second)

	// ------------------------------------------------------------------
	// Health endpoints come up first so health checks answer while the rest of
	// the process (Temporal in particular) is still starting.
	// ------------------------------------------------------------------
	hm := health.NewManager(logger)
	adminServer := health.StartHealthServer(hm, cfg.Service.HealthPort, logger)

	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal("Failed to build research engine", zap.Error(err))
	}
	defer a.Close()

	registerCheckers(hm, a, logger)

	// Model identities and rate limits reload without a restart.
	cfgMgr, err := config.NewManager(cfg.Service.ConfigDir, logger)
	if err != nil {
		logger.Warn("Config manager init failed; model hot reload disabled", zap.Error(err))
	} else {
		cfgMgr.WatchModels(cfg.Service.ModelsFile, a.ApplyModels)
		if v := os.Getenv("CONFIG_POLLING_INTERVAL"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				cfgMgr.EnablePolling(d)
			}
		}
		if err := cfgMgr.Start(ctx); err != nil {
			logger.Warn("Config manager start failed", zap.Error(err))
		}
		defer cfgMgr.Stop()
	}

	// ------------------------------------------------------------------
	// Launcher: in-process goroutines, or Temporal workflows (optionally
	// with a worker in this process).
	// ------------------------------------------------------------------
	var (
		jobLauncher launcher.Launcher
		local       *launcher.Local
		w           worker.Worker
	)
	switch cfg.Launcher.Kind {
	case launcher.KindTemporal:
		tClient := dialTemporal(ctx, cfg.Launcher, logger)
		if tClient == nil {
			return
		}
		defer tClient.Close()
		_ = hm.RegisterChecker(health.NewTemporalHealthChecker(tClient))
		jobLauncher = launcher.NewTemporal(tClient, cfg.Launcher.TaskQueue, a.LauncherStore(), logger)

		if cfg.Launcher.RunWorker {
			w = worker.New(tClient, cfg.Launcher.TaskQueue, worker.Options{
				MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACTIVITY_CONCURRENCY", 10),
				MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WORKFLOW_CONCURRENCY", 10),
			})
			reg := registry.NewResearchRegistry(a.Components, logger)
			if err := reg.RegisterWorkflows(w); err != nil {
				logger.Fatal("Failed to register workflows", zap.Error(err))
			}
			if err := reg.RegisterActivities(w); err != nil {
				logger.Fatal("Failed to register activities", zap.Error(err))
			}
			if err := w.Start(); err != nil {
				logger.Fatal("Failed to start worker", zap.Error(err))
			}
			logger.Info("Temporal worker started", zap.String("task_queue", cfg.Launcher.TaskQueue))
		}
	default:
		local = a.LocalLauncher()
		jobLauncher = local
	}

	// ------------------------------------------------------------------
	// Research API and metrics
	// ------------------------------------------------------------------
	var reports httpapi.Reports
	if a.Archive != nil {
		reports = a.Archive
	}
	var clarifier httpapi.Clarifier = a.Clarifier
	apiMux := http.NewServeMux()
	httpapi.NewResearchHandler(a.DB, jobLauncher, clarifier, reports, a.Streams,
		httpapi.Defaults{Breadth: cfg.Research.Breadth, Depth: cfg.Research.Depth}, logger).RegisterRoutes(apiMux)
	health.NewHTTPHandler(hm, logger).RegisterRoutes(apiMux)

	apiServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           apiMux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		logger.Info("Research API listening", zap.Int("port", cfg.Service.HTTPPort), zap.String("launcher", jobLauncher.Name()))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Research API server failed", zap.Error(err))
			stop()
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Service.MetricsPort), Handler: metricsMux}
	go func() {
		logger.Info("Metrics server listening", zap.Int("port", cfg.Service.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}()

	_ = hm.Start(ctx)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = apiServer.Shutdown(shutdownCtx)
	if local != nil {
		if err := local.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Local jobs did not stop in time", zap.Error(err))
		}
	}
	if w != nil {
		w.Stop()
	}
	_ = hm.Stop()
	_ = metricsServer.Shutdown(shutdownCtx)
	_ = adminServer.Shutdown(shutdownCtx)
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
	logger.Info("Research service stopped")
}

func newLogger(svc config.ServiceConfig) (*zap.Logger, error) {
	var zc zap.Config
	if svc.Environment == "development" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if svc.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(svc.LogLevel)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

func registerCheckers(hm *health.Manager, a *app.App, logger *zap.Logger) {
	cfg := a.Config
	_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(a.DB, logger))
	if a.Redis != nil {
		_ = hm.RegisterChecker(health.NewRedisHealthChecker(a.Redis, a.RedisHook.Breaker(), logger))
	}
	if base := cfg.LLM.Service.BaseURL; base != "" {
		_ = hm.RegisterChecker(health.NewHTTPHealthChecker("llm_service", health.JoinURL(base, "health"), false))
	}
	if a.VectorDB != nil {
		_ = hm.RegisterChecker(health.NewHTTPHealthChecker("vectordb", health.JoinURL(cfg.VectorDB.BaseURL, "healthz"), false))
	}
	if a.Archive != nil {
		_ = hm.RegisterChecker(health.NewCustomHealthChecker("archive", false, 5*time.Second, a.Archive.EnsureBucket))
	}
}

// dialTemporal waits for the frontend port, then dials with backoff. It
// returns nil when ctx ends first.
func dialTemporal(ctx context.Context, cfg config.LauncherConfig, logger *zap.Logger) client.Client {
	host := cfg.TemporalHost
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", host, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", host), zap.Int("attempt", i))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
	for attempt := 1; ; attempt++ {
		tClient, err := client.Dial(client.Options{
			HostPort:  host,
			Namespace: cfg.Namespace,
			Logger:    temporal.NewZapAdapter(logger),
		})
		if err == nil {
			return tClient
		}
		delay := time.Duration(min(attempt, 15)) * time.Second
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", host),
			zap.Duration("sleep", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
