package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsforge/remedy/internal/agent"
	"github.com/opsforge/remedy/internal/api"
	"github.com/opsforge/remedy/internal/cache"
	"github.com/opsforge/remedy/internal/catalog"
	"github.com/opsforge/remedy/internal/config"
	"github.com/opsforge/remedy/internal/engine"
	"github.com/opsforge/remedy/internal/executor"
	"github.com/opsforge/remedy/internal/ledger"
	"github.com/opsforge/remedy/internal/metrics"
	"github.com/opsforge/remedy/internal/metricstore"
	"github.com/opsforge/remedy/internal/monitor"
	"github.com/opsforge/remedy/internal/registry"
	"github.com/opsforge/remedy/internal/repo"
	"github.com/opsforge/remedy/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting remedy-agent", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, using in-memory provider", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	catalogOpts := []catalog.Option{catalog.WithTrendWindow(cfg.Learning.TrendWindow)}
	var ledgerStore ledger.Store
	if cfg.Storage.Path != "" {
		kv, err := repo.OpenKV(cfg.Storage.Path)
		if err != nil {
			logger.Error("failed to open storage", slog.String("path", cfg.Storage.Path), slog.Any("error", err))
			os.Exit(1)
		}
		defer kv.Close()
		catalogOpts = append(catalogOpts, catalog.WithStore(repo.NewCatalogStore(kv)))
		ledgerStore = repo.NewLedgerStore(kv)
	}

	cat := catalog.New(logger, catalogOpts...)
	if err := cat.LoadPersisted(); err != nil {
		logger.Warn("catalog restore failed", slog.Any("error", err))
	}
	if err := cat.LoadSeed(cfg.Catalog.SeedPath); err != nil {
		logger.Warn("catalog seed load failed", slog.String("path", cfg.Catalog.SeedPath), slog.Any("error", err))
	}
	cat.SeedDefaults()

	led := ledger.New(logger, ledgerStore)
	if err := led.Restore(); err != nil {
		logger.Warn("ledger restore failed", slog.Any("error", err))
	}

	reg := registry.New(cfg.Services)
	store := metricstore.New(cfg.Monitor.WindowSize, cfg.Monitor.WindowDuration)
	client := repo.NewServiceClient(cfg.Monitor.FetchTimeout, cacheProvider, cfg.Monitor.CheckInterval*2)

	channels := agent.NewChannels(64)
	cooldown := engine.NewCooldownKeeper(cacheProvider, cfg.Decision.Cooldown)
	decision := engine.NewDecisionEngine(cfg.Decision, cat, led, cooldown, channels.Dispatch, utils.ComponentLogger(logger, "decision"))
	learning := engine.NewLearningEngine(cfg.Learning, cat, led, decision, utils.ComponentLogger(logger, "learning"))
	mon := monitor.New(cfg.Monitor, reg, store, client, channels.Events, utils.ComponentLogger(logger, "monitor"))
	exec := executor.New(cfg.Executor, reg, led, client, channels.Dispatch, channels.Outcomes, utils.ComponentLogger(logger, "executor"))

	app := agent.New(mon, decision, exec, learning, channels, logger)

	handlers := api.NewHandlers(reg, led, cat, decision, store, mon, logger)
	server, err := api.NewServer(cfg.Server, handlers)
	if err != nil {
		logger.Error("failed to create API server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	app.Start(ctx)

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("API server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	app.Stop()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("remedy-agent stopped")
}
