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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flarestack/flare-relay/internal/api"
	"github.com/flarestack/flare-relay/internal/cache"
	"github.com/flarestack/flare-relay/internal/config"
	"github.com/flarestack/flare-relay/internal/ingest"
	"github.com/flarestack/flare-relay/internal/lifecycle"
	"github.com/flarestack/flare-relay/internal/metrics"
	"github.com/flarestack/flare-relay/internal/models"
	"github.com/flarestack/flare-relay/internal/routing"
	"github.com/flarestack/flare-relay/internal/services"
	"github.com/flarestack/flare-relay/internal/store"
	"github.com/flarestack/flare-relay/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	// Local development convenience; missing .env files are fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting flare-relay", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	var archive store.Archive
	if cfg.Archive.Enabled {
		sqliteArchive, err := store.NewSQLiteArchive(cfg.Archive.Path)
		if err != nil {
			logger.Error("failed to open incident archive", slog.String("path", cfg.Archive.Path), slog.Any("error", err))
			os.Exit(1)
		}
		defer sqliteArchive.Close()
		archive = sqliteArchive
	}

	ingester := ingest.NewIngester(logger,
		ingest.WithBufferSize(cfg.Ingest.BufferSize),
		ingest.WithResultObserver(services.ObserveHandlerResults),
	)

	router := routing.NewRouter(logger, cfg.Routing.DefaultAgent)
	rules, err := routing.LoadRules(cfg.Routing.RulesPath)
	if err != nil {
		logger.Error("failed to load rule pack", slog.String("path", cfg.Routing.RulesPath), slog.Any("error", err))
		os.Exit(1)
	}
	if len(rules) == 0 {
		rules = routing.DefaultRules()
	}
	if err := router.AddRules(rules); err != nil {
		logger.Error("invalid routing rule", slog.Any("error", err))
		os.Exit(1)
	}
	registerAgents(router, rules, cfg.Routing.DefaultAgent, logger)

	machine := lifecycle.NewMachine(logger)

	hubOpts := []services.HubOption{
		services.WithCache(cacheProvider, cfg.Cache.EventTTL, cfg.Cache.IncidentTTL),
	}
	if archive != nil {
		hubOpts = append(hubOpts, services.WithArchive(archive))
	}
	hub := services.NewHub(logger, ingester, router, machine, hubOpts...)

	server := api.NewServer(cfg.Server, hub, logger, cfg.Auth.Secret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var grpcServer *api.GRPCServer
	if cfg.Server.GRPCAddress != "" {
		grpcServer, err = api.NewGRPCServer(cfg.Server.GRPCAddress)
		if err != nil {
			logger.Error("failed to create gRPC server", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			logger.Info("gRPC server listening", slog.String("address", cfg.Server.GRPCAddress))
			if serveErr := grpcServer.Start(); serveErr != nil {
				logger.Error("gRPC server exited", slog.Any("error", serveErr))
				stop()
			}
		}()
	}

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

	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.Address))
		if serveErr := server.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("flare-relay stopped")
}

// registerAgents installs a logging stub for each agent named by the rule
// pack. Real deployments replace these with live dispatch targets.
func registerAgents(router *routing.Router, rules []routing.Rule, defaultAgent string, logger *slog.Logger) {
	names := map[string]struct{}{defaultAgent: {}}
	for _, rule := range rules {
		names[rule.Agent] = struct{}{}
	}
	for name := range names {
		agent := name
		router.RegisterAgent(agent, func(_ context.Context, ev *models.Event) error {
			logger.Info("event delivered",
				slog.String("agent", agent),
				slog.String("event_id", ev.EventID),
				slog.String("event_type", string(ev.Type)))
			return nil
		})
	}
}
