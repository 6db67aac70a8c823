package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Pantry/internal/catalog"
	"Pantry/internal/config"
	"Pantry/internal/foodapi"
	"Pantry/internal/server"
	"Pantry/internal/session"
	"Pantry/internal/shop"
	"Pantry/pkg/kit"
)

const (
	sessionRateWindow = time.Minute
	janitorEvery      = time.Minute
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := kit.NewLogger(service, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := shop.OpenKV(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeKV(); err != nil {
			log.Warn("close store failed", zap.Error(err))
		}
	}()
	log.Info("store ready", zap.String("driver", cfg.Store.Driver))

	reg := prometheus.NewRegistry()

	foods := foodapi.NewClient(foodapi.Config{
		BaseURL:    cfg.FoodAPI.BaseURL,
		Timeout:    cfg.FoodAPI.Timeout,
		UserAgent:  cfg.FoodAPI.UserAgent,
		Log:        log.Named("foodapi"),
		Registerer: reg,
	})

	sessions := server.NewRegistry(kv, foods, catalog.Options{
		Debounce:     cfg.Catalog.Debounce,
		FetchTimeout: cfg.Catalog.FetchTimeout,
	}, log.Named("session"), reg)
	defer sessions.Close()

	s := &server.Server{
		Log:      log,
		KV:       kv,
		Upstream: foods,
		Sessions: sessions,
		Tokens:   session.NewTokenMaker(cfg.Session.Secret),
		TokenTTL: cfg.Session.TTL,
		Limiter:  kit.NewIPRateLimiter(cfg.Session.RateLimit, sessionRateWindow),
	}

	go s.RunJanitor(ctx, cfg.Session.Idle, janitorEvery)

	h := server.NewHandler(s, server.HTTPDeps{
		Log:          log,
		Service:      service,
		Registry:     reg,
		MetricsToken: cfg.Metrics.Token,
	})

	return kit.RunHTTPServer(ctx, cfg.Server.Addr(), h, log)
}
