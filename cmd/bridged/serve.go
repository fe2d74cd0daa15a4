package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	bridge "github.com/hglenn2k/azf2s-bridge"
	"github.com/hglenn2k/azf2s-bridge/internal/logger"
	"github.com/hglenn2k/azf2s-bridge/internal/metric"
	"github.com/hglenn2k/azf2s-bridge/internal/server"
	"github.com/hglenn2k/azf2s-bridge/internal/sessions"
	"github.com/hglenn2k/azf2s-bridge/internal/store"
	"github.com/hglenn2k/azf2s-bridge/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	if cfgPath == "" {
		cfgPath = os.Getenv("BRIDGE_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = fallbackConfigPath
	}

	cfg, err := bridge.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Debug)
	defer func() { _ = log.Sync() }()

	var (
		metrics            metric.Metrics = metric.NewNop()
		telemetryShutdowns []func(context.Context) error
	)

	if cfg.Metrics.Enabled {
		switch cfg.Metrics.Provider {
		case "prometheus":
			metrics = metric.NewPrometheus()
		case "otel":
			mp, err := telemetry.NewMeterProvider(context.Background(), cfg.Name, cfg.Metrics.OTLPEndpoint)
			if err != nil {
				return err
			}

			otel.SetMeterProvider(mp)
			telemetryShutdowns = append(telemetryShutdowns, mp.Shutdown)

			if metrics, err = metric.NewOTel(mp.Meter(cfg.Name)); err != nil {
				return err
			}
		}
	}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(context.Background(), cfg.Name, cfg.Tracing.OTLPEndpoint)
		if err != nil {
			return err
		}

		otel.SetTracerProvider(tp)
		telemetryShutdowns = append(telemetryShutdowns, tp.Shutdown)
	}

	manager := store.New(cfg.Store, cfg.ConnectPolicy(), cfg.StorePolicy(), log.Named("store"), metrics)
	if !manager.Initialize() {
		return fmt.Errorf("store initialization failed: %v", manager.State().LastError)
	}

	tokens := bridge.NewTokenCache(cfg.Upstream, cfg.NetworkPolicy(), log.Named("tokens"))

	deps := server.Deps{
		Bridge:   bridge.NewBridge(cfg.Upstream, tokens, cfg.NetworkPolicy(), log.Named("bridge")),
		Forward:  bridge.NewForwarder(cfg.Upstream, tokens, cfg.NetworkPolicy(), log.Named("forwarder"), metrics),
		Sessions: sessions.NewStore(manager, cfg.Session.TTL, log.Named("sessions")),
		Cookies:  sessions.NewCookieManager(cfg.Session),
		Store:    manager,
		Metrics:  metrics,
	}

	srv := server.New(cfg, deps, log.Named("server"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting", zap.Int("port", cfg.Server.Port), zap.String("upstream", cfg.Upstream.BaseURL))

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint:mnd // internal timeout
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		}

		if err := manager.Disconnect(); err != nil {
			log.Warn("store disconnect failed", zap.Error(err))
		}

		for _, shutdown := range telemetryShutdowns {
			if err := shutdown(shutdownCtx); err != nil {
				log.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}

		return nil
	})

	if err = g.Wait(); err != nil {
		return err
	}

	log.Info("server stopped")

	return nil
}
