package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"

	"github.com/cfx-labs/cfx-router/internal/auth"
	"github.com/cfx-labs/cfx-router/internal/concurrency"
	"github.com/cfx-labs/cfx-router/internal/config"
	"github.com/cfx-labs/cfx-router/internal/quota"
	"github.com/cfx-labs/cfx-router/internal/security"
	"github.com/cfx-labs/cfx-router/internal/server"
	"github.com/cfx-labs/cfx-router/internal/storage/sqlite"
	"github.com/cfx-labs/cfx-router/internal/telemetry"
	"github.com/cfx-labs/cfx-router/internal/upstream"
	"github.com/cfx-labs/cfx-router/internal/worker"
)

func run() error {
	cfg := config.FromEnv()

	setupLogging(cfg.LogFormat)

	// Secrets are validated before anything opens: a router that cannot hash
	// keys must not serve a single request.
	hasher, err := security.New(cfg.HashSalt, cfg.KeyHashPepper)
	if err != nil {
		return err
	}

	slog.Info("starting cfx-router", "version", version, "addr", cfg.Addr)

	store, err := sqlite.New(cfg.StoreURL)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
			Endpoint:   cfg.OTLPEndpoint,
			Service:    "cfx-router",
			Version:    version,
			SampleRate: 1.0,
		})
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	stages := config.LoadStages(cfg.StagesPath)

	apiKeyAuth, err := auth.NewAPIKeyAuth(hasher, store)
	if err != nil {
		return err
	}

	resolver := &dnscache.Resolver{}
	httpClient := &http.Client{
		Transport: upstream.NewTransport(resolver, cfg.ConnectTimeout),
		Timeout:   cfg.RequestTimeout,
	}
	upstreamClient := upstream.New(cfg.UpstreamBaseURL, httpClient)

	logWriter := worker.NewLogWriter(store, metrics.LogQueueDrops.Inc)

	handler := chi.NewRouter()
	handler.Mount("/", server.New(server.Deps{
		Auth:        apiKeyAuth,
		Stages:      stages,
		Quota:       quota.NewChecker(store, store, cfg.DailyRequestLimit),
		Slots:       concurrency.NewLimiter(store, cfg.StreamingConcurrencyCap),
		Upstream:    upstreamClient,
		Logs:        logWriter,
		ReadyCheck:  store.Ping,
		Metrics:     metrics,
		CORSOrigins: cfg.CORSAllowedOrigins,
	}))
	server.MountMetrics(handler, reg)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
		// WriteTimeout stays unset: SSE responses are open-ended and bounded
		// by the upstream request timeout instead.
		ReadHeaderTimeout: cfg.ConnectTimeout,
	}

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	gauges := worker.NewGaugeSampler(0, func() {
		metrics.BreakerState.Set(float64(upstreamClient.BreakerState()))
		metrics.LogQueueDepth.Set(float64(logWriter.Depth()))
	})

	runner := worker.NewRunner(logWriter, gauges)
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("cfx-router ready", "addr", cfg.Addr, "upstream", cfg.UpstreamBaseURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	stopWorkers()
	<-workerErr

	slog.Info("cfx-router stopped")
	return nil
}

func setupLogging(format string) {
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))
}
