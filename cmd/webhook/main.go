package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"esphub/internal/config"
	"esphub/internal/httpserver"
	"esphub/internal/integration"
	"esphub/internal/logging"
	"esphub/internal/observability"
)

func main() {
	cfg := config.LoadWebhook()
	logging.Init("webhook", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := integration.Bootstrap(ctx, cfg.Storage, cfg.Providers, config.Fanout{})
	if err != nil {
		slog.Error("webhook bootstrap failed", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	observability.Register(prometheus.DefaultRegisterer)

	s := httpserver.New(rt.Ready)
	(&httpserver.Webhook{Pipeline: rt.Webhooks, MaxBodyBytes: cfg.MaxBodyBytes}).Register(s.Mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("webhook shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("webhook listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("webhook server failed", "err", err)
		os.Exit(1)
	}
}
