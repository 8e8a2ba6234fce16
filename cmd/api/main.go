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

	"esphub/internal/awsutil"
	"esphub/internal/config"
	"esphub/internal/httpserver"
	"esphub/internal/integration"
	"esphub/internal/logging"
	"esphub/internal/observability"
	sqsqueue "esphub/internal/queue/sqs"
	"esphub/internal/util"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := integration.Bootstrap(ctx, cfg.Storage, cfg.Providers, cfg.Fanout)
	if err != nil {
		slog.Error("api bootstrap failed", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	observability.Register(prometheus.DefaultRegisterer)

	api := &httpserver.API{
		Svc:          rt.Service,
		Registry:     rt.Registry,
		Accounts:     rt.Accounts,
		Connections:  rt.Connections,
		Stats:        rt.Stats,
		MaxBodyBytes: cfg.MaxBodyBytes,
		IDGen:        func() string { return util.NewID("bf") },
	}
	if cfg.BackfillQueueURL != "" {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("api sqs client init failed", "err", err)
			os.Exit(1)
		}
		api.Backfills = &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.BackfillQueueURL}
	} else {
		slog.Info("BACKFILL_QUEUE_URL not set, backfills run inline")
	}

	s := httpserver.New(rt.Ready)
	api.Register(s.Mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port, "providers", rt.Registry.Providers())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}
}
