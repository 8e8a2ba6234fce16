// Command mock-esp is a local stand-in for HighLevel. It serves the read
// endpoints the ghl adapter calls and, on demand, plays out a campaign send by
// posting signed LCEmailStats webhooks at the webhook server, including
// redeliveries.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"esphub/internal/config"
	"esphub/internal/httpserver"
	"esphub/internal/logging"
)

func main() {
	cfg := config.LoadMockESP()
	logging.Init("mock-esp", cfg.LogFormat, cfg.LogLevel)

	key, err := loadOrGenerateKey(cfg.PrivateKeyPEM)
	if err != nil {
		slog.Error("mock esp signing key invalid", "err", err)
		os.Exit(1)
	}

	s := newServer(cfg, key, &http.Client{Timeout: 5 * time.Second})
	router := httpserver.New()
	s.register(router.Mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("mock esp listening", "port", cfg.Port, "webhook_url", cfg.WebhookURL, "location_id", cfg.LocationID)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("mock esp server failed", "err", err)
		os.Exit(1)
	}
}
