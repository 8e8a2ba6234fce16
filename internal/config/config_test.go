package config

import (
	"os"
	"testing"
	"time"
)

func TestVaultSecretsOrder(t *testing.T) {
	s := Storage{TokenSecret: "new", TokenSecretsPrevious: " mid , ,old"}
	got := s.VaultSecrets()
	want := []string{"new", "mid", "old"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestLoadWebhookDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/esphub")
	t.Setenv("ESP_TOKEN_SECRET", "s")
	t.Setenv("GHL_REQUIRED_SCOPES", "emails.readonly,contacts.readonly")

	cfg := LoadWebhook()
	if cfg.Port != "8080" || cfg.WebhookDedupTTL != 24*time.Hour || cfg.CampaignCacheTTL != 5*time.Minute {
		t.Fatalf("defaults: %+v", cfg)
	}
	if len(cfg.GHLRequiredScopes) != 2 || cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("parsed: %+v", cfg)
	}
}

func TestLoadPanicsWithoutSecret(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/esphub")
	t.Setenv("ESP_TOKEN_SECRET", "x")
	os.Unsetenv("ESP_TOKEN_SECRET")
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for missing ESP_TOKEN_SECRET")
		}
	}()
	LoadAPI()
}
