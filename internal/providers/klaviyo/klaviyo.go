// Package klaviyo is the Klaviyo adapter. Accounts connect with a private API
// key; webhooks carry an HMAC-SHA256 signature.
package klaviyo

import (
	"time"

	"esphub/internal/domain"
	"esphub/internal/providers"
	"esphub/internal/providers/esphttp"
)

const (
	Provider      = "klaviyo"
	WebhookFamily = "events"

	DefaultBaseURL = "https://a.klaviyo.com/api"
	revision       = "2024-10-15"
)

type Config struct {
	BaseURL string
	// WebhookSecret is the shared HMAC secret. Without it the adapter has no
	// webhook module.
	WebhookSecret string
	RPS           float64
	Burst         int
	Timeout       time.Duration
}

func New(cfg Config, conns providers.ConnectionSource) *providers.Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	c := &client{http: esphttp.New(Provider, esphttp.Options{
		BaseURL: base,
		Timeout: cfg.Timeout,
		RPS:     cfg.RPS,
		Burst:   cfg.Burst,
		Headers: map[string]string{"revision": revision},
	})}

	a := &providers.Adapter{
		Provider: Provider,
		Auth:     domain.AuthAPIKey,
		Contacts: &contacts{client: c, resolver: &providers.CredentialResolver{
			Provider:    Provider,
			Connections: conns,
		}},
		Campaigns:  &campaigns{client: c},
		Templates:  &templates{client: c},
		Validation: &validation{client: c},
	}
	if cfg.WebhookSecret != "" {
		a.Webhook = &Verifier{Secret: []byte(cfg.WebhookSecret)}
	}
	return a
}
