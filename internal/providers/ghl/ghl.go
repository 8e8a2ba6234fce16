// Package ghl is the HighLevel (LeadConnector) adapter. Accounts connect via
// OAuth or a location API key and are scoped by location id; webhooks are
// RSA-signed.
package ghl

import (
	"fmt"
	"time"

	"esphub/internal/domain"
	"esphub/internal/providers"
	"esphub/internal/providers/esphttp"
)

const (
	Provider = "ghl"
	// WebhookFamily is the path segment of the email stats webhook route.
	WebhookFamily = "email-stats"

	DefaultBaseURL = "https://services.leadconnectorhq.com"
	apiVersion     = "2021-07-28"
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string

	// WebhookPublicKey is the PEM key HighLevel signs webhooks with. Without
	// it the adapter has no webhook module.
	WebhookPublicKey string

	// RequiredScopes must all be granted for an OAuth connection to be used.
	RequiredScopes []string

	RPS     float64
	Burst   int
	Timeout time.Duration
}

// New builds the adapter. conns backs credential resolution and token refresh.
func New(cfg Config, conns providers.ConnectionSource) (*providers.Adapter, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	c := &client{http: esphttp.New(Provider, esphttp.Options{
		BaseURL: base,
		Timeout: cfg.Timeout,
		RPS:     cfg.RPS,
		Burst:   cfg.Burst,
		Headers: map[string]string{"Version": apiVersion},
	})}

	resolver := &providers.CredentialResolver{
		Provider:       Provider,
		Connections:    conns,
		RequiredScopes: cfg.RequiredScopes,
		ExpirySkew:     time.Minute,
	}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		resolver.Refresher = &refresher{client: c, clientID: cfg.ClientID, clientSecret: cfg.ClientSecret}
	}

	a := &providers.Adapter{
		Provider:           Provider,
		Auth:               domain.AuthBoth,
		Contacts:           &contacts{client: c, resolver: resolver},
		Campaigns:          &campaigns{client: c},
		Workflows:          &workflows{client: c},
		Templates:          &templates{client: c},
		Media:              &media{client: c},
		CustomValues:       &customValues{client: c},
		AccountDetailsSync: &accountDetails{client: c},
		Validation:         &validation{client: c},
	}
	if cfg.WebhookPublicKey != "" {
		v, err := NewVerifier(cfg.WebhookPublicKey)
		if err != nil {
			return nil, fmt.Errorf("ghl webhook key: %w", err)
		}
		a.Webhook = v
	}
	return a, nil
}
