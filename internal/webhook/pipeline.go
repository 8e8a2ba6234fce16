// Package webhook ingests provider engagement callbacks. A callback is
// verified against its raw bytes, parsed, normalized into canonical events and
// applied to the campaign stats store, then the affected accounts' cached
// campaign lists are dropped.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"esphub/internal/cache"
	"esphub/internal/domain"
	"esphub/internal/observability"
	"esphub/internal/providers"
	"esphub/internal/store"
)

// Extractor pulls provider events out of one parsed payload. It returns an
// error wrapping domain.ErrUnsupportedPayload for shapes it does not handle.
type Extractor func(payload any, receivedAt time.Time) ([]domain.ProviderEvent, error)

// AdapterSource is satisfied by *providers.Registry.
type AdapterSource interface {
	Adapter(provider string) (*providers.Adapter, error)
}

type StatsWriter interface {
	IncrementCampaignStat(ctx context.Context, in store.StatIncrement) error
}

type Summary struct {
	Updated         int `json:"updated"`
	Failed          int `json:"failed"`
	Skipped         int `json:"skipped"`
	Duplicates      int `json:"duplicates"`
	ProcessedEvents int `json:"processedEvents"`
}

type routeKey struct{ provider, family string }

type Pipeline struct {
	Adapters AdapterSource
	Stats    StatsWriter
	// Ledger is optional; without it redelivered events are counted again.
	Ledger cache.Ledger
	// Cache is optional.
	Cache cache.CampaignCache
	// Parse decodes the verified body. Tests replace it to observe calls.
	Parse func(body []byte) (any, error)
	Now   func() time.Time

	mu     sync.RWMutex
	routes map[routeKey]Extractor
}

func New(adapters AdapterSource, stats StatsWriter, ledger cache.Ledger, campaigns cache.CampaignCache) *Pipeline {
	return &Pipeline{
		Adapters: adapters,
		Stats:    stats,
		Ledger:   ledger,
		Cache:    campaigns,
		Parse:    ParseJSON,
		Now:      func() time.Time { return time.Now().UTC() },
		routes:   map[routeKey]Extractor{},
	}
}

// Handle registers the extractor for one provider/family pair.
func (p *Pipeline) Handle(provider, family string, extract Extractor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[routeKey{normalize(provider), normalize(family)}] = extract
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Resolve finds the route and the adapter's webhook module. Unknown pairs
// yield domain.ErrUnknownRoute; a known pair whose adapter cannot verify
// webhooks yields a *domain.CapabilityUnsupportedError.
func (p *Pipeline) Resolve(provider, family string) (*providers.Adapter, Extractor, error) {
	provider, family = normalize(provider), normalize(family)
	p.mu.RLock()
	extract, ok := p.routes[routeKey{provider, family}]
	p.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownRoute, provider, family)
	}
	a, err := p.Adapters.Adapter(provider)
	if err != nil {
		return nil, nil, err
	}
	if err := providers.Require(a, domain.CapWebhook); err != nil {
		return nil, nil, err
	}
	return a, extract, nil
}

// Process runs one callback through every stage. A non-nil error means the
// request itself was rejected; per-event failures are only counted in the
// summary.
func (p *Pipeline) Process(ctx context.Context, provider, family string, body []byte, headers http.Header) (Summary, error) {
	var sum Summary
	a, extract, err := p.Resolve(provider, family)
	if err != nil {
		return sum, err
	}
	provider = a.Provider

	signature := findSignature(headers, a.Webhook.SignatureHeaderCandidates())
	if !a.Webhook.VerifySignature(body, signature, headers) {
		slog.Warn("webhook signature rejected", "provider", provider, "family", family, "signature_present", signature != "")
		return sum, domain.ErrSignatureInvalid
	}

	payload, err := p.Parse(body)
	if err != nil {
		return sum, err
	}

	raw, err := extract(payload, p.Now())
	if err != nil {
		return sum, err
	}

	events, skipped := Normalize(provider, raw)
	sum.Skipped = skipped
	observability.WebhookEvents.WithLabelValues(provider, "skipped").Add(float64(skipped))

	affected := p.aggregate(ctx, provider, events, &sum)
	p.invalidate(ctx, provider, affected)
	return sum, nil
}

// aggregate applies events in order and returns the account ids with at
// least one successful increment.
func (p *Pipeline) aggregate(ctx context.Context, provider string, events []domain.CanonicalWebhookEvent, sum *Summary) []string {
	var affected []string
	seen := map[string]bool{}
	for _, ev := range events {
		sum.ProcessedEvents++
		key := ev.DedupKey()
		claimed := false
		if p.Ledger != nil && key != "" {
			ok, err := p.Ledger.Claim(ctx, key)
			switch {
			case err != nil:
				slog.Warn("dedup ledger unavailable, applying event", "provider", provider, "event_id", ev.EventID, "err", err)
			case !ok:
				sum.Duplicates++
				observability.WebhookEvents.WithLabelValues(provider, "duplicate").Inc()
				slog.Info("duplicate webhook event skipped", "provider", provider, "event_id", ev.EventID, "campaign_id", ev.CampaignID)
				continue
			default:
				claimed = true
			}
		}

		err := p.Stats.IncrementCampaignStat(ctx, store.StatIncrement{
			Provider:   provider,
			AccountID:  ev.AccountID,
			CampaignID: ev.CampaignID,
			Column:     ev.Column,
			OccurredAt: ev.OccurredAt,
		})
		if err != nil {
			sum.Failed++
			observability.WebhookEvents.WithLabelValues(provider, "failed").Inc()
			slog.Error("campaign stat increment failed",
				"provider", provider, "account_id", ev.AccountID, "campaign_id", ev.CampaignID,
				"column", string(ev.Column), "err", err)
			if claimed {
				if rerr := p.Ledger.Release(ctx, key); rerr != nil {
					slog.Warn("dedup claim not released", "provider", provider, "event_id", ev.EventID, "err", rerr)
				}
			}
			continue
		}
		sum.Updated++
		observability.WebhookEvents.WithLabelValues(provider, "updated").Inc()
		if !seen[ev.AccountID] {
			seen[ev.AccountID] = true
			affected = append(affected, ev.AccountID)
		}
	}
	return affected
}

func (p *Pipeline) invalidate(ctx context.Context, provider string, accountIDs []string) {
	if p.Cache == nil {
		return
	}
	for _, id := range accountIDs {
		if err := p.Cache.Invalidate(ctx, provider, id); err != nil {
			slog.Warn("campaign cache invalidation failed", "provider", provider, "account_id", id, "err", err)
		}
	}
}

func findSignature(h http.Header, candidates []string) string {
	for _, name := range candidates {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// ParseJSON is the default parser. Numbers decode as json.Number so large
// provider ids keep every digit.
func ParseJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON value", domain.ErrMalformedPayload)
	}
	return v, nil
}
