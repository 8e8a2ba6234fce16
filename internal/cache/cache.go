// Package cache holds the short-lived state shared by the API and webhook
// servers: per-account campaign lists and the webhook dedup ledger.
package cache

import (
	"context"

	"esphub/internal/domain"
)

// CampaignCache caches a provider account's campaign list. Webhook ingestion
// invalidates an entry whenever it changes stats for that account.
type CampaignCache interface {
	Get(ctx context.Context, provider, accountID string) ([]domain.Campaign, bool)
	Set(ctx context.Context, provider, accountID string, campaigns []domain.Campaign) error
	Invalidate(ctx context.Context, provider, accountID string) error
}

// Ledger remembers processed webhook events so redeliveries are counted once.
// Claim returns true only for the first caller of a key within the TTL.
type Ledger interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

func CampaignKey(provider, accountID string) string {
	return "campaigns:" + provider + ":" + accountID
}
