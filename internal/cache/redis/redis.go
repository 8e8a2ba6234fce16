// Package redis backs the campaign cache and dedup ledger with Redis so
// several API and webhook replicas share them.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"esphub/internal/cache"
	"esphub/internal/domain"
)

// NewClient parses a redis:// URL and checks the server answers.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis not reachable: %w", err)
	}
	return client, nil
}

type CampaignCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ cache.CampaignCache = (*CampaignCache)(nil)

func NewCampaignCache(client *redis.Client, prefix string, ttl time.Duration) *CampaignCache {
	return &CampaignCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *CampaignCache) key(provider, accountID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, cache.CampaignKey(provider, accountID))
}

// Get treats any Redis error as a miss; the caller falls back to the provider.
func (c *CampaignCache) Get(ctx context.Context, provider, accountID string) ([]domain.Campaign, bool) {
	raw, err := c.client.Get(ctx, c.key(provider, accountID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("campaign cache read failed", "provider", provider, "account_id", accountID, "err", err)
		}
		return nil, false
	}
	var out []domain.Campaign
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (c *CampaignCache) Set(ctx context.Context, provider, accountID string, campaigns []domain.Campaign) error {
	raw, err := json.Marshal(campaigns)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(provider, accountID), raw, c.ttl).Err()
}

func (c *CampaignCache) Invalidate(ctx context.Context, provider, accountID string) error {
	return c.client.Del(ctx, c.key(provider, accountID)).Err()
}

type Ledger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ cache.Ledger = (*Ledger)(nil)

func NewLedger(client *redis.Client, prefix string, ttl time.Duration) *Ledger {
	return &Ledger{client: client, prefix: prefix, ttl: ttl}
}

func (l *Ledger) Claim(ctx context.Context, key string) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+":dedup:"+key, 1, l.ttl).Result()
}

func (l *Ledger) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+":dedup:"+key).Err()
}
