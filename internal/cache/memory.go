package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"esphub/internal/domain"
)

type MemoryCampaignCache struct {
	cache *ttlcache.Cache[string, []domain.Campaign]
}

// NewMemoryCampaignCache starts the ttlcache janitor; call Close to stop it.
func NewMemoryCampaignCache(ttl time.Duration) *MemoryCampaignCache {
	c := ttlcache.New(
		ttlcache.WithTTL[string, []domain.Campaign](ttl),
		ttlcache.WithDisableTouchOnHit[string, []domain.Campaign](),
	)
	go c.Start()
	return &MemoryCampaignCache{cache: c}
}

func (m *MemoryCampaignCache) Get(_ context.Context, provider, accountID string) ([]domain.Campaign, bool) {
	item := m.cache.Get(CampaignKey(provider, accountID))
	if item == nil || item.IsExpired() {
		return nil, false
	}
	return append([]domain.Campaign(nil), item.Value()...), true
}

func (m *MemoryCampaignCache) Set(_ context.Context, provider, accountID string, campaigns []domain.Campaign) error {
	m.cache.Set(CampaignKey(provider, accountID), append([]domain.Campaign(nil), campaigns...), ttlcache.DefaultTTL)
	return nil
}

func (m *MemoryCampaignCache) Invalidate(_ context.Context, provider, accountID string) error {
	m.cache.Delete(CampaignKey(provider, accountID))
	return nil
}

func (m *MemoryCampaignCache) Close() { m.cache.Stop() }

type MemoryLedger struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, struct{}]
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	c := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go c.Start()
	return &MemoryLedger{cache: c}
}

func (l *MemoryLedger) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if item := l.cache.Get(key); item != nil && !item.IsExpired() {
		return false, nil
	}
	l.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Delete(key)
	return nil
}

func (l *MemoryLedger) Close() { l.cache.Stop() }
