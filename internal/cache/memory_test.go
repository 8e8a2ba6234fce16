package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"esphub/internal/domain"
)

func TestLedgerClaimsOnce(t *testing.T) {
	l := NewMemoryLedger(time.Hour)
	defer l.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Claim(ctx, "ghl:evt-1:c1")
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one claim, got %d", wins)
	}

	if err := l.Release(ctx, "ghl:evt-1:c1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := l.Claim(ctx, "ghl:evt-1:c1"); !ok {
		t.Fatalf("released key should be claimable again")
	}
}

func TestCampaignCacheInvalidate(t *testing.T) {
	c := NewMemoryCampaignCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	if _, ok := c.Get(ctx, "ghl", "loc-1"); ok {
		t.Fatalf("empty cache hit")
	}
	_ = c.Set(ctx, "ghl", "loc-1", []domain.Campaign{{ID: "c1"}})
	got, ok := c.Get(ctx, "ghl", "loc-1")
	if !ok || len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("got %v %v", got, ok)
	}
	if _, ok := c.Get(ctx, "ghl", "loc-2"); ok {
		t.Fatalf("accounts must not share entries")
	}
	_ = c.Invalidate(ctx, "ghl", "loc-1")
	if _, ok := c.Get(ctx, "ghl", "loc-1"); ok {
		t.Fatalf("entry survived invalidation")
	}
}
