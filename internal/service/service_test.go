package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"esphub/internal/cache"
	"esphub/internal/domain"
	"esphub/internal/providers"
	"esphub/internal/store"
	"esphub/internal/store/memory"
)

type fakeContacts struct {
	creds map[string]string // account key -> scoped id
}

func (f fakeContacts) ResolveCredentials(_ context.Context, accountKey string) (*domain.Credentials, error) {
	id, ok := f.creds[accountKey]
	if !ok {
		return nil, nil
	}
	return &domain.Credentials{Provider: "fake", AccountKey: accountKey, AccessToken: "tok", AccountID: id}, nil
}

func (fakeContacts) ListContacts(_ context.Context, creds domain.Credentials, limit int) ([]domain.Contact, error) {
	out := make([]domain.Contact, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, domain.Contact{ID: creds.AccountID, Provider: "fake", AccountKey: creds.AccountKey})
	}
	return out, nil
}

type fakeCampaigns struct {
	fetches   atomic.Int32
	failFor   string
	slowFor   string
	analytics map[string]domain.CampaignAnalytics
}

func (f *fakeCampaigns) FetchCampaigns(ctx context.Context, creds domain.Credentials) ([]domain.Campaign, error) {
	f.fetches.Add(1)
	switch creds.AccountID {
	case f.failFor:
		return nil, errors.New("provider exploded")
	case f.slowFor:
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []domain.Campaign{
		{ID: "C1", Name: "one", Provider: "fake", AccountKey: creds.AccountKey, AccountID: creds.AccountID},
		{ID: "C2", Name: "two", Provider: "fake", AccountKey: creds.AccountKey, AccountID: creds.AccountID},
	}, nil
}

func (f *fakeCampaigns) FetchAnalytics(ctx context.Context, _ domain.Credentials, campaignID string) (domain.CampaignAnalytics, error) {
	if campaignID == f.slowFor {
		<-ctx.Done()
		return domain.CampaignAnalytics{}, ctx.Err()
	}
	an, ok := f.analytics[campaignID]
	if !ok {
		return domain.CampaignAnalytics{}, errors.New("no analytics")
	}
	return an, nil
}

type fixture struct {
	svc       *Service
	mem       *memory.Store
	campaigns *fakeCampaigns
	cache     *cache.MemoryCampaignCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	for _, acc := range []domain.Account{
		{Key: "a1", Provider: "fake"},
		{Key: "a2", Provider: "fake"},
		{Key: "a3", Provider: "fake"},
		{Key: "nocreds", Provider: "fake"},
		{Key: "other", Provider: "unregistered"},
	} {
		if err := mem.UpsertAccount(ctx, acc); err != nil {
			t.Fatal(err)
		}
	}
	camps := &fakeCampaigns{analytics: map[string]domain.CampaignAnalytics{}}
	reg := providers.NewRegistry(mem)
	if err := reg.Register(&providers.Adapter{
		Provider:  "fake",
		Auth:      domain.AuthAPIKey,
		Contacts:  fakeContacts{creds: map[string]string{"a1": "X1", "a2": "X2", "a3": "X3"}},
		Campaigns: camps,
	}); err != nil {
		t.Fatal(err)
	}
	c := cache.NewMemoryCampaignCache(time.Minute)
	t.Cleanup(c.Close)
	return &fixture{
		svc: &Service{
			Registry:    reg,
			Accounts:    mem,
			Stats:       mem,
			Cache:       c,
			CallTimeout: 200 * time.Millisecond,
		},
		mem:       mem,
		campaigns: camps,
		cache:     c,
	}
}

func TestAggregateCampaignsIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.campaigns.failFor = "X2"
	f.campaigns.slowFor = "X3"

	rep, err := f.svc.AggregateCampaigns(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.PerAccount["a1"]) != 2 || rep.Meta.TotalFetched != 2 || rep.Meta.AccountsFetched != 1 {
		t.Fatalf("report: %+v", rep)
	}
	if rep.Errors["a2"] == "" || rep.Errors["a3"] == "" || rep.Meta.ErrorCount != 2 {
		t.Fatalf("errors: %+v", rep.Errors)
	}
	if rep.Meta.SkippedNoCredentials != 1 || rep.Meta.SkippedNoAdapter != 1 {
		t.Fatalf("meta: %+v", rep.Meta)
	}
}

func TestAggregateCampaignsUsesCacheAndAttachesStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := f.mem.IncrementCampaignStat(ctx, store.StatIncrement{
		Provider: "fake", AccountID: "X1", CampaignID: "C1", Column: domain.ColOpened, OccurredAt: at,
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		rep, err := f.svc.AggregateCampaigns(ctx, []string{"a1"})
		if err != nil {
			t.Fatal(err)
		}
		got := rep.PerAccount["a1"]
		if len(got) != 2 || got[0].Stats == nil || got[0].Stats.OpenedCount != 1 || got[1].Stats != nil {
			t.Fatalf("run %d: %+v", i, got)
		}
	}
	if n := f.campaigns.fetches.Load(); n != 1 {
		t.Fatalf("provider fetched %d times, want 1", n)
	}

	if err := f.cache.Invalidate(ctx, "fake", "X1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AggregateCampaigns(ctx, []string{"a1"}); err != nil {
		t.Fatal(err)
	}
	if n := f.campaigns.fetches.Load(); n != 2 {
		t.Fatalf("invalidation should force a refetch, fetches=%d", n)
	}
}

func TestAggregateSkipsMissingCapability(t *testing.T) {
	f := newFixture(t)
	rep, err := f.svc.AggregateWorkflows(context.Background(), []string{"a1", "a2"})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Meta.SkippedNoAdapter != 2 || len(rep.Results) != 0 || len(rep.Errors) != 0 {
		t.Fatalf("report: %+v", rep)
	}
}

func TestAggregateContactsPassesLimit(t *testing.T) {
	f := newFixture(t)
	rep, err := f.svc.AggregateContacts(context.Background(), []string{"a1", "a1", "a2"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.PerAccount["a1"]) != 3 || len(rep.PerAccount["a2"]) != 3 || rep.Meta.TotalFetched != 6 {
		t.Fatalf("report: %+v", rep.Meta)
	}
}

func TestResolveErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		key  string
		cap  domain.Capability
		want error
	}{
		{"missing", domain.CapCampaigns, domain.ErrAccountNotFound},
		{"other", domain.CapCampaigns, domain.ErrAdapterNotRegistered},
		{"a1", domain.CapMedia, domain.ErrCapabilityUnsupported},
		{"nocreds", domain.CapCampaigns, domain.ErrCredentialsMissing},
	}
	for _, tc := range cases {
		_, _, err := f.svc.Resolve(ctx, tc.key, tc.cap)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s/%s: got %v want %v", tc.key, tc.cap, err, tc.want)
		}
	}
	a, creds, err := f.svc.Resolve(ctx, "a1", domain.CapCampaigns)
	if err != nil || a.Provider != "fake" || creds.ScopedID() != "X1" {
		t.Fatalf("resolve a1: %v %+v %v", a, creds, err)
	}
}

func TestBackfillMergesWithoutLoweringCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaigns.slowFor = "C3"
	f.campaigns.analytics["C1"] = domain.CampaignAnalytics{CampaignID: "C1", Delivered: 10, Opened: 2}
	f.campaigns.analytics["C2"] = domain.CampaignAnalytics{CampaignID: "C2", Delivered: 4}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := f.mem.IncrementCampaignStat(ctx, store.StatIncrement{
			Provider: "fake", AccountID: "X1", CampaignID: "C1", Column: domain.ColOpened, OccurredAt: at,
		}); err != nil {
			t.Fatal(err)
		}
	}
	// Warm the cache so the invalidation is observable.
	if _, err := f.svc.AggregateCampaigns(ctx, []string{"a1"}); err != nil {
		t.Fatal(err)
	}

	rep, err := f.svc.Backfill(ctx, "a1", []string{"C1", "C2", "C3", "C4"})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Merged != 2 || rep.Failed != 2 || rep.AccountID != "X1" {
		t.Fatalf("report: %+v", rep)
	}
	if rep.Campaigns["C3"].Status != "error" || rep.Campaigns["C4"].Status != "error" {
		t.Fatalf("C3/C4 should fail: %+v", rep.Campaigns)
	}

	stats, err := f.mem.GetCampaignStats(ctx, "fake", "X1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats["C1"].DeliveredCount != 10 || stats["C1"].OpenedCount != 5 {
		t.Fatalf("C1 merge should keep the larger opened count: %+v", stats["C1"])
	}
	if stats["C2"].DeliveredCount != 4 {
		t.Fatalf("C2: %+v", stats["C2"])
	}
	if _, hit := f.cache.Get(ctx, "fake", "X1"); hit {
		t.Fatalf("backfill should invalidate the campaign cache")
	}
}

func TestBackfillAllCampaignsWhenNoneGiven(t *testing.T) {
	f := newFixture(t)
	f.campaigns.analytics["C1"] = domain.CampaignAnalytics{Delivered: 1}
	f.campaigns.analytics["C2"] = domain.CampaignAnalytics{Delivered: 2}

	rep, err := f.svc.Backfill(context.Background(), "a1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Merged != 2 || len(rep.Campaigns) != 2 {
		t.Fatalf("report: %+v", rep)
	}
}

func TestBackfillWithoutCredentials(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Backfill(context.Background(), "nocreds", nil)
	if !errors.Is(err, domain.ErrCredentialsMissing) {
		t.Fatalf("got %v", err)
	}
}
