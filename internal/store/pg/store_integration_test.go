//go:build integration

package pg

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"esphub/internal/domain"
	"esphub/internal/store"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN not set")
	}
	ctx := context.Background()

	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect admin db: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	u, err := url.Parse(dsn)
	if err != nil {
		admin.Close()
		t.Fatalf("parse dsn: %v", err)
	}
	q := u.Query()
	q.Set("options", "-c search_path="+schema)
	u.RawQuery = q.Encode()

	db, err := pgxpool.New(ctx, u.String())
	if err != nil {
		admin.Close()
		t.Fatalf("connect test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	sqlBytes, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "001_init.sql"))
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if _, err := db.Exec(ctx, string(sqlBytes)); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return New(db)
}

func TestOAuthConnectionUpsertKeepsInstalledAt(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := store.OAuthConnectionRecord{
		AccountKey: "acme", Provider: "ghl", AccessTokenEnc: "v1:a", RefreshTokenEnc: "v1:r",
		LocationID: "L1", Scopes: []string{"emails.readonly"}, InstalledAt: first, UpdatedAt: first,
	}
	if err := s.UpsertOAuthConnection(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rec.AccessTokenEnc = "v1:b"
	rec.InstalledAt = first.Add(48 * time.Hour)
	rec.UpdatedAt = rec.InstalledAt
	if err := s.UpsertOAuthConnection(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetOAuthConnection(ctx, "acme", "ghl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessTokenEnc != "v1:b" || !got.InstalledAt.Equal(first) || len(got.Scopes) != 1 {
		t.Fatalf("got %+v", got)
	}

	ok, err := s.DeleteOAuthConnection(ctx, "acme", "ghl")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, err := s.GetOAuthConnection(ctx, "acme", "ghl"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAPIKeyConnectionsListFiltersByAccount(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	for _, k := range []string{"a", "b", "c"} {
		if err := s.UpsertAPIKeyConnection(ctx, store.APIKeyConnectionRecord{
			AccountKey: k, Provider: "klaviyo", APIKeyEnc: "v1:" + k, AccountID: "K-" + k, UpdatedAt: time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}
	all, err := s.ListAPIKeyConnections(ctx, nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("all: %d %v", len(all), err)
	}
	some, err := s.ListAPIKeyConnections(ctx, []string{"a", "c"})
	if err != nil || len(some) != 2 {
		t.Fatalf("filtered: %d %v", len(some), err)
	}
}

func TestConcurrentIncrementsConverge(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.IncrementCampaignStat(ctx, store.StatIncrement{
				Provider: "ghl", AccountID: "L1", CampaignID: "C1",
				Column: domain.ColDelivered, OccurredAt: base.Add(time.Duration(i) * time.Minute),
			})
		}()
		go func() {
			defer wg.Done()
			errs <- s.IncrementCampaignStat(ctx, store.StatIncrement{
				Provider: "ghl", AccountID: "L1", CampaignID: "C1",
				Column: domain.ColOpened, OccurredAt: base.Add(time.Duration(i+30) * time.Minute),
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	got, err := s.GetCampaignStats(ctx, "ghl", "L1", []string{"C1"})
	if err != nil {
		t.Fatal(err)
	}
	st := got["C1"]
	if st.DeliveredCount != 20 || st.OpenedCount != 20 {
		t.Fatalf("counts %+v", st)
	}
	if st.FirstDeliveredAt == nil || !st.FirstDeliveredAt.Equal(base) {
		t.Fatalf("first delivered %v", st.FirstDeliveredAt)
	}
	if st.LastEventAt == nil || !st.LastEventAt.Equal(base.Add(49*time.Minute)) {
		t.Fatalf("last event %v", st.LastEventAt)
	}
}

func TestMergeNeverLowersCounters(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	early := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	late := early.Add(6 * time.Hour)
	for i := 0; i < 5; i++ {
		if err := s.IncrementCampaignStat(ctx, store.StatIncrement{
			Provider: "klaviyo", AccountID: "K1", CampaignID: "C9", Column: domain.ColClicked, OccurredAt: late,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MergeCampaignStats(ctx, domain.CampaignStats{
		Provider: "klaviyo", AccountID: "K1", CampaignID: "C9",
		DeliveredCount: 100, ClickedCount: 2, FirstDeliveredAt: &early, LastEventAt: &early,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCampaignStats(ctx, "klaviyo", "K1", nil)
	if err != nil {
		t.Fatal(err)
	}
	st := got["C9"]
	if st.DeliveredCount != 100 || st.ClickedCount != 5 {
		t.Fatalf("counts %+v", st)
	}
	if st.FirstDeliveredAt == nil || !st.FirstDeliveredAt.Equal(early) || !st.LastEventAt.Equal(late) {
		t.Fatalf("timestamps %v %v", st.FirstDeliveredAt, st.LastEventAt)
	}

	n, err := s.WipeCampaignStats(ctx, "klaviyo", "K1")
	if err != nil || n != 1 {
		t.Fatalf("wipe: %d %v", n, err)
	}
}

func TestSwapOnlyReplacesUnchangedRows(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	now := time.Now().UTC()
	prev := store.OAuthConnectionRecord{
		AccountKey: "acme", Provider: "ghl", AccessTokenEnc: "old:a", LocationID: "L1", InstalledAt: now, UpdatedAt: now,
	}
	if err := s.UpsertOAuthConnection(ctx, prev); err != nil {
		t.Fatal(err)
	}
	next := prev
	next.AccessTokenEnc, next.RefreshTokenEnc = "new:a", "new:r"
	if ok, err := s.SwapOAuthTokens(ctx, prev, next); err != nil || !ok {
		t.Fatalf("first swap: %v %v", ok, err)
	}
	if ok, err := s.SwapOAuthTokens(ctx, prev, next); err != nil || ok {
		t.Fatalf("stale swap applied: %v %v", ok, err)
	}
	got, err := s.GetOAuthConnection(ctx, "acme", "ghl")
	if err != nil || got.AccessTokenEnc != "new:a" || got.RefreshTokenEnc != "new:r" {
		t.Fatalf("got %+v %v", got, err)
	}

	key := store.APIKeyConnectionRecord{AccountKey: "b", Provider: "klaviyo", APIKeyEnc: "old:k", AccountID: "K", UpdatedAt: now}
	if err := s.UpsertAPIKeyConnection(ctx, key); err != nil {
		t.Fatal(err)
	}
	nextKey := key
	nextKey.APIKeyEnc = "new:k"
	if ok, err := s.SwapAPIKey(ctx, key, nextKey); err != nil || !ok {
		t.Fatalf("key swap: %v %v", ok, err)
	}
	if ok, err := s.SwapAPIKey(ctx, key, nextKey); err != nil || ok {
		t.Fatalf("stale key swap applied: %v %v", ok, err)
	}
}
