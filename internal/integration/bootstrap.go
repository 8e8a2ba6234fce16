package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"esphub/internal/cache/redis"
	"esphub/internal/config"
	"esphub/internal/providers/ghl"
	"esphub/internal/providers/klaviyo"
	"esphub/internal/store/pg"
)

// Runtime is a Context backed by Postgres and, when configured, Redis.
type Runtime struct {
	*Context
	DB    *pgxpool.Pool
	Redis *goredis.Client
}

// Bootstrap connects the configured backing services and builds the Context.
// Both reference providers are always registered; their webhook modules only
// exist when the matching verification key is configured.
func Bootstrap(ctx context.Context, st config.Storage, pc config.Providers, fc config.Fanout) (*Runtime, error) {
	db, err := pg.NewPool(ctx, st.DBDSN, pg.PoolOptions{
		MaxConns:        st.DBMaxConns,
		MinConns:        st.DBMinConns,
		MaxConnLifetime: st.DBMaxConnLifetime,
		MaxConnIdleTime: st.DBMaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{DB: db}
	repo := pg.New(db)

	opts := Options{
		Secrets:          st.VaultSecrets(),
		Connections:      repo,
		Accounts:         repo,
		Stats:            repo,
		CampaignCacheTTL: st.CampaignCacheTTL,
		DedupTTL:         st.WebhookDedupTTL,
		GHL: &ghl.Config{
			BaseURL:          pc.GHLBaseURL,
			ClientID:         pc.GHLClientID,
			ClientSecret:     pc.GHLClientSecret,
			WebhookPublicKey: pc.GHLWebhookPublicKey,
			RequiredScopes:   pc.GHLRequiredScopes,
			RPS:              pc.GHLRPS,
			Burst:            pc.GHLBurst,
			Timeout:          pc.ProviderHTTPTimeout,
		},
		Klaviyo: &klaviyo.Config{
			BaseURL:       pc.KlaviyoBaseURL,
			WebhookSecret: pc.KlaviyoWebhookSecret,
			RPS:           pc.KlaviyoRPS,
			Burst:         pc.KlaviyoBurst,
			Timeout:       pc.ProviderHTTPTimeout,
		},
		Concurrency:         fc.Concurrency,
		BackfillConcurrency: fc.BackfillConcurrency,
		CallTimeout:         fc.CallTimeout,
	}

	if st.RedisURL != "" {
		client, err := redis.NewClient(ctx, st.RedisURL)
		if err != nil {
			db.Close()
			return nil, err
		}
		rt.Redis = client
		opts.Cache = redis.NewCampaignCache(client, "esphub", st.CampaignCacheTTL)
		opts.Ledger = redis.NewLedger(client, "esphub", st.WebhookDedupTTL)
	} else {
		slog.Info("redis not configured, using in-process cache and dedup ledger")
	}

	ic, err := New(opts)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build integration context: %w", err)
	}
	rt.Context = ic
	return rt, nil
}

// Ready pings every backing service.
func (rt *Runtime) Ready(ctx context.Context) error {
	var errs []error
	if err := rt.DB.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("postgres: %w", err))
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (rt *Runtime) Close() {
	if rt.Context != nil {
		rt.Context.Close()
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	rt.DB.Close()
}
