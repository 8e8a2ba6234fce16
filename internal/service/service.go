// Package service drives adapter operations on behalf of the HTTP API and the
// backfill worker. Cross-account work goes through the fan-out coordinator;
// a failure for one account is reported for that account only.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"esphub/internal/cache"
	"esphub/internal/domain"
	"esphub/internal/observability"
	"esphub/internal/providers"
)

const (
	DefaultConcurrency         = 5
	DefaultBackfillConcurrency = 3
	DefaultCallTimeout         = 15 * time.Second
)

type Registry interface {
	Adapter(provider string) (*providers.Adapter, error)
	AdapterForAccount(ctx context.Context, accountKey string) (*providers.Adapter, error)
}

type AccountLister interface {
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}

type StatsStore interface {
	GetCampaignStats(ctx context.Context, provider, accountID string, campaignIDs []string) (map[string]domain.CampaignStats, error)
	MergeCampaignStats(ctx context.Context, in domain.CampaignStats) error
}

type Service struct {
	Registry Registry
	Accounts AccountLister
	Stats    StatsStore
	// Cache is optional.
	Cache cache.CampaignCache

	Concurrency         int
	BackfillConcurrency int
	CallTimeout         time.Duration
}

func (s *Service) concurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return DefaultConcurrency
}

func (s *Service) backfillConcurrency() int {
	if s.BackfillConcurrency > 0 {
		return s.BackfillConcurrency
	}
	return DefaultBackfillConcurrency
}

func (s *Service) callTimeout() time.Duration {
	if s.CallTimeout > 0 {
		return s.CallTimeout
	}
	return DefaultCallTimeout
}

// Resolve returns the adapter and credentials for one account after checking
// the capability. Errors: domain.ErrAccountNotFound, domain.ErrAdapterNotRegistered,
// *domain.CapabilityUnsupportedError, domain.ErrCredentialsMissing.
func (s *Service) Resolve(ctx context.Context, accountKey string, c domain.Capability) (*providers.Adapter, domain.Credentials, error) {
	a, err := s.Registry.AdapterForAccount(ctx, accountKey)
	if err != nil {
		return nil, domain.Credentials{}, err
	}
	if err := providers.Require(a, c); err != nil {
		return nil, domain.Credentials{}, err
	}
	creds, err := a.ResolveCredentials(ctx, accountKey)
	if err != nil {
		return nil, domain.Credentials{}, err
	}
	if creds == nil {
		return nil, domain.Credentials{}, domain.ErrCredentialsMissing
	}
	return a, *creds, nil
}

func (s *Service) accountKeys(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) > 0 {
		return dedupe(keys), nil
	}
	accounts, err := s.Accounts.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Key)
	}
	return out, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// skipReason classifies errors that mean "this account cannot take part"
// rather than "this account failed".
func skipReason(err error) (string, bool) {
	var ce *domain.CapabilityUnsupportedError
	switch {
	case errors.Is(err, domain.ErrCredentialsMissing):
		return "no_credentials", true
	case errors.Is(err, domain.ErrAdapterNotRegistered),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.As(err, &ce):
		return "no_adapter", true
	}
	return "", false
}

func logSkip(op, accountKey, reason string, err error) {
	slog.Info("fanout account skipped", "operation", op, "account_key", accountKey, "reason", reason, "err", err)
	observability.FanoutTasks.WithLabelValues(op, "skipped_"+reason).Inc()
}
