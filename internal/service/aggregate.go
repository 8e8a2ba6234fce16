package service

import (
	"context"
	"log/slog"

	"esphub/internal/domain"
	"esphub/internal/fanout"
	"esphub/internal/observability"
	"esphub/internal/providers"
)

type accountOp[T any] func(ctx context.Context, a *providers.Adapter, creds domain.Credentials) ([]T, error)

// aggregate runs op once per account. Only a failure to list accounts is
// returned as an error; everything else lands in the report.
func aggregate[T any](ctx context.Context, s *Service, name string, keys []string, c domain.Capability, op accountOp[T]) (fanout.Report[T], error) {
	keys, err := s.accountKeys(ctx, keys)
	if err != nil {
		return fanout.Report[T]{}, err
	}

	col := fanout.NewCollector[T]()
	tasks := make([]fanout.Task, 0, len(keys))
	for _, key := range keys {
		key := key
		tasks = append(tasks, func(ctx context.Context) error {
			a, creds, err := s.Resolve(ctx, key, c)
			if reason, skip := skipReason(err); skip {
				logSkip(name, key, reason, err)
				if reason == "no_credentials" {
					col.SkipNoCredentials()
				} else {
					col.SkipNoAdapter()
				}
				return nil
			}
			if err != nil {
				col.Fail(key, err)
				return err
			}

			items, err := fanout.WithTimeout(ctx, s.callTimeout(), func(ctx context.Context) ([]T, error) {
				return op(ctx, a, creds)
			})
			if err != nil {
				slog.Warn("fanout account failed", "operation", name, "account_key", key, "provider", a.Provider, "err", err)
				observability.FanoutTasks.WithLabelValues(name, "error").Inc()
				col.Fail(key, err)
				return err
			}
			observability.FanoutTasks.WithLabelValues(name, "ok").Inc()
			col.Add(key, items)
			return nil
		})
	}
	fanout.RunBounded(ctx, s.concurrency(), tasks)
	return col.Report(), nil
}

// AggregateCampaigns lists campaigns across accounts, served from the campaign
// cache when warm, each enriched with its stored engagement stats. An empty
// key list means every known account.
func (s *Service) AggregateCampaigns(ctx context.Context, accountKeys []string) (fanout.Report[domain.Campaign], error) {
	return aggregate(ctx, s, "campaigns", accountKeys, domain.CapCampaigns, s.campaignsFor)
}

func (s *Service) campaignsFor(ctx context.Context, a *providers.Adapter, creds domain.Credentials) ([]domain.Campaign, error) {
	scoped := creds.ScopedID()
	var list []domain.Campaign
	hit := false
	if s.Cache != nil {
		list, hit = s.Cache.Get(ctx, a.Provider, scoped)
	}
	if !hit {
		fetched, err := a.Campaigns.FetchCampaigns(ctx, creds)
		if err != nil {
			return nil, err
		}
		list = fetched
		if s.Cache != nil {
			if err := s.Cache.Set(ctx, a.Provider, scoped, list); err != nil {
				slog.Warn("campaign cache write failed", "provider", a.Provider, "account_id", scoped, "err", err)
			}
		}
	}
	return s.withStats(ctx, a.Provider, creds, list), nil
}

// withStats attaches stored aggregates. A stats read failure leaves the
// campaigns without stats rather than failing the account.
func (s *Service) withStats(ctx context.Context, provider string, creds domain.Credentials, list []domain.Campaign) []domain.Campaign {
	if len(list) == 0 || s.Stats == nil {
		return list
	}
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	stats, err := s.Stats.GetCampaignStats(ctx, provider, creds.ScopedID(), ids)
	if err != nil {
		slog.Warn("campaign stats read failed", "provider", provider, "account_id", creds.ScopedID(), "err", err)
		return list
	}
	out := make([]domain.Campaign, len(list))
	for i, c := range list {
		c.AccountKey = creds.AccountKey
		if st, ok := stats[c.ID]; ok {
			c.Stats = &st
		}
		out[i] = c
	}
	return out
}

func (s *Service) AggregateWorkflows(ctx context.Context, accountKeys []string) (fanout.Report[domain.Workflow], error) {
	return aggregate(ctx, s, "workflows", accountKeys, domain.CapWorkflows,
		func(ctx context.Context, a *providers.Adapter, creds domain.Credentials) ([]domain.Workflow, error) {
			return a.Workflows.FetchWorkflows(ctx, creds)
		})
}

func (s *Service) AggregateContacts(ctx context.Context, accountKeys []string, limit int) (fanout.Report[domain.Contact], error) {
	return aggregate(ctx, s, "contacts", accountKeys, domain.CapContacts,
		func(ctx context.Context, a *providers.Adapter, creds domain.Credentials) ([]domain.Contact, error) {
			return a.Contacts.ListContacts(ctx, creds, limit)
		})
}
