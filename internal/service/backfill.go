package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"esphub/internal/domain"
	"esphub/internal/fanout"
	"esphub/internal/observability"
)

type BackfillResult struct {
	Status string                `json:"status"`
	Error  string                `json:"error,omitempty"`
	Stats  *domain.CampaignStats `json:"stats,omitempty"`
}

type BackfillReport struct {
	AccountKey string                    `json:"accountKey"`
	Provider   string                    `json:"provider"`
	AccountID  string                    `json:"accountId"`
	Merged     int                       `json:"merged"`
	Failed     int                       `json:"failed"`
	Campaigns  map[string]BackfillResult `json:"campaigns"`
}

// Backfill pulls provider analytics for campaignIDs (all campaigns when empty)
// and merges them into the stored aggregates without lowering any counter.
// Each analytics call has its own timeout; a slow or failing campaign only
// fails its own entry.
func (s *Service) Backfill(ctx context.Context, accountKey string, campaignIDs []string) (BackfillReport, error) {
	a, creds, err := s.Resolve(ctx, accountKey, domain.CapCampaigns)
	if err != nil {
		return BackfillReport{}, err
	}
	rep := BackfillReport{
		AccountKey: accountKey,
		Provider:   a.Provider,
		AccountID:  creds.ScopedID(),
		Campaigns:  map[string]BackfillResult{},
	}

	ids := dedupe(campaignIDs)
	if len(ids) == 0 {
		list, err := fanout.WithTimeout(ctx, s.callTimeout(), func(ctx context.Context) ([]domain.Campaign, error) {
			return a.Campaigns.FetchCampaigns(ctx, creds)
		})
		if err != nil {
			return rep, fmt.Errorf("list campaigns: %w", err)
		}
		for _, c := range list {
			ids = append(ids, c.ID)
		}
	}

	var mu sync.Mutex
	record := func(id string, r BackfillResult) {
		mu.Lock()
		defer mu.Unlock()
		rep.Campaigns[id] = r
		if r.Status == "merged" {
			rep.Merged++
		} else {
			rep.Failed++
		}
	}

	tasks := make([]fanout.Task, 0, len(ids))
	for _, id := range ids {
		id := id
		tasks = append(tasks, func(ctx context.Context) error {
			an, err := fanout.WithTimeout(ctx, s.callTimeout(), func(ctx context.Context) (domain.CampaignAnalytics, error) {
				return a.Campaigns.FetchAnalytics(ctx, creds, id)
			})
			if err != nil {
				slog.Warn("backfill analytics failed", "provider", a.Provider, "account_key", accountKey, "campaign_id", id, "err", err)
				record(id, BackfillResult{Status: "error", Error: err.Error()})
				return err
			}
			st := fromAnalytics(a.Provider, creds.ScopedID(), id, an)
			if err := s.Stats.MergeCampaignStats(ctx, st); err != nil {
				slog.Error("backfill merge failed", "provider", a.Provider, "account_id", st.AccountID, "campaign_id", id, "err", err)
				record(id, BackfillResult{Status: "error", Error: err.Error()})
				return err
			}
			record(id, BackfillResult{Status: "merged", Stats: &st})
			return nil
		})
	}
	fanout.RunBounded(ctx, s.backfillConcurrency(), tasks)

	if rep.Merged > 0 && s.Cache != nil {
		if err := s.Cache.Invalidate(ctx, a.Provider, rep.AccountID); err != nil {
			slog.Warn("campaign cache invalidation failed", "provider", a.Provider, "account_id", rep.AccountID, "err", err)
		}
	}
	observability.BackfillJobs.WithLabelValues("run", resultLabel(rep)).Inc()
	slog.Info("backfill finished", "provider", a.Provider, "account_key", accountKey, "merged", rep.Merged, "failed", rep.Failed)
	return rep, nil
}

func fromAnalytics(provider, accountID, campaignID string, an domain.CampaignAnalytics) domain.CampaignStats {
	return domain.CampaignStats{
		Provider:          provider,
		AccountID:         accountID,
		CampaignID:        campaignID,
		DeliveredCount:    an.Delivered,
		OpenedCount:       an.Opened,
		ClickedCount:      an.Clicked,
		BouncedCount:      an.Bounced,
		ComplainedCount:   an.Complained,
		UnsubscribedCount: an.Unsubscribed,
		FirstDeliveredAt:  an.FirstSentAt,
		LastEventAt:       an.LastEventAt,
	}
}

func resultLabel(rep BackfillReport) string {
	switch {
	case rep.Failed == 0:
		return "ok"
	case rep.Merged == 0:
		return "error"
	}
	return "partial"
}
