package webhook

import (
	"log/slog"

	"esphub/internal/domain"
)

// Normalize expands provider events into canonical events, one per campaign
// id. Events with an untracked name or without account or campaign ids are
// skipped; skipped counts provider events, not campaigns.
func Normalize(provider string, in []domain.ProviderEvent) ([]domain.CanonicalWebhookEvent, int) {
	out := make([]domain.CanonicalWebhookEvent, 0, len(in))
	skipped := 0
	for _, ev := range in {
		col, ok := domain.ColumnFor(ev.Name)
		if !ok {
			skipped++
			slog.Debug("webhook event not tracked", "provider", provider, "event", ev.RawName)
			continue
		}
		if ev.AccountID == "" {
			skipped++
			slog.Info("webhook event without account id", "provider", provider, "event", ev.RawName, "event_id", ev.EventID)
			continue
		}
		if len(ev.CampaignIDs) == 0 {
			skipped++
			slog.Info("webhook event without campaign id", "provider", provider, "account_id", ev.AccountID, "event", ev.RawName)
			continue
		}
		raw := ev.RawName
		if raw == "" {
			raw = ev.Name
		}
		for _, cid := range ev.CampaignIDs {
			if cid == "" {
				continue
			}
			out = append(out, domain.CanonicalWebhookEvent{
				Provider:     provider,
				AccountID:    ev.AccountID,
				CampaignID:   cid,
				Column:       col,
				OccurredAt:   ev.OccurredAt,
				RawEventName: raw,
				EventID:      ev.EventID,
			})
		}
	}
	return out, skipped
}
