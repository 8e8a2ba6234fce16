package pg

import (
	"context"
	"time"

	"esphub/internal/domain"
	"esphub/internal/store"
)

// IncrementCampaignStat applies one event. The update is commutative: counters
// add, first_delivered_at keeps the earliest delivery and last_event_at the
// latest event, so redelivered or reordered webhooks converge.
func (s *Store) IncrementCampaignStat(ctx context.Context, in store.StatIncrement) error {
	d := deltas(in.Column)
	var firstDelivered *time.Time
	if in.Column == domain.ColDelivered {
		t := in.OccurredAt
		firstDelivered = &t
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO campaign_stats (provider, account_id, campaign_id,
			delivered_count, opened_count, clicked_count, bounced_count, complained_count, unsubscribed_count,
			first_delivered_at, last_event_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
		ON CONFLICT (provider, account_id, campaign_id) DO UPDATE SET
			delivered_count = campaign_stats.delivered_count + EXCLUDED.delivered_count,
			opened_count = campaign_stats.opened_count + EXCLUDED.opened_count,
			clicked_count = campaign_stats.clicked_count + EXCLUDED.clicked_count,
			bounced_count = campaign_stats.bounced_count + EXCLUDED.bounced_count,
			complained_count = campaign_stats.complained_count + EXCLUDED.complained_count,
			unsubscribed_count = campaign_stats.unsubscribed_count + EXCLUDED.unsubscribed_count,
			first_delivered_at = LEAST(campaign_stats.first_delivered_at, EXCLUDED.first_delivered_at),
			last_event_at = GREATEST(campaign_stats.last_event_at, EXCLUDED.last_event_at),
			updated_at = now()
	`, in.Provider, in.AccountID, in.CampaignID,
		d[0], d[1], d[2], d[3], d[4], d[5],
		firstDelivered, in.OccurredAt)
	return err
}

func (s *Store) MergeCampaignStats(ctx context.Context, in domain.CampaignStats) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO campaign_stats (provider, account_id, campaign_id,
			delivered_count, opened_count, clicked_count, bounced_count, complained_count, unsubscribed_count,
			first_delivered_at, last_event_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
		ON CONFLICT (provider, account_id, campaign_id) DO UPDATE SET
			delivered_count = GREATEST(campaign_stats.delivered_count, EXCLUDED.delivered_count),
			opened_count = GREATEST(campaign_stats.opened_count, EXCLUDED.opened_count),
			clicked_count = GREATEST(campaign_stats.clicked_count, EXCLUDED.clicked_count),
			bounced_count = GREATEST(campaign_stats.bounced_count, EXCLUDED.bounced_count),
			complained_count = GREATEST(campaign_stats.complained_count, EXCLUDED.complained_count),
			unsubscribed_count = GREATEST(campaign_stats.unsubscribed_count, EXCLUDED.unsubscribed_count),
			first_delivered_at = LEAST(campaign_stats.first_delivered_at, EXCLUDED.first_delivered_at),
			last_event_at = GREATEST(campaign_stats.last_event_at, EXCLUDED.last_event_at),
			updated_at = now()
	`, in.Provider, in.AccountID, in.CampaignID,
		in.DeliveredCount, in.OpenedCount, in.ClickedCount, in.BouncedCount, in.ComplainedCount, in.UnsubscribedCount,
		in.FirstDeliveredAt, in.LastEventAt)
	return err
}

func (s *Store) GetCampaignStats(ctx context.Context, provider, accountID string, campaignIDs []string) (map[string]domain.CampaignStats, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT provider, account_id, campaign_id,
			delivered_count, opened_count, clicked_count, bounced_count, complained_count, unsubscribed_count,
			first_delivered_at, last_event_at
		FROM campaign_stats
		WHERE provider=$1 AND account_id=$2 AND (cardinality($3::text[]) = 0 OR campaign_id = ANY($3))
	`, provider, accountID, keysParam(campaignIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.CampaignStats)
	for rows.Next() {
		var st domain.CampaignStats
		if err := rows.Scan(&st.Provider, &st.AccountID, &st.CampaignID,
			&st.DeliveredCount, &st.OpenedCount, &st.ClickedCount, &st.BouncedCount, &st.ComplainedCount, &st.UnsubscribedCount,
			&st.FirstDeliveredAt, &st.LastEventAt); err != nil {
			return nil, err
		}
		out[st.CampaignID] = st
	}
	return out, rows.Err()
}

// WipeCampaignStats is the administrative wipe; nothing else deletes aggregates.
func (s *Store) WipeCampaignStats(ctx context.Context, provider, accountID string) (int64, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM campaign_stats WHERE provider=$1 AND account_id=$2`, provider, accountID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// deltas orders counters as delivered, opened, clicked, bounced, complained, unsubscribed.
func deltas(col domain.StatColumn) [6]int64 {
	var d [6]int64
	switch col {
	case domain.ColDelivered:
		d[0] = 1
	case domain.ColOpened:
		d[1] = 1
	case domain.ColClicked:
		d[2] = 1
	case domain.ColBounced:
		d[3] = 1
	case domain.ColComplained:
		d[4] = 1
	case domain.ColUnsubscribed:
		d[5] = 1
	}
	return d
}
