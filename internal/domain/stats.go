package domain

import (
	"strings"
	"time"
)

// StatColumn names one counter of a CampaignStats aggregate.
type StatColumn string

const (
	ColDelivered    StatColumn = "deliveredCount"
	ColOpened       StatColumn = "openedCount"
	ColClicked      StatColumn = "clickedCount"
	ColBounced      StatColumn = "bouncedCount"
	ColComplained   StatColumn = "complainedCount"
	ColUnsubscribed StatColumn = "unsubscribedCount"
)

// columnRules is checked in order; the first matching substring wins, so an
// "unsubscribe_click" event counts as an unsubscribe and not a click.
var columnRules = []struct {
	needles []string
	column  StatColumn
}{
	{[]string{"unsubscribe"}, ColUnsubscribed},
	{[]string{"complain", "spam"}, ColComplained},
	{[]string{"bounce"}, ColBounced},
	{[]string{"click"}, ColClicked},
	{[]string{"open"}, ColOpened},
	{[]string{"deliver"}, ColDelivered},
}

// ColumnFor maps a raw provider event name to a counter column using
// case-insensitive substring matching. ok is false for untracked events.
func ColumnFor(eventName string) (StatColumn, bool) {
	name := strings.ToLower(strings.TrimSpace(eventName))
	if name == "" {
		return "", false
	}
	for _, rule := range columnRules {
		for _, n := range rule.needles {
			if strings.Contains(name, n) {
				return rule.column, true
			}
		}
	}
	return "", false
}

// CampaignStats is the durable per-campaign engagement aggregate keyed by
// (provider, accountId, campaignId). Counters never decrease.
type CampaignStats struct {
	Provider          string     `json:"provider"`
	AccountID         string     `json:"accountId"`
	CampaignID        string     `json:"campaignId"`
	DeliveredCount    int64      `json:"deliveredCount"`
	OpenedCount       int64      `json:"openedCount"`
	ClickedCount      int64      `json:"clickedCount"`
	BouncedCount      int64      `json:"bouncedCount"`
	ComplainedCount   int64      `json:"complainedCount"`
	UnsubscribedCount int64      `json:"unsubscribedCount"`
	FirstDeliveredAt  *time.Time `json:"firstDeliveredAt,omitempty"`
	LastEventAt       *time.Time `json:"lastEventAt,omitempty"`
}

// Add applies a single-event increment in memory with the same semantics as
// the durable upsert.
func (s *CampaignStats) Add(column StatColumn, at time.Time) {
	switch column {
	case ColDelivered:
		s.DeliveredCount++
		s.FirstDeliveredAt = minTime(s.FirstDeliveredAt, at)
	case ColOpened:
		s.OpenedCount++
	case ColClicked:
		s.ClickedCount++
	case ColBounced:
		s.BouncedCount++
	case ColComplained:
		s.ComplainedCount++
	case ColUnsubscribed:
		s.UnsubscribedCount++
	}
	s.LastEventAt = maxTime(s.LastEventAt, at)
}

// Merge folds a backfilled snapshot in, keeping the larger value per counter.
func (s *CampaignStats) Merge(o CampaignStats) {
	s.DeliveredCount = max(s.DeliveredCount, o.DeliveredCount)
	s.OpenedCount = max(s.OpenedCount, o.OpenedCount)
	s.ClickedCount = max(s.ClickedCount, o.ClickedCount)
	s.BouncedCount = max(s.BouncedCount, o.BouncedCount)
	s.ComplainedCount = max(s.ComplainedCount, o.ComplainedCount)
	s.UnsubscribedCount = max(s.UnsubscribedCount, o.UnsubscribedCount)
	if o.FirstDeliveredAt != nil {
		s.FirstDeliveredAt = minTime(s.FirstDeliveredAt, *o.FirstDeliveredAt)
	}
	if o.LastEventAt != nil {
		s.LastEventAt = maxTime(s.LastEventAt, *o.LastEventAt)
	}
}

func minTime(cur *time.Time, t time.Time) *time.Time {
	if cur == nil || t.Before(*cur) {
		v := t
		return &v
	}
	return cur
}

func maxTime(cur *time.Time, t time.Time) *time.Time {
	if cur == nil || t.After(*cur) {
		v := t
		return &v
	}
	return cur
}

// ProviderEvent is what a provider extractor pulls out of one raw webhook
// event before column mapping. CampaignIDs may hold several ids.
type ProviderEvent struct {
	EventID     string
	Name        string
	RawName     string
	AccountID   string
	CampaignIDs []string
	OccurredAt  time.Time
}

// CanonicalWebhookEvent is an in-memory normalized engagement event.
type CanonicalWebhookEvent struct {
	Provider     string
	AccountID    string
	CampaignID   string
	Column       StatColumn
	OccurredAt   time.Time
	RawEventName string
	EventID      string
}

// DedupKey identifies the event in the dedup ledger; empty when the provider
// supplied no stable id.
func (e CanonicalWebhookEvent) DedupKey() string {
	if e.EventID == "" {
		return ""
	}
	return e.Provider + ":" + e.EventID + ":" + e.CampaignID
}
