package domain

import (
	"errors"
	"testing"
	"time"
)

func TestColumnFor(t *testing.T) {
	cases := []struct {
		name string
		want StatColumn
		ok   bool
	}{
		{"delivered", ColDelivered, true},
		{"Email Delivered", ColDelivered, true},
		{"opened", ColOpened, true},
		{"Opened Email", ColOpened, true},
		{"clicked", ColClicked, true},
		{"LinkClick", ColClicked, true},
		{"bounced", ColBounced, true},
		{"hard_bounce", ColBounced, true},
		{"complained", ColComplained, true},
		{"Marked Email as Spam", ColComplained, true},
		{"unsubscribed", ColUnsubscribed, true},
		{"unsubscribe_click", ColUnsubscribed, true},
		{"spam_bounce", ColComplained, true},
		{"  OPENED  ", ColOpened, true},
		{"sent", "", false},
		{"", "", false},
		{"ContactCreate", "", false},
	}
	for _, tc := range cases {
		got, ok := ColumnFor(tc.name)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ColumnFor(%q) = %q,%v want %q,%v", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCampaignStatsAddIsOrderIndependent(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	events := []struct {
		col StatColumn
		at  time.Time
	}{
		{ColDelivered, t0.Add(5 * time.Second)},
		{ColDelivered, t0},
		{ColOpened, t0.Add(30 * time.Second)},
		{ColClicked, t0.Add(10 * time.Second)},
		{ColBounced, t0.Add(-time.Minute)},
	}

	// every rotation of the event list must converge on the same aggregate
	var first CampaignStats
	for shift := 0; shift < len(events); shift++ {
		var s CampaignStats
		for i := range events {
			ev := events[(i+shift)%len(events)]
			s.Add(ev.col, ev.at)
		}
		if shift == 0 {
			first = s
		}
		if s.DeliveredCount != 2 || s.OpenedCount != 1 || s.ClickedCount != 1 || s.BouncedCount != 1 {
			t.Fatalf("shift %d: unexpected counters %+v", shift, s)
		}
		if !s.FirstDeliveredAt.Equal(t0) {
			t.Fatalf("shift %d: first delivered = %v want %v", shift, s.FirstDeliveredAt, t0)
		}
		if !s.LastEventAt.Equal(t0.Add(30 * time.Second)) {
			t.Fatalf("shift %d: last event = %v", shift, s.LastEventAt)
		}
		if !s.LastEventAt.Equal(*first.LastEventAt) {
			t.Fatalf("shift %d diverged from shift 0", shift)
		}
	}
}

func TestCampaignStatsMergeKeepsMaximum(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := CampaignStats{DeliveredCount: 10, OpenedCount: 2}
	s.Add(ColDelivered, t0.Add(time.Hour))

	s.Merge(CampaignStats{DeliveredCount: 5, OpenedCount: 7, FirstDeliveredAt: &t0})
	if s.DeliveredCount != 11 || s.OpenedCount != 7 {
		t.Fatalf("unexpected counters after merge: %+v", s)
	}
	if !s.FirstDeliveredAt.Equal(t0) {
		t.Fatalf("expected earlier first delivered, got %v", s.FirstDeliveredAt)
	}
	if !s.LastEventAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("last event must not move back, got %v", s.LastEventAt)
	}
}

func TestCapabilityUnsupportedErrorIs(t *testing.T) {
	var err error = &CapabilityUnsupportedError{Provider: "klaviyo", Capability: CapWorkflows}
	if !errors.Is(err, ErrCapabilityUnsupported) {
		t.Fatalf("expected error to match ErrCapabilityUnsupported")
	}
}
