package main

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"esphub/internal/util"
)

type event struct {
	campaignID string
	name       string
	at         time.Time
	id         string
}

// plan builds the engagement sequence for one send: every recipient is
// delivered, most open, some of those click, and a few bounce instead.
func (s *server) plan(campaignID string, recipients int, start time.Time) []event {
	var out []event
	at := start
	next := func() time.Time {
		at = at.Add(time.Second)
		return at
	}
	for i := 0; i < recipients; i++ {
		if s.chance(0.05) {
			out = append(out, event{campaignID, "bounced", next(), util.NewID("evt")})
			continue
		}
		out = append(out, event{campaignID, "delivered", next(), util.NewID("evt")})
		if s.chance(0.6) {
			out = append(out, event{campaignID, "opened", next(), util.NewID("evt")})
			if s.chance(0.4) {
				out = append(out, event{campaignID, "clicked", next(), util.NewID("evt")})
			}
		}
	}
	return out
}

func (s *server) chance(p float64) bool {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < p
}

func (s *server) payload(ev event) ([]byte, error) {
	ts := ev.at.Format(time.RFC3339)
	return json.Marshal(map[string]any{
		"type":       "LCEmailStats",
		"locationId": s.cfg.LocationID,
		"campaignId": ev.campaignID,
		"webhookPayload": map[string]any{
			"id":         ev.id,
			"event":      ev.name,
			"timestamp":  ts,
			"locationId": s.cfg.LocationID,
			"campaignId": ev.campaignID,
		},
	})
}

func (s *server) sign(body []byte) (string, error) {
	sum := sha256.Sum256(body)
	sig, err := rsa.SignPKCS1v15(nil, s.key, crypto.SHA256, sum[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *server) record(ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[ev.campaignID]
	if st == nil {
		return
	}
	switch ev.name {
	case "delivered":
		st.Delivered++
		if st.FirstSentAt == "" {
			st.FirstSentAt = ev.at.Format(time.RFC3339)
		}
	case "opened":
		st.Opened++
	case "clicked":
		st.Clicked++
	case "bounced":
		st.Bounced++
	}
	st.LastEventAt = ev.at.Format(time.RFC3339)
}

// emit posts each event in order. With probability DuplicateRate the exact
// same signed body is posted again, as a provider retrying after a lost ack
// would.
func (s *server) emit(events []event) {
	ctx := context.Background()
	for _, ev := range events {
		s.record(ev)
		body, err := s.payload(ev)
		if err != nil {
			slog.Error("mock webhook encode failed", "err", err)
			continue
		}
		sig, err := s.sign(body)
		if err != nil {
			slog.Error("mock webhook sign failed", "err", err)
			continue
		}
		if err := s.postWithRetry(ctx, body, sig); err != nil {
			continue
		}
		if s.chance(s.cfg.DuplicateRate) {
			slog.Info("mock webhook redelivery", "event_id", ev.id, "event", ev.name)
			_ = s.postWithRetry(ctx, body, sig)
		}
		if s.cfg.EventSpacing > 0 {
			s.sleep(s.cfg.EventSpacing)
		}
	}
}

func (s *server) postWithRetry(ctx context.Context, body []byte, sig string) error {
	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Simulated network loss before the request leaves.
		if s.chance(s.cfg.FailureRate) {
			slog.Warn("mock webhook dropped", "attempt", attempt+1)
			s.sleep(s.backoff(attempt))
			continue
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-wh-signature", sig)

		resp, err := s.client.Do(req)
		status := 0
		retryAfter := time.Duration(0)
		if resp != nil {
			status = resp.StatusCode
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			_ = resp.Body.Close()
		}
		if err == nil && status >= 200 && status < 300 {
			return nil
		}

		if attempt == maxAttempts-1 {
			slog.Error("mock webhook post failed", "url", s.cfg.WebhookURL, "attempt", attempt+1, "status", status, "err", err)
			return fmt.Errorf("webhook post failed: status=%d err=%v", status, err)
		}
		if err == nil && !isRetryableStatus(status) {
			slog.Error("mock webhook post non-retryable", "url", s.cfg.WebhookURL, "status", status)
			return fmt.Errorf("webhook post non-retryable: status=%d", status)
		}

		wait := retryAfter
		if wait <= 0 {
			wait = s.backoff(attempt)
		}
		slog.Warn("mock webhook post retrying", "attempt", attempt+1, "status", status, "wait_ms", wait.Milliseconds())
		s.sleep(wait)
	}
	return fmt.Errorf("webhook post failed after %d attempts", maxAttempts)
}

// backoff is 250ms doubling per attempt, capped at 10s, with +/-20% jitter.
func (s *server) backoff(attempt int) time.Duration {
	wait := 250 * time.Millisecond * time.Duration(1<<attempt)
	if wait > 10*time.Second {
		wait = 10 * time.Second
	}
	delta := int64(wait) / 5
	s.rngMu.Lock()
	j := s.rng.Int63n(2*delta+1) - delta
	s.rngMu.Unlock()
	return time.Duration(int64(wait) + j)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
