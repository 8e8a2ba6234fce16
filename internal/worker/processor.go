// Package worker runs queued analytics backfills.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"esphub/internal/domain"
	"esphub/internal/observability"
	"esphub/internal/service"
)

type Backfiller interface {
	Backfill(ctx context.Context, accountKey string, campaignIDs []string) (service.BackfillReport, error)
}

type Processor struct {
	Svc Backfiller
	// JobTimeout bounds one job; it should stay under the queue visibility timeout.
	JobTimeout time.Duration
}

// Process runs one job. Jobs that can never succeed (unknown account, no
// credentials, provider without campaigns) are dropped by returning nil. Any
// failed campaign returns an error so the message is redriven; merging is
// idempotent, so campaigns that already merged are safe to repeat.
func (p *Processor) Process(ctx context.Context, job domain.BackfillJob) error {
	if p.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	rep, err := p.Svc.Backfill(ctx, job.AccountKey, job.CampaignIDs)
	if err != nil {
		if permanent(err) {
			observability.BackfillJobs.WithLabelValues("worker", "dropped").Inc()
			slog.Warn("backfill job dropped", "job_id", job.ID, "account_key", job.AccountKey, "err", err)
			return nil
		}
		observability.BackfillJobs.WithLabelValues("worker", "error").Inc()
		return err
	}

	slog.Info("backfill job done",
		"job_id", job.ID,
		"account_key", job.AccountKey,
		"provider", rep.Provider,
		"merged", rep.Merged,
		"failed", rep.Failed,
		"duration", time.Since(start),
	)
	if rep.Failed > 0 {
		observability.BackfillJobs.WithLabelValues("worker", "partial").Inc()
		return fmt.Errorf("backfill %s: %d of %d campaigns failed", job.ID, rep.Failed, rep.Failed+rep.Merged)
	}
	observability.BackfillJobs.WithLabelValues("worker", "ok").Inc()
	return nil
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrAccountNotFound) ||
		errors.Is(err, domain.ErrCredentialsMissing) ||
		errors.Is(err, domain.ErrCapabilityUnsupported) ||
		errors.Is(err, domain.ErrAdapterNotRegistered)
}
