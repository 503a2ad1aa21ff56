package event

import (
	"context"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/cms/backend/internal/domain/webhook"
	"github.com/cms/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FanOutRequest selects which tenant's events to fan out and how many
type FanOutRequest struct {
	TenantID uuid.UUID
	Limit    int
}

// FanOutResult reports how many events were fanned out
type FanOutResult struct {
	Processed int
}

// FanOut turns recorded domain events into pending delivery jobs, one per
// matching active webhook. It performs no network I/O.
type FanOut struct {
	events     shared.EventStore
	webhooks   webhook.Repository
	jobs       webhook.OutboxRepository
	maxAttempt int
}

// NewFanOut creates a FanOut stage. maxAttempts seeds the per-job retry
// budget; zero falls back to the domain default.
func NewFanOut(events shared.EventStore, webhooks webhook.Repository, jobs webhook.OutboxRepository, maxAttempts int) *FanOut {
	if maxAttempts <= 0 {
		maxAttempts = webhook.DefaultMaxAttempts
	}
	return &FanOut{
		events:     events,
		webhooks:   webhooks,
		jobs:       jobs,
		maxAttempt: maxAttempts,
	}
}

// Run fans out the tenant's unfanned events, oldest first. Events with no
// matching webhooks are still stamped so they are not reconsidered. The
// unique (webhook_id, event_id) constraint makes a re-run after a partial
// failure safe.
func (f *FanOut) Run(ctx context.Context, req FanOutRequest) (FanOutResult, error) {
	if req.TenantID == uuid.Nil {
		return FanOutResult{}, shared.ErrTenantIDRequired
	}
	if req.Limit <= 0 {
		return FanOutResult{}, nil
	}

	events, err := f.events.FindPendingFanOut(ctx, req.TenantID, req.Limit)
	if err != nil {
		return FanOutResult{}, err
	}
	if len(events) == 0 {
		return FanOutResult{}, nil
	}

	log := logger.L(ctx)
	fanned := make([]uuid.UUID, 0, len(events))

	for _, ev := range events {
		hooks, err := f.webhooks.FindActiveMatching(ctx, req.TenantID, ev.Type)
		if err != nil {
			return FanOutResult{Processed: len(fanned)}, err
		}

		if len(hooks) > 0 {
			jobs := make([]*webhook.OutboxJob, 0, len(hooks))
			for _, hook := range hooks {
				job, err := webhook.NewOutboxJob(ev, hook, f.maxAttempt)
				if err != nil {
					// Cross-tenant pairing means corrupted data, not a
					// transient condition. Skip the pair, keep the event.
					log.Error("skipping invalid webhook/event pair",
						zap.String("webhook_id", hook.ID.String()),
						zap.String("event_id", ev.ID.String()),
						zap.Error(err),
					)
					continue
				}
				jobs = append(jobs, job)
			}
			if err := f.jobs.CreateIgnoreDuplicates(ctx, jobs...); err != nil {
				return FanOutResult{Processed: len(fanned)}, err
			}
		}

		fanned = append(fanned, ev.ID)
	}

	if err := f.events.MarkFannedOut(ctx, fanned, time.Now()); err != nil {
		return FanOutResult{}, err
	}

	log.Debug("fan-out pass complete",
		zap.String("tenant_id", req.TenantID.String()),
		zap.Int("events", len(fanned)),
	)
	return FanOutResult{Processed: len(fanned)}, nil
}
