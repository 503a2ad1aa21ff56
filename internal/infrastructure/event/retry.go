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

// defaultStaleAfter is how long a job may sit in processing before it is
// presumed stranded by a dead dispatch pass
const defaultStaleAfter = 5 * time.Minute

// RetryRequest selects which tenant's failed jobs to requeue
type RetryRequest struct {
	TenantID    uuid.UUID
	MaxAttempts int
	// StaleAfter overrides the stranded-job threshold when positive
	StaleAfter time.Duration
}

// RetryResult reports how many jobs were requeued
type RetryResult struct {
	Retried   int
	Reclaimed int
}

// RetryPass requeues failed-but-not-exhausted jobs whose backoff has
// elapsed, making them eligible for the next dispatch pass. The backoff
// itself was stamped on the job at failure time, so the pass only has to
// compare next_retry_at against now. It also reclaims jobs stranded in
// processing by a crashed pass once they go stale.
type RetryPass struct {
	jobs webhook.OutboxRepository
}

// NewRetryPass creates a retry pass
func NewRetryPass(jobs webhook.OutboxRepository) *RetryPass {
	return &RetryPass{jobs: jobs}
}

// Run requeues the tenant's due failed jobs and reclaims stale processing
// jobs. Jobs at or past MaxAttempts are never requeued.
func (r *RetryPass) Run(ctx context.Context, req RetryRequest) (RetryResult, error) {
	if req.TenantID == uuid.Nil {
		return RetryResult{}, shared.ErrTenantIDRequired
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = webhook.DefaultMaxAttempts
	}
	if req.StaleAfter <= 0 {
		req.StaleAfter = defaultStaleAfter
	}

	now := time.Now()

	reclaimed, err := r.jobs.RequeueStale(ctx, req.TenantID, now.Add(-req.StaleAfter))
	if err != nil {
		return RetryResult{}, err
	}
	if reclaimed > 0 {
		logger.L(ctx).Warn("reclaimed stranded deliveries",
			zap.String("tenant_id", req.TenantID.String()),
			zap.Int64("reclaimed", reclaimed),
		)
	}

	count, err := r.jobs.RequeueRetryable(ctx, req.TenantID, req.MaxAttempts, now)
	if err != nil {
		return RetryResult{}, err
	}

	if count > 0 {
		logger.L(ctx).Debug("requeued failed deliveries",
			zap.String("tenant_id", req.TenantID.String()),
			zap.Int64("retried", count),
		)
	}
	return RetryResult{Retried: int(count), Reclaimed: int(reclaimed)}, nil
}
