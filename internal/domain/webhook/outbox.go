package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// JobStatus is the delivery state of an outbox job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// Default retry configuration
const (
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = time.Second
)

// OutboxJob is one durable delivery attempt record: a domain event bound to a
// single matching webhook. Fan-out creates one job per (event, webhook) pair;
// the (WebhookID, EventID) pair is unique so re-running fan-out is idempotent.
type OutboxJob struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	WebhookID   uuid.UUID
	EventID     uuid.UUID
	EventType   shared.EventType
	Payload     json.RawMessage
	Status      JobStatus
	RetryCount  int
	MaxAttempts int
	LastError   string
	NextRetryAt *time.Time
	DeliveredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOutboxJob binds an event to a matching webhook. The job inherits the
// tenant id from both; an event/webhook tenant mismatch is rejected.
func NewOutboxJob(event *shared.Event, hook *Webhook, maxAttempts int) (*OutboxJob, error) {
	if event.TenantID != hook.TenantID {
		return nil, shared.ErrCrossTenant
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := time.Now()
	return &OutboxJob{
		ID:          uuid.New(),
		TenantID:    event.TenantID,
		WebhookID:   hook.ID,
		EventID:     event.ID,
		EventType:   event.Type,
		Payload:     event.Payload,
		Status:      JobStatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MarkProcessing claims the job for a dispatch pass.
func (j *OutboxJob) MarkProcessing() error {
	if j.Status != JobStatusPending {
		return errors.New("only pending jobs can be claimed for processing")
	}
	j.Status = JobStatusProcessing
	j.UpdatedAt = time.Now()
	return nil
}

// MarkDone records a successful delivery.
func (j *OutboxJob) MarkDone() {
	now := time.Now()
	j.Status = JobStatusDone
	j.LastError = ""
	j.NextRetryAt = nil
	j.DeliveredAt = &now
	j.UpdatedAt = now
}

// MarkFailed records a failed delivery attempt. While attempts remain, the
// job becomes retryable with an exponentially growing backoff; once
// RetryCount reaches MaxAttempts it is terminally failed.
func (j *OutboxJob) MarkFailed(errMsg string) {
	j.RetryCount++
	j.LastError = errMsg
	j.UpdatedAt = time.Now()
	j.Status = JobStatusFailed

	if j.RetryCount < j.MaxAttempts {
		next := time.Now().Add(BackoffFor(j.RetryCount, DefaultBaseBackoff))
		j.NextRetryAt = &next
	} else {
		j.NextRetryAt = nil
	}
}

// MarkFailedTerminal fails the job with no attempts left. Used when no
// further delivery can ever succeed, such as the webhook being deleted;
// RetryCount lands exactly at MaxAttempts so no retry pass requeues it.
func (j *OutboxJob) MarkFailedTerminal(errMsg string) {
	j.RetryCount = j.MaxAttempts
	j.LastError = errMsg
	j.NextRetryAt = nil
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
}

// Exhausted reports whether the job has used up all delivery attempts.
func (j *OutboxJob) Exhausted() bool {
	return j.RetryCount >= j.MaxAttempts
}

// CanRetry reports whether a failed job is still eligible for requeueing.
func (j *OutboxJob) CanRetry() bool {
	return j.Status == JobStatusFailed && !j.Exhausted()
}

// Requeue returns a retryable failed job to pending for the next dispatch
// pass.
func (j *OutboxJob) Requeue() error {
	if !j.CanRetry() {
		return errors.New("only non-exhausted failed jobs can be requeued")
	}
	j.Status = JobStatusPending
	j.NextRetryAt = nil
	j.UpdatedAt = time.Now()
	return nil
}

// BackoffFor returns the delay before attempt n (1-based) becomes eligible
// again: base, 2*base, 4*base, ... capped at 2^10 * base. Monotonically
// non-decreasing in n.
func BackoffFor(n int, base time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	shift := uint(n - 1)
	if shift > 10 {
		shift = 10
	}
	return base * time.Duration(1<<shift)
}

// OutboxRepository is the persistence port for outbox jobs.
type OutboxRepository interface {
	// CreateIgnoreDuplicates inserts jobs, silently skipping any whose
	// (webhook_id, event_id) pair already exists.
	CreateIgnoreDuplicates(ctx context.Context, jobs ...*OutboxJob) error
	// ClaimPending atomically transitions up to limit pending jobs (oldest
	// first) for the tenant to processing and returns them. A job claimed by
	// one dispatch pass is never returned to a concurrent one.
	ClaimPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]*OutboxJob, error)
	// RequeueRetryable returns to pending the tenant's failed jobs that still
	// have attempts left and whose backoff delay has elapsed by now.
	RequeueRetryable(ctx context.Context, tenantID uuid.UUID, maxAttempts int, now time.Time) (int64, error)
	// RequeueStale returns to pending the tenant's processing jobs untouched
	// since cutoff. A dispatch pass killed mid-claim strands its jobs in
	// processing; this makes them claimable again.
	RequeueStale(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) (int64, error)
	// Update persists job state changes.
	Update(ctx context.Context, job *OutboxJob) error
	// FindByID retrieves a single job.
	FindByID(ctx context.Context, id uuid.UUID) (*OutboxJob, error)
	// ListByStatus retrieves the tenant's jobs in the given status, newest
	// first. An empty status lists all.
	ListByStatus(ctx context.Context, tenantID uuid.UUID, status JobStatus, limit int) ([]*OutboxJob, error)
	// CountByStatus returns job counts per status for the tenant.
	CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[JobStatus]int64, error)
}
