package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/cms/backend/internal/domain/webhook"
	"github.com/cms/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DispatchRequest selects which tenant's pending jobs to deliver
type DispatchRequest struct {
	TenantID    uuid.UUID
	Limit       int
	MaxAttempts int
	// RetryBackoff overrides the dispatcher's configured base backoff for
	// this pass when positive
	RetryBackoff time.Duration
}

// DispatchResult reports how many jobs a dispatch pass attempted
type DispatchResult struct {
	Processed int
}

// DispatcherConfig holds delivery tuning for the dispatch engine
type DispatcherConfig struct {
	// DeliveryTimeout bounds each outbound HTTP call, not the pass
	DeliveryTimeout time.Duration
	// RetryBackoff is the base delay before a failed job becomes eligible
	// again; attempt n waits base * 2^(n-1)
	RetryBackoff time.Duration
}

// Dispatcher claims pending outbox jobs and performs the signed HTTP
// deliveries. Delivery failures are recorded on the job, never returned:
// only structural errors (storage unavailable) abort a pass.
type Dispatcher struct {
	jobs      webhook.OutboxRepository
	webhooks  webhook.Repository
	events    shared.EventStore
	signer    Signer
	transport Transport
	config    DispatcherConfig
}

// NewDispatcher creates a dispatch engine
func NewDispatcher(
	jobs webhook.OutboxRepository,
	webhooks webhook.Repository,
	events shared.EventStore,
	signer Signer,
	transport Transport,
	config DispatcherConfig,
) *Dispatcher {
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 10 * time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = webhook.DefaultBaseBackoff
	}
	return &Dispatcher{
		jobs:      jobs,
		webhooks:  webhooks,
		events:    events,
		signer:    signer,
		transport: transport,
		config:    config,
	}
}

// deliveryEnvelope is the wire shape POSTed to receivers. The event id is
// present under both "_id" and "id"; receivers built against either alias
// keep working.
type deliveryEnvelope struct {
	InternalID  string          `json:"_id"`
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	Type        string          `json:"type"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	RetryCount  int             `json:"retryCount"`
	MaxAttempts int             `json:"maxAttempts"`
}

// Run claims up to Limit of the tenant's oldest pending jobs and attempts
// delivery for each. Timeout and transport errors count the same as non-2xx
// responses.
func (d *Dispatcher) Run(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	if req.TenantID == uuid.Nil {
		return DispatchResult{}, shared.ErrTenantIDRequired
	}
	if req.Limit <= 0 {
		return DispatchResult{}, nil
	}

	claimed, err := d.jobs.ClaimPending(ctx, req.TenantID, req.Limit)
	if err != nil {
		return DispatchResult{}, err
	}

	backoff := req.RetryBackoff
	if backoff <= 0 {
		backoff = d.config.RetryBackoff
	}

	for _, job := range claimed {
		if req.MaxAttempts > 0 {
			job.MaxAttempts = req.MaxAttempts
		}
		d.deliver(ctx, job, backoff)
		if err := d.jobs.Update(ctx, job); err != nil {
			return DispatchResult{}, err
		}
	}

	return DispatchResult{Processed: len(claimed)}, nil
}

// deliver attempts a single job and records the outcome on it
func (d *Dispatcher) deliver(ctx context.Context, job *webhook.OutboxJob, backoff time.Duration) {
	log := logger.L(ctx).With(
		zap.String("job_id", job.ID.String()),
		zap.String("webhook_id", job.WebhookID.String()),
		zap.String("event_type", string(job.EventType)),
	)

	hook, err := d.webhooks.FindByID(ctx, job.WebhookID)
	if err != nil || hook == nil || !hook.IsActive {
		// No endpoint to retry against; fail terminally
		job.MarkFailedTerminal("webhook missing or inactive")
		log.Warn("delivery dropped, webhook missing or inactive")
		return
	}

	body, err := d.buildBody(ctx, job)
	if err != nil {
		d.fail(job, err.Error(), backoff)
		log.Error("failed to build delivery payload", zap.Error(err))
		return
	}

	signature, err := d.signer.Sign([]byte(hook.Secret), body)
	if err != nil {
		d.fail(job, err.Error(), backoff)
		log.Error("failed to sign delivery payload", zap.Error(err))
		return
	}

	result, err := d.transport.Deliver(ctx, Delivery{
		URL:       hook.URL,
		EventType: string(job.EventType),
		Signature: signature,
		Body:      body,
		Timeout:   d.config.DeliveryTimeout,
	})
	if err != nil {
		d.fail(job, err.Error(), backoff)
		log.Warn("delivery failed", zap.Error(err), zap.Int("retry_count", job.RetryCount))
		return
	}
	if !result.OK() {
		d.fail(job, fmt.Sprintf("endpoint returned %d: %s", result.StatusCode, truncate(result.Body, 512)), backoff)
		log.Warn("delivery rejected",
			zap.Int("status", result.StatusCode),
			zap.Int("retry_count", job.RetryCount),
		)
		return
	}

	job.MarkDone()
	log.Debug("delivery succeeded", zap.Int("status", result.StatusCode))
}

// buildBody serializes the full event envelope for the job
func (d *Dispatcher) buildBody(ctx context.Context, job *webhook.OutboxJob) ([]byte, error) {
	occurredAt := job.CreatedAt
	if ev, err := d.events.FindByID(ctx, job.EventID); err == nil {
		occurredAt = ev.OccurredAt
	}

	return json.Marshal(deliveryEnvelope{
		InternalID:  job.EventID.String(),
		ID:          job.EventID.String(),
		TenantID:    job.TenantID.String(),
		Type:        string(job.EventType),
		OccurredAt:  occurredAt,
		Payload:     job.Payload,
		Status:      string(job.Status),
		RetryCount:  job.RetryCount,
		MaxAttempts: job.MaxAttempts,
	})
}

// fail records a failed attempt, applying the base backoff in effect for
// the pass
func (d *Dispatcher) fail(job *webhook.OutboxJob, msg string, backoff time.Duration) {
	job.MarkFailed(msg)
	if !job.Exhausted() {
		next := time.Now().Add(webhook.BackoffFor(job.RetryCount, backoff))
		job.NextRetryAt = &next
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
