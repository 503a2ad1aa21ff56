// Package webhook contains the application services for webhook subscription
// management, test deliveries and domain event recording.
package webhook

import (
	"context"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/cms/backend/internal/domain/webhook"
	infraevent "github.com/cms/backend/internal/infrastructure/event"
	"github.com/cms/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Trigger schedules a tenant's delivery pipeline without blocking the caller
type Trigger interface {
	TriggerForTenant(ctx context.Context, tenantIDish interface{}, opts *infraevent.TriggerOptions)
}

// TestDeliverer performs a synchronous test delivery to a webhook
type TestDeliverer interface {
	Send(ctx context.Context, webhookID uuid.UUID) (infraevent.TestResult, error)
}

// Service handles webhook subscription management
type Service struct {
	webhooks webhook.Repository
	jobs     webhook.OutboxRepository
	recorder *EventRecorder
	tester   TestDeliverer
	logger   *zap.Logger
}

// NewService creates a new webhook service
func NewService(
	webhooks webhook.Repository,
	jobs webhook.OutboxRepository,
	recorder *EventRecorder,
	tester TestDeliverer,
	logger *zap.Logger,
) *Service {
	return &Service{
		webhooks: webhooks,
		jobs:     jobs,
		recorder: recorder,
		tester:   tester,
		logger:   logger,
	}
}

// RegisterRequest is the input for registering a webhook subscription
type RegisterRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required,min=1"`
}

// WebhookDTO is the outward representation of a subscription. The secret is
// included only in the registration response so the receiver can store it;
// list and get responses omit it.
type WebhookDTO struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	IsActive  bool      `json:"is_active"`
	Events    []string  `json:"events"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobDTO is the outward representation of an outbox job
type JobDTO struct {
	ID          uuid.UUID  `json:"id"`
	WebhookID   uuid.UUID  `json:"webhook_id"`
	EventID     uuid.UUID  `json:"event_id"`
	EventType   string     `json:"event_type"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobStatsDTO is the per-status job count summary for a tenant
type JobStatsDTO struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Done       int64 `json:"done"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// Register creates a webhook subscription for the tenant in context. The
// generated signing secret is returned exactly once, in this response.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*WebhookDTO, error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	hook, err := webhook.New(tenantID, req.URL, req.Events)
	if err != nil {
		return nil, err
	}

	if err := s.webhooks.Save(ctx, hook); err != nil {
		s.logger.Error("failed to save webhook", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to register webhook")
	}

	s.recorder.record(ctx, shared.EventWebhookCreated, map[string]interface{}{
		"webhook_id": hook.ID.String(),
		"url":        hook.URL,
		"events":     hook.Events,
	})

	dto := toWebhookDTO(hook, true)
	return &dto, nil
}

// List returns the tenant's webhook subscriptions without secrets
func (s *Service) List(ctx context.Context) ([]WebhookDTO, error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	hooks, err := s.webhooks.List(ctx, tenantID)
	if err != nil {
		s.logger.Error("failed to list webhooks", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to list webhooks")
	}

	dtos := make([]WebhookDTO, len(hooks))
	for i, hook := range hooks {
		dtos[i] = toWebhookDTO(hook, false)
	}
	return dtos, nil
}

// Get returns one of the tenant's webhooks without its secret
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*WebhookDTO, error) {
	hook, err := s.webhooks.FindByID(ctx, id)
	if err != nil {
		return nil, shared.NewDomainError("WEBHOOK_NOT_FOUND", "Webhook not found")
	}
	dto := toWebhookDTO(hook, false)
	return &dto, nil
}

// Delete removes a webhook subscription
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	hook, err := s.webhooks.FindByID(ctx, id)
	if err != nil {
		return shared.NewDomainError("WEBHOOK_NOT_FOUND", "Webhook not found")
	}

	if err := s.webhooks.Delete(ctx, id); err != nil {
		s.logger.Error("failed to delete webhook", zap.Error(err), zap.String("id", id.String()))
		return shared.NewDomainError("INTERNAL_ERROR", "Failed to delete webhook")
	}

	s.recorder.record(ctx, shared.EventWebhookDeleted, map[string]interface{}{
		"webhook_id": hook.ID.String(),
		"url":        hook.URL,
	})
	return nil
}

// ListJobs returns the tenant's outbox jobs, optionally filtered by status
func (s *Service) ListJobs(ctx context.Context, status string, limit int) ([]JobDTO, error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	jobStatus := webhook.JobStatus(status)
	switch jobStatus {
	case "", webhook.JobStatusPending, webhook.JobStatusProcessing, webhook.JobStatusDone, webhook.JobStatusFailed:
	default:
		return nil, shared.NewDomainError("INVALID_STATUS", "Unknown job status")
	}

	jobs, err := s.jobs.ListByStatus(ctx, tenantID, jobStatus, limit)
	if err != nil {
		s.logger.Error("failed to list outbox jobs", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to list outbox jobs")
	}

	dtos := make([]JobDTO, len(jobs))
	for i, job := range jobs {
		dtos[i] = toJobDTO(job)
	}
	return dtos, nil
}

// GetJobStats returns the tenant's per-status job counts
func (s *Service) GetJobStats(ctx context.Context) (*JobStatsDTO, error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := s.jobs.CountByStatus(ctx, tenantID)
	if err != nil {
		s.logger.Error("failed to get job stats", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to get job stats")
	}

	var total int64
	for _, count := range counts {
		total += count
	}
	return &JobStatsDTO{
		Pending:    counts[webhook.JobStatusPending],
		Processing: counts[webhook.JobStatusProcessing],
		Done:       counts[webhook.JobStatusDone],
		Failed:     counts[webhook.JobStatusFailed],
		Total:      total,
	}, nil
}

// RequeueJob returns a failed, non-exhausted job to pending
func (s *Service) RequeueJob(ctx context.Context, id uuid.UUID) (*JobDTO, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, shared.NewDomainError("JOB_NOT_FOUND", "Outbox job not found")
	}

	if err := job.Requeue(); err != nil {
		return nil, shared.NewDomainError("INVALID_STATUS", err.Error())
	}

	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error("failed to requeue job", zap.Error(err), zap.String("id", id.String()))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to requeue job")
	}

	s.logger.Info("outbox job requeued",
		zap.String("id", id.String()),
		zap.String("event_type", string(job.EventType)),
	)
	dto := toJobDTO(job)
	return &dto, nil
}

// SendTest performs a synchronous test delivery, bypassing the outbox. The
// raw HTTP outcome is surfaced to the caller either way: on non-2xx the
// result accompanies the error for diagnostics.
func (s *Service) SendTest(ctx context.Context, id uuid.UUID) (*infraevent.TestResult, error) {
	if _, err := s.webhooks.FindByID(ctx, id); err != nil {
		return nil, shared.NewDomainError("WEBHOOK_NOT_FOUND", "Webhook not found")
	}

	result, err := s.tester.Send(ctx, id)
	if err != nil {
		if result.Status != 0 {
			return &result, shared.NewDomainError("TEST_DELIVERY_FAILED", err.Error())
		}
		s.logger.Warn("test delivery failed", zap.Error(err), zap.String("webhook_id", id.String()))
		return nil, shared.NewDomainError("TEST_DELIVERY_FAILED", err.Error())
	}
	return &result, nil
}

// tenantFromContext resolves the tenant established by the tenant middleware
func tenantFromContext(ctx context.Context) (uuid.UUID, error) {
	raw := logger.GetTenantID(ctx)
	if raw == "" {
		return uuid.Nil, shared.ErrTenantIDRequired
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, shared.NewDomainError("INVALID_TENANT", "Invalid tenant id")
	}
	return tenantID, nil
}

func toWebhookDTO(hook *webhook.Webhook, includeSecret bool) WebhookDTO {
	dto := WebhookDTO{
		ID:        hook.ID,
		URL:       hook.URL,
		IsActive:  hook.IsActive,
		Events:    hook.Events,
		CreatedAt: hook.CreatedAt,
		UpdatedAt: hook.UpdatedAt,
	}
	if includeSecret {
		dto.Secret = hook.Secret
	}
	return dto
}

func toJobDTO(job *webhook.OutboxJob) JobDTO {
	return JobDTO{
		ID:          job.ID,
		WebhookID:   job.WebhookID,
		EventID:     job.EventID,
		EventType:   string(job.EventType),
		Status:      string(job.Status),
		RetryCount:  job.RetryCount,
		MaxAttempts: job.MaxAttempts,
		LastError:   job.LastError,
		NextRetryAt: job.NextRetryAt,
		DeliveredAt: job.DeliveredAt,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
