package models

import (
	"encoding/json"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/cms/backend/internal/domain/webhook"
	"github.com/google/uuid"
)

// OutboxJobModel is the persistence model for webhook delivery jobs. The
// unique (webhook_id, event_id) index makes event fan-out idempotent.
type OutboxJobModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_outbox_jobs_tenant_status,priority:1"`
	WebhookID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_outbox_jobs_webhook_event,priority:1"`
	EventID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_outbox_jobs_webhook_event,priority:2"`
	EventType   string     `gorm:"type:varchar(64);not null"`
	Payload     []byte     `gorm:"type:jsonb"`
	Status      string     `gorm:"type:varchar(20);not null;default:pending;index:idx_outbox_jobs_tenant_status,priority:2"`
	RetryCount  int        `gorm:"not null;default:0"`
	MaxAttempts int        `gorm:"not null;default:5"`
	LastError   string     `gorm:"type:text"`
	NextRetryAt *time.Time `gorm:"index:idx_outbox_jobs_next_retry"`
	DeliveredAt *time.Time
	CreatedAt   time.Time `gorm:"not null;index:idx_outbox_jobs_created"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OutboxJobModel) TableName() string {
	return "webhook_outbox_jobs"
}

// ToDomain converts the persistence model to a domain OutboxJob
func (m *OutboxJobModel) ToDomain() *webhook.OutboxJob {
	return &webhook.OutboxJob{
		ID:          m.ID,
		TenantID:    m.TenantID,
		WebhookID:   m.WebhookID,
		EventID:     m.EventID,
		EventType:   shared.EventType(m.EventType),
		Payload:     json.RawMessage(m.Payload),
		Status:      webhook.JobStatus(m.Status),
		RetryCount:  m.RetryCount,
		MaxAttempts: m.MaxAttempts,
		LastError:   m.LastError,
		NextRetryAt: m.NextRetryAt,
		DeliveredAt: m.DeliveredAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// OutboxJobModelFromDomain creates a persistence model from a domain OutboxJob
func OutboxJobModelFromDomain(j *webhook.OutboxJob) *OutboxJobModel {
	return &OutboxJobModel{
		ID:          j.ID,
		TenantID:    j.TenantID,
		WebhookID:   j.WebhookID,
		EventID:     j.EventID,
		EventType:   string(j.EventType),
		Payload:     []byte(j.Payload),
		Status:      string(j.Status),
		RetryCount:  j.RetryCount,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		NextRetryAt: j.NextRetryAt,
		DeliveredAt: j.DeliveredAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}
