package models

import (
	"time"

	"github.com/cms/backend/internal/domain/webhook"
	"github.com/google/uuid"
)

// WebhookModel is the persistence model for tenant webhook subscriptions.
type WebhookModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_webhooks_tenant_url,priority:1;index:idx_webhooks_tenant_active,priority:1"`
	URL       string    `gorm:"type:varchar(2048);not null;uniqueIndex:idx_webhooks_tenant_url,priority:2"`
	Secret    string    `gorm:"type:varchar(255);not null"`
	IsActive  bool      `gorm:"not null;default:true;index:idx_webhooks_tenant_active,priority:2"`
	Events    []string  `gorm:"serializer:json;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (WebhookModel) TableName() string {
	return "webhooks"
}

// ToDomain converts the persistence model to a domain Webhook
func (m *WebhookModel) ToDomain() *webhook.Webhook {
	return &webhook.Webhook{
		ID:        m.ID,
		TenantID:  m.TenantID,
		URL:       m.URL,
		Secret:    m.Secret,
		IsActive:  m.IsActive,
		Events:    m.Events,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// WebhookModelFromDomain creates a persistence model from a domain Webhook
func WebhookModelFromDomain(w *webhook.Webhook) *WebhookModel {
	return &WebhookModel{
		ID:        w.ID,
		TenantID:  w.TenantID,
		URL:       w.URL,
		Secret:    w.Secret,
		IsActive:  w.IsActive,
		Events:    w.Events,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}
