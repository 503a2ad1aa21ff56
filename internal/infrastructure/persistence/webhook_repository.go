package persistence

import (
	"context"
	"errors"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/cms/backend/internal/domain/webhook"
	"github.com/cms/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormWebhookRepository implements webhook.Repository using GORM.
// Tenant scoping comes from the tenant callbacks: all reads and writes are
// filtered by the tenant in context, except TenantsWithActiveWebhooks which
// is an explicit system-level read.
type GormWebhookRepository struct {
	db *gorm.DB
}

// NewGormWebhookRepository creates a new GormWebhookRepository
func NewGormWebhookRepository(db *gorm.DB) *GormWebhookRepository {
	return &GormWebhookRepository{db: db}
}

// Save creates or updates a webhook
func (r *GormWebhookRepository) Save(ctx context.Context, hook *webhook.Webhook) error {
	model := models.WebhookModelFromDomain(hook)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindByID finds a webhook by its ID within the active tenant scope
func (r *GormWebhookRepository) FindByID(ctx context.Context, id uuid.UUID) (*webhook.Webhook, error) {
	var model models.WebhookModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActiveMatching finds the tenant's active webhooks subscribed to the
// given event type. Pattern matching (including the wildcard) happens in
// memory since subscriptions are stored as a JSON array.
func (r *GormWebhookRepository) FindActiveMatching(ctx context.Context, tenantID uuid.UUID, t shared.EventType) ([]*webhook.Webhook, error) {
	var rows []models.WebhookModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	matched := make([]*webhook.Webhook, 0, len(rows))
	for i := range rows {
		hook := rows[i].ToDomain()
		if hook.Matches(t) {
			matched = append(matched, hook)
		}
	}
	return matched, nil
}

// List retrieves all webhooks for a tenant, newest first
func (r *GormWebhookRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*webhook.Webhook, error) {
	var rows []models.WebhookModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	hooks := make([]*webhook.Webhook, len(rows))
	for i := range rows {
		hooks[i] = rows[i].ToDomain()
	}
	return hooks, nil
}

// Delete removes a webhook within the active tenant scope
func (r *GormWebhookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.WebhookModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TenantsWithActiveWebhooks lists tenants with at least one active webhook.
// Used by the scheduler to decide which tenants need a pipeline run, so it
// deliberately bypasses tenant scoping.
func (r *GormWebhookRepository) TenantsWithActiveWebhooks(ctx context.Context) ([]uuid.UUID, error) {
	var tenantIDs []uuid.UUID
	err := r.db.WithContext(ctx).
		Unscoped().
		Model(&models.WebhookModel{}).
		Where("is_active = ?", true).
		Distinct("tenant_id").
		Pluck("tenant_id", &tenantIDs).Error
	return tenantIDs, err
}

// Ensure GormWebhookRepository implements webhook.Repository
var _ webhook.Repository = (*GormWebhookRepository)(nil)
