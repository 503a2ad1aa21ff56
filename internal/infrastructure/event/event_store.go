package event

import (
	"context"
	"errors"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/cms/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormEventStore implements shared.EventStore using GORM. Domain events are
// append-only; the only mutation is stamping fanned_out_at once delivery
// jobs have been created.
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GORM-based event store
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// WithTx returns a new store instance bound to the given transaction
func (s *GormEventStore) WithTx(tx *gorm.DB) *GormEventStore {
	return &GormEventStore{db: tx}
}

// Append persists a new domain event
func (s *GormEventStore) Append(ctx context.Context, event *shared.Event) error {
	model, err := models.DomainEventModelFromDomain(event)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(model).Error
}

// FindPendingFanOut retrieves the tenant's events that have not been fanned
// out yet, oldest first
func (s *GormEventStore) FindPendingFanOut(ctx context.Context, tenantID uuid.UUID, limit int) ([]*shared.Event, error) {
	var rows []*models.DomainEventModel
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND fanned_out_at IS NULL", tenantID).
		Order("occurred_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]*shared.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := row.ToDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// MarkFannedOut stamps the given events as fanned out
func (s *GormEventStore) MarkFannedOut(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.DomainEventModel{}).
		Where("id IN ?", ids).
		Update("fanned_out_at", at).Error
}

// FindByID retrieves a single event by ID
func (s *GormEventStore) FindByID(ctx context.Context, id uuid.UUID) (*shared.Event, error) {
	var row models.DomainEventModel
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return row.ToDomain()
}

// Ensure GormEventStore implements shared.EventStore
var _ shared.EventStore = (*GormEventStore)(nil)
