package models

import (
	"encoding/json"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// DomainEventModel is the persistence model for the domain event log.
// Events are append-only; only fanned_out_at changes after insert.
type DomainEventModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_domain_events_tenant_fanout,priority:1"`
	Type        string     `gorm:"type:varchar(64);not null"`
	OccurredAt  time.Time  `gorm:"not null"`
	Payload     []byte     `gorm:"type:jsonb"`
	Metadata    []byte     `gorm:"type:jsonb"`
	FannedOutAt *time.Time `gorm:"index:idx_domain_events_tenant_fanout,priority:2"`
	CreatedAt   time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DomainEventModel) TableName() string {
	return "domain_events"
}

// ToDomain converts the persistence model to a domain Event
func (m *DomainEventModel) ToDomain() (*shared.Event, error) {
	var metadata *shared.EventMetadata
	if len(m.Metadata) > 0 {
		metadata = &shared.EventMetadata{}
		if err := json.Unmarshal(m.Metadata, metadata); err != nil {
			return nil, err
		}
	}
	return &shared.Event{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Type:        shared.EventType(m.Type),
		OccurredAt:  m.OccurredAt,
		Payload:     json.RawMessage(m.Payload),
		Metadata:    metadata,
		FannedOutAt: m.FannedOutAt,
		CreatedAt:   m.CreatedAt,
	}, nil
}

// DomainEventModelFromDomain creates a persistence model from a domain Event
func DomainEventModelFromDomain(e *shared.Event) (*DomainEventModel, error) {
	var metadata []byte
	if e.Metadata != nil {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return nil, err
		}
	}
	return &DomainEventModel{
		ID:          e.ID,
		TenantID:    e.TenantID,
		Type:        string(e.Type),
		OccurredAt:  e.OccurredAt,
		Payload:     []byte(e.Payload),
		Metadata:    metadata,
		FannedOutAt: e.FannedOutAt,
		CreatedAt:   e.CreatedAt,
	}, nil
}
