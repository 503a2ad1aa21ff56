package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the name of a domain event. Only the types listed in the
// registry below are valid; producing any other type is a contract violation.
type EventType string

// The frozen event type registry. Adding a type here is a deliberate,
// versioned change - downstream consumers key off these exact strings.
const (
	EventContentCreated     EventType = "content.created"
	EventContentUpdated     EventType = "content.updated"
	EventContentPublished   EventType = "content.published"
	EventContentUnpublished EventType = "content.unpublished"
	EventContentDeleted     EventType = "content.deleted"

	EventFormCreated   EventType = "form.created"
	EventFormUpdated   EventType = "form.updated"
	EventFormDeleted   EventType = "form.deleted"
	EventFormSubmitted EventType = "form.submitted"

	EventMediaUploaded EventType = "media.uploaded"
	EventMediaUpdated  EventType = "media.updated"
	EventMediaDeleted  EventType = "media.deleted"

	EventCollectionCreated EventType = "collection.created"
	EventCollectionUpdated EventType = "collection.updated"
	EventCollectionDeleted EventType = "collection.deleted"

	EventUserInvited EventType = "user.invited"
	EventUserJoined  EventType = "user.joined"
	EventUserRemoved EventType = "user.removed"

	EventWebhookCreated EventType = "webhook.created"
	EventWebhookDeleted EventType = "webhook.deleted"
	EventWebhookTest    EventType = "webhook.test"
)

// AllEventTypes returns the registry in its canonical order.
func AllEventTypes() []EventType {
	return []EventType{
		EventContentCreated,
		EventContentUpdated,
		EventContentPublished,
		EventContentUnpublished,
		EventContentDeleted,
		EventFormCreated,
		EventFormUpdated,
		EventFormDeleted,
		EventFormSubmitted,
		EventMediaUploaded,
		EventMediaUpdated,
		EventMediaDeleted,
		EventCollectionCreated,
		EventCollectionUpdated,
		EventCollectionDeleted,
		EventUserInvited,
		EventUserJoined,
		EventUserRemoved,
		EventWebhookCreated,
		EventWebhookDeleted,
		EventWebhookTest,
	}
}

var eventTypeSet = func() map[EventType]struct{} {
	m := make(map[EventType]struct{}, len(AllEventTypes()))
	for _, t := range AllEventTypes() {
		m[t] = struct{}{}
	}
	return m
}()

// IsValid reports whether t belongs to the event type registry.
func (t EventType) IsValid() bool {
	_, ok := eventTypeSet[t]
	return ok
}

// Actor identifies what kind of principal triggered an event.
type Actor string

const (
	ActorUser        Actor = "user"
	ActorSystem      Actor = "system"
	ActorIntegration Actor = "integration"
)

// EventMetadata carries optional provenance information for an event.
type EventMetadata struct {
	TriggeredBy Actor  `json:"triggered_by"`
	UserID      string `json:"user_id,omitempty"`
	Source      string `json:"source,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Event is an immutable record of a completed state change. The payload is an
// opaque JSON snapshot; different event types carry structurally different
// payloads, so no schema is imposed on it here.
type Event struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Type        EventType
	OccurredAt  time.Time
	Payload     json.RawMessage
	Metadata    *EventMetadata
	FannedOutAt *time.Time
	CreatedAt   time.Time
}

// NewEvent constructs an event after validating the type against the
// registry. The event starts pending fan-out (FannedOutAt nil).
func NewEvent(tenantID uuid.UUID, eventType EventType, payload json.RawMessage, metadata *EventMetadata) (*Event, error) {
	if tenantID == uuid.Nil {
		return nil, ErrTenantIDRequired
	}
	if !eventType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	now := time.Now()
	return &Event{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Type:       eventType,
		OccurredAt: now,
		Payload:    payload,
		Metadata:   metadata,
		CreatedAt:  now,
	}, nil
}

// IsFannedOut reports whether the event has already been expanded into
// outbox jobs.
func (e *Event) IsFannedOut() bool {
	return e.FannedOutAt != nil
}

// EventStore is the persistence port for domain events.
type EventStore interface {
	// Append persists a new event.
	Append(ctx context.Context, event *Event) error
	// FindPendingFanOut retrieves events for a tenant that have not been
	// fanned out yet, oldest first.
	FindPendingFanOut(ctx context.Context, tenantID uuid.UUID, limit int) ([]*Event, error)
	// MarkFannedOut stamps the given events as fanned out.
	MarkFannedOut(ctx context.Context, ids []uuid.UUID, at time.Time) error
	// FindByID retrieves a single event.
	FindByID(ctx context.Context, id uuid.UUID) (*Event, error)
}
