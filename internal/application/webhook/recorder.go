package webhook

import (
	"context"
	"encoding/json"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/cms/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// EventRecorder is the integration point business code calls after a
// committed state change: it persists a domain event and schedules the
// tenant's delivery pipeline. The pipeline run is fire-and-forget; recording
// only fails when the event itself cannot be stored.
type EventRecorder struct {
	events  shared.EventStore
	trigger Trigger
	logger  *zap.Logger
}

// NewEventRecorder creates an EventRecorder
func NewEventRecorder(events shared.EventStore, trigger Trigger, logger *zap.Logger) *EventRecorder {
	return &EventRecorder{
		events:  events,
		trigger: trigger,
		logger:  logger,
	}
}

// Record validates the event type against the registry, persists the event
// for the tenant in context and triggers the delivery pipeline. payload may
// be any JSON-serializable value; json.RawMessage passes through untouched.
func (r *EventRecorder) Record(ctx context.Context, eventType shared.EventType, payload interface{}, metadata *shared.EventMetadata) (*shared.Event, error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, shared.NewDomainError("INVALID_PAYLOAD", "Event payload is not serializable")
	}

	if metadata == nil {
		metadata = metadataFromContext(ctx)
	}

	event, err := shared.NewEvent(tenantID, eventType, raw, metadata)
	if err != nil {
		return nil, err
	}

	if err := r.events.Append(ctx, event); err != nil {
		r.logger.Error("failed to record domain event",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to record event")
	}

	r.trigger.TriggerForTenant(ctx, tenantID, nil)
	return event, nil
}

// record is the best-effort variant used for bookkeeping events emitted by
// the webhook service itself; a recording failure must not fail the
// operation that produced it.
func (r *EventRecorder) record(ctx context.Context, eventType shared.EventType, payload interface{}) {
	if _, err := r.Record(ctx, eventType, payload, nil); err != nil {
		r.logger.Warn("failed to record bookkeeping event",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}

func metadataFromContext(ctx context.Context) *shared.EventMetadata {
	meta := &shared.EventMetadata{
		TriggeredBy: shared.ActorSystem,
		RequestID:   logger.GetRequestID(ctx),
	}
	if userID := logger.GetUserID(ctx); userID != "" {
		meta.TriggeredBy = shared.ActorUser
		meta.UserID = userID
	}
	return meta
}
