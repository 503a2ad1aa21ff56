package handler

import (
	"encoding/json"
	"time"

	appwebhook "github.com/cms/backend/internal/application/webhook"
	"github.com/cms/backend/internal/domain/shared"
	"github.com/gin-gonic/gin"
)

// EventHandler lets internal services and trusted integrations record domain
// events over HTTP. Recording an event schedules the tenant's delivery
// pipeline.
type EventHandler struct {
	BaseHandler
	recorder *appwebhook.EventRecorder
}

// NewEventHandler creates an event handler
func NewEventHandler(recorder *appwebhook.EventRecorder) *EventHandler {
	return &EventHandler{recorder: recorder}
}

// RegisterRoutes registers event routes
func (h *EventHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/events", h.Record)
}

type recordEventRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

type recordEventResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	OccurredAt string `json:"occurred_at"`
}

// Record handles POST /events
func (h *EventHandler) Record(c *gin.Context) {
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	event, err := h.recorder.Record(c.Request.Context(), shared.EventType(req.Type), req.Payload, nil)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, recordEventResponse{
		ID:         event.ID.String(),
		Type:       string(event.Type),
		OccurredAt: event.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
}
