package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/cms/backend/internal/domain/webhook"
	"github.com/google/uuid"
)

// TestResult is the raw HTTP outcome of a synchronous test delivery
type TestResult struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// TestSender performs synchronous test deliveries. It bypasses the outbox
// entirely: a synthetic webhook.test event is built, signed and POSTed
// inline so the caller sees the endpoint's real response.
type TestSender struct {
	webhooks  webhook.Repository
	signer    Signer
	transport Transport
	timeout   time.Duration
}

// NewTestSender creates a TestSender sharing the dispatcher's transport
func NewTestSender(webhooks webhook.Repository, signer Signer, transport Transport, timeout time.Duration) *TestSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TestSender{
		webhooks:  webhooks,
		signer:    signer,
		transport: transport,
		timeout:   timeout,
	}
}

// Send delivers a synthetic webhook.test event to the webhook and returns
// the raw HTTP outcome. A non-2xx response is returned as an error naming
// the status, with the result still populated for diagnostics.
func (s *TestSender) Send(ctx context.Context, webhookID uuid.UUID) (TestResult, error) {
	hook, err := s.webhooks.FindByID(ctx, webhookID)
	if err != nil {
		return TestResult{}, err
	}

	ev, err := shared.NewEvent(hook.TenantID, shared.EventWebhookTest, json.RawMessage(`{"message":"test delivery"}`), &shared.EventMetadata{
		TriggeredBy: shared.ActorUser,
	})
	if err != nil {
		return TestResult{}, err
	}

	body, err := json.Marshal(deliveryEnvelope{
		InternalID: ev.ID.String(),
		ID:         ev.ID.String(),
		TenantID:   ev.TenantID.String(),
		Type:       string(ev.Type),
		OccurredAt: ev.OccurredAt,
		Payload:    ev.Payload,
		Status:     string(webhook.JobStatusDone),
	})
	if err != nil {
		return TestResult{}, err
	}

	signature, err := s.signer.Sign([]byte(hook.Secret), body)
	if err != nil {
		return TestResult{}, err
	}

	result, err := s.transport.Deliver(ctx, Delivery{
		URL:       hook.URL,
		EventType: string(shared.EventWebhookTest),
		Signature: signature,
		Body:      body,
		Timeout:   s.timeout,
	})
	if err != nil {
		return TestResult{}, err
	}

	out := TestResult{
		OK:     result.OK(),
		Status: result.StatusCode,
		Body:   string(result.Body),
	}
	if !out.OK {
		return out, fmt.Errorf("test delivery failed with status %d", result.StatusCode)
	}
	return out, nil
}
