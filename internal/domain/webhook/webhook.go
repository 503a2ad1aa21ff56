// Package webhook contains the domain model for tenant-registered webhook
// subscriptions and the delivery outbox derived from domain events.
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// WildcardPattern subscribes a webhook to every event type.
const WildcardPattern = "*"

// Webhook is a tenant-registered delivery endpoint. A tenant may register a
// given URL at most once; Secret is the HMAC key used to sign deliveries.
type Webhook struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	URL       string
	Secret    string
	IsActive  bool
	Events    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates an active webhook subscription with a freshly generated secret.
// Event patterns are validated against the event type registry; "*" matches
// everything.
func New(tenantID uuid.UUID, endpoint string, events []string) (*Webhook, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrTenantIDRequired
	}
	if err := validateURL(endpoint); err != nil {
		return nil, err
	}
	if err := ValidatePatterns(events); err != nil {
		return nil, err
	}
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Webhook{
		ID:        uuid.New(),
		TenantID:  tenantID,
		URL:       endpoint,
		Secret:    secret,
		IsActive:  true,
		Events:    events,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Matches reports whether this subscription covers the given event type,
// either by exact name or by the wildcard pattern.
func (w *Webhook) Matches(t shared.EventType) bool {
	for _, p := range w.Events {
		if p == WildcardPattern || p == string(t) {
			return true
		}
	}
	return false
}

// Deactivate disables delivery without deleting the subscription.
func (w *Webhook) Deactivate() {
	w.IsActive = false
	w.UpdatedAt = time.Now()
}

// Activate re-enables delivery.
func (w *Webhook) Activate() {
	w.IsActive = true
	w.UpdatedAt = time.Now()
}

// UpdateEvents replaces the subscribed event patterns.
func (w *Webhook) UpdateEvents(events []string) error {
	if err := ValidatePatterns(events); err != nil {
		return err
	}
	w.Events = events
	w.UpdatedAt = time.Now()
	return nil
}

// ValidatePatterns checks that every pattern is either the wildcard or a
// registered event type name.
func ValidatePatterns(patterns []string) error {
	if len(patterns) == 0 {
		return fmt.Errorf("%w: at least one event pattern is required", shared.ErrInvalidInput)
	}
	for _, p := range patterns {
		if p == WildcardPattern {
			continue
		}
		if !shared.EventType(p).IsValid() {
			return fmt.Errorf("%w: %q", shared.ErrUnknownEventType, p)
		}
	}
	return nil
}

func validateURL(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: invalid webhook url %q", shared.ErrInvalidInput, endpoint)
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}

// Repository is the persistence port for webhook subscriptions. All reads and
// writes go through the tenant-scoped database layer.
type Repository interface {
	// Save persists a new or updated webhook.
	Save(ctx context.Context, hook *Webhook) error
	// FindByID retrieves a webhook by id within the active tenant scope.
	FindByID(ctx context.Context, id uuid.UUID) (*Webhook, error)
	// FindActiveMatching retrieves the tenant's active webhooks whose event
	// patterns cover the given event type.
	FindActiveMatching(ctx context.Context, tenantID uuid.UUID, t shared.EventType) ([]*Webhook, error)
	// List retrieves all webhooks for the tenant.
	List(ctx context.Context, tenantID uuid.UUID) ([]*Webhook, error)
	// Delete removes a webhook.
	Delete(ctx context.Context, id uuid.UUID) error
	// TenantsWithActiveWebhooks lists tenant ids that have at least one
	// active subscription. System-level read; bypasses tenant scoping.
	TenantsWithActiveWebhooks(ctx context.Context) ([]uuid.UUID, error)
}
