package event

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Header names attached to every webhook delivery
const (
	HeaderEventType = "X-CMS-Event"
	HeaderSignature = "X-CMS-Signature"
)

// Delivery is one signed webhook POST
type Delivery struct {
	URL       string
	EventType string
	Signature string
	Body      []byte
	Timeout   time.Duration
}

// DeliveryResult is the outcome of a delivery attempt that reached the
// endpoint. Transport-level failures (DNS, refused connection, timeout)
// come back as errors instead.
type DeliveryResult struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the endpoint accepted the delivery (any 2xx)
func (r DeliveryResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport performs webhook deliveries. Injected so tests and the
// synchronous test-delivery path can share the dispatch logic.
type Transport interface {
	Deliver(ctx context.Context, d Delivery) (DeliveryResult, error)
}

// HTTPTransport delivers webhooks over plain HTTP POST
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates an HTTPTransport. A nil client uses
// http.DefaultClient; per-delivery timeouts are applied via context.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client}
}

// Deliver POSTs the signed payload to the webhook URL
func (t *HTTPTransport) Deliver(ctx context.Context, d Delivery) (DeliveryResult, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Body))
	if err != nil {
		return DeliveryResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, d.EventType)
	req.Header.Set(HeaderSignature, d.Signature)

	resp, err := t.client.Do(req)
	if err != nil {
		return DeliveryResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	// Cap the response read; endpoints occasionally return huge error pages
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return DeliveryResult{StatusCode: resp.StatusCode}, err
	}

	return DeliveryResult{StatusCode: resp.StatusCode, Body: body}, nil
}

// Ensure HTTPTransport implements Transport
var _ Transport = (*HTTPTransport)(nil)
