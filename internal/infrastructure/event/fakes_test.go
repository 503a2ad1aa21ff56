package event

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/cms/backend/internal/domain/webhook"
	"github.com/google/uuid"
)

// In-memory ports used across the pipeline tests.

type fakeEventStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*shared.Event
	err    error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[uuid.UUID]*shared.Event)}
}

func (s *fakeEventStore) Append(_ context.Context, event *shared.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events[event.ID] = event
	return nil
}

func (s *fakeEventStore) FindPendingFanOut(_ context.Context, tenantID uuid.UUID, limit int) ([]*shared.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var pending []*shared.Event
	for _, ev := range s.events {
		if ev.TenantID == tenantID && ev.FannedOutAt == nil {
			pending = append(pending, ev)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].OccurredAt.Before(pending[j].OccurredAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *fakeEventStore) MarkFannedOut(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if ev, ok := s.events[id]; ok {
			stamped := at
			ev.FannedOutAt = &stamped
		}
	}
	return nil
}

func (s *fakeEventStore) FindByID(_ context.Context, id uuid.UUID) (*shared.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return ev, nil
}

type fakeWebhookRepo struct {
	mu    sync.Mutex
	hooks map[uuid.UUID]*webhook.Webhook
}

func newFakeWebhookRepo() *fakeWebhookRepo {
	return &fakeWebhookRepo{hooks: make(map[uuid.UUID]*webhook.Webhook)}
}

func (r *fakeWebhookRepo) Save(_ context.Context, hook *webhook.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[hook.ID] = hook
	return nil
}

func (r *fakeWebhookRepo) FindByID(_ context.Context, id uuid.UUID) (*webhook.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hook, ok := r.hooks[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return hook, nil
}

func (r *fakeWebhookRepo) FindActiveMatching(_ context.Context, tenantID uuid.UUID, t shared.EventType) ([]*webhook.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*webhook.Webhook
	for _, hook := range r.hooks {
		if hook.TenantID == tenantID && hook.IsActive && hook.Matches(t) {
			matched = append(matched, hook)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (r *fakeWebhookRepo) List(_ context.Context, tenantID uuid.UUID) ([]*webhook.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hooks []*webhook.Webhook
	for _, hook := range r.hooks {
		if hook.TenantID == tenantID {
			hooks = append(hooks, hook)
		}
	}
	return hooks, nil
}

func (r *fakeWebhookRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.hooks, id)
	return nil
}

func (r *fakeWebhookRepo) TenantsWithActiveWebhooks(_ context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uuid.UUID]struct{})
	var tenants []uuid.UUID
	for _, hook := range r.hooks {
		if !hook.IsActive {
			continue
		}
		if _, ok := seen[hook.TenantID]; ok {
			continue
		}
		seen[hook.TenantID] = struct{}{}
		tenants = append(tenants, hook.TenantID)
	}
	return tenants, nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*webhook.OutboxJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*webhook.OutboxJob)}
}

func (r *fakeJobRepo) CreateIgnoreDuplicates(_ context.Context, jobs ...*webhook.OutboxJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range jobs {
		if r.hasPair(job.WebhookID, job.EventID) {
			continue
		}
		copied := *job
		r.jobs[job.ID] = &copied
	}
	return nil
}

func (r *fakeJobRepo) hasPair(webhookID, eventID uuid.UUID) bool {
	for _, existing := range r.jobs {
		if existing.WebhookID == webhookID && existing.EventID == eventID {
			return true
		}
	}
	return false
}

func (r *fakeJobRepo) ClaimPending(_ context.Context, tenantID uuid.UUID, limit int) ([]*webhook.OutboxJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []*webhook.OutboxJob
	for _, job := range r.jobs {
		if job.TenantID == tenantID && job.Status == webhook.JobStatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	claimed := make([]*webhook.OutboxJob, 0, len(pending))
	for _, job := range pending {
		job.Status = webhook.JobStatusProcessing
		copied := *job
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (r *fakeJobRepo) RequeueRetryable(_ context.Context, tenantID uuid.UUID, maxAttempts int, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, job := range r.jobs {
		if job.TenantID != tenantID || job.Status != webhook.JobStatusFailed {
			continue
		}
		if job.RetryCount >= maxAttempts || job.NextRetryAt == nil || job.NextRetryAt.After(now) {
			continue
		}
		job.Status = webhook.JobStatusPending
		job.NextRetryAt = nil
		count++
	}
	return count, nil
}

func (r *fakeJobRepo) RequeueStale(_ context.Context, tenantID uuid.UUID, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, job := range r.jobs {
		if job.TenantID != tenantID || job.Status != webhook.JobStatusProcessing {
			continue
		}
		if !job.UpdatedAt.Before(cutoff) {
			continue
		}
		job.Status = webhook.JobStatusPending
		job.UpdatedAt = time.Now()
		count++
	}
	return count, nil
}

func (r *fakeJobRepo) Update(_ context.Context, job *webhook.OutboxJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *fakeJobRepo) FindByID(_ context.Context, id uuid.UUID) (*webhook.OutboxJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *fakeJobRepo) ListByStatus(_ context.Context, tenantID uuid.UUID, status webhook.JobStatus, limit int) ([]*webhook.OutboxJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var jobs []*webhook.OutboxJob
	for _, job := range r.jobs {
		if job.TenantID != tenantID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		copied := *job
		jobs = append(jobs, &copied)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *fakeJobRepo) CountByStatus(_ context.Context, tenantID uuid.UUID) (map[webhook.JobStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[webhook.JobStatus]int64)
	for _, job := range r.jobs {
		if job.TenantID == tenantID {
			counts[job.Status]++
		}
	}
	return counts, nil
}

func (r *fakeJobRepo) byStatus(status webhook.JobStatus) []*webhook.OutboxJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	var jobs []*webhook.OutboxJob
	for _, job := range r.jobs {
		if job.Status == status {
			copied := *job
			jobs = append(jobs, &copied)
		}
	}
	return jobs
}

// recordingTransport captures deliveries and answers with scripted results
type recordingTransport struct {
	mu         sync.Mutex
	deliveries []Delivery
	status     int
	body       []byte
	err        error
}

func (t *recordingTransport) Deliver(_ context.Context, d Delivery) (DeliveryResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deliveries = append(t.deliveries, d)
	if t.err != nil {
		return DeliveryResult{}, t.err
	}
	status := t.status
	if status == 0 {
		status = 200
	}
	return DeliveryResult{StatusCode: status, Body: t.body}, nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.deliveries)
}

func (t *recordingTransport) last() Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deliveries[len(t.deliveries)-1]
}

var _ shared.EventStore = (*fakeEventStore)(nil)
var _ webhook.Repository = (*fakeWebhookRepo)(nil)
var _ webhook.OutboxRepository = (*fakeJobRepo)(nil)
var _ Transport = (*recordingTransport)(nil)

// tenantRef exercises the fmt.Stringer normalization path of the trigger
type tenantRef struct{ id uuid.UUID }

func (t tenantRef) String() string { return t.id.String() }

var _ fmt.Stringer = tenantRef{}
