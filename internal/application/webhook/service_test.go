package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/cms/backend/internal/domain/webhook"
	infraevent "github.com/cms/backend/internal/infrastructure/event"
	"github.com/cms/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memWebhookRepo struct {
	mu    sync.Mutex
	hooks map[uuid.UUID]*webhook.Webhook
}

func newMemWebhookRepo() *memWebhookRepo {
	return &memWebhookRepo{hooks: make(map[uuid.UUID]*webhook.Webhook)}
}

func (r *memWebhookRepo) Save(_ context.Context, hook *webhook.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[hook.ID] = hook
	return nil
}

func (r *memWebhookRepo) FindByID(_ context.Context, id uuid.UUID) (*webhook.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hook, ok := r.hooks[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return hook, nil
}

func (r *memWebhookRepo) FindActiveMatching(_ context.Context, tenantID uuid.UUID, t shared.EventType) ([]*webhook.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*webhook.Webhook
	for _, hook := range r.hooks {
		if hook.TenantID == tenantID && hook.IsActive && hook.Matches(t) {
			matched = append(matched, hook)
		}
	}
	return matched, nil
}

func (r *memWebhookRepo) List(_ context.Context, tenantID uuid.UUID) ([]*webhook.Webhook, error) {
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

func (r *memWebhookRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.hooks, id)
	return nil
}

func (r *memWebhookRepo) TenantsWithActiveWebhooks(_ context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*webhook.OutboxJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[uuid.UUID]*webhook.OutboxJob)}
}

func (r *memJobRepo) CreateIgnoreDuplicates(_ context.Context, jobs ...*webhook.OutboxJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range jobs {
		r.jobs[job.ID] = job
	}
	return nil
}

func (r *memJobRepo) ClaimPending(context.Context, uuid.UUID, int) ([]*webhook.OutboxJob, error) {
	return nil, nil
}

func (r *memJobRepo) RequeueRetryable(context.Context, uuid.UUID, int, time.Time) (int64, error) {
	return 0, nil
}

func (r *memJobRepo) RequeueStale(context.Context, uuid.UUID, time.Time) (int64, error) {
	return 0, nil
}

func (r *memJobRepo) Update(_ context.Context, job *webhook.OutboxJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return nil
}

func (r *memJobRepo) FindByID(_ context.Context, id uuid.UUID) (*webhook.OutboxJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return job, nil
}

func (r *memJobRepo) ListByStatus(_ context.Context, tenantID uuid.UUID, status webhook.JobStatus, _ int) ([]*webhook.OutboxJob, error) {
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
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r *memJobRepo) CountByStatus(_ context.Context, tenantID uuid.UUID) (map[webhook.JobStatus]int64, error) {
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

type memEventStore struct {
	mu     sync.Mutex
	events []*shared.Event
	err    error
}

func (s *memEventStore) Append(_ context.Context, event *shared.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *memEventStore) FindPendingFanOut(context.Context, uuid.UUID, int) ([]*shared.Event, error) {
	return nil, nil
}

func (s *memEventStore) MarkFannedOut(context.Context, []uuid.UUID, time.Time) error {
	return nil
}

func (s *memEventStore) FindByID(context.Context, uuid.UUID) (*shared.Event, error) {
	return nil, shared.ErrNotFound
}

func (s *memEventStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type spyTrigger struct {
	mu      sync.Mutex
	tenants []interface{}
}

func (t *spyTrigger) TriggerForTenant(_ context.Context, tenantIDish interface{}, _ *infraevent.TriggerOptions) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tenants = append(t.tenants, tenantIDish)
}

func (t *spyTrigger) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tenants)
}

type stubTester struct {
	result infraevent.TestResult
	err    error
}

func (s *stubTester) Send(context.Context, uuid.UUID) (infraevent.TestResult, error) {
	return s.result, s.err
}

type serviceFixture struct {
	service  *Service
	recorder *EventRecorder
	hooks    *memWebhookRepo
	jobs     *memJobRepo
	events   *memEventStore
	trigger  *spyTrigger
	tester   *stubTester
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		hooks:   newMemWebhookRepo(),
		jobs:    newMemJobRepo(),
		events:  &memEventStore{},
		trigger: &spyTrigger{},
		tester:  &stubTester{},
	}
	f.recorder = NewEventRecorder(f.events, f.trigger, zap.NewNop())
	f.service = NewService(f.hooks, f.jobs, f.recorder, f.tester, zap.NewNop())
	return f
}

func tenantCtx(tenantID uuid.UUID) context.Context {
	ctx, _ := logger.WithTenantID(context.Background(), zap.NewNop(), tenantID.String())
	return ctx
}

func TestService_Register(t *testing.T) {
	f := newServiceFixture()
	tenantID := uuid.New()

	dto, err := f.service.Register(tenantCtx(tenantID), RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []string{"content.created", "*"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, dto.ID)
	assert.Contains(t, dto.Secret, "whsec_")
	assert.True(t, dto.IsActive)

	stored, err := f.hooks.FindByID(context.Background(), dto.ID)
	require.NoError(t, err)
	assert.Equal(t, tenantID, stored.TenantID)

	// Registration emits a webhook.created bookkeeping event and triggers
	// the pipeline
	assert.Equal(t, 1, f.events.count())
	assert.Equal(t, 1, f.trigger.count())
}

func TestService_Register_InvalidPattern(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.Register(tenantCtx(uuid.New()), RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []string{"content.exploded"},
	})
	assert.ErrorIs(t, err, shared.ErrUnknownEventType)
}

func TestService_Register_RequiresTenant(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.Register(context.Background(), RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []string{"*"},
	})
	assert.ErrorIs(t, err, shared.ErrTenantIDRequired)
	assert.Zero(t, f.events.count())
}

func TestService_List_OmitsSecret(t *testing.T) {
	f := newServiceFixture()
	tenantID := uuid.New()
	ctx := tenantCtx(tenantID)

	_, err := f.service.Register(ctx, RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []string{"*"},
	})
	require.NoError(t, err)

	list, err := f.service.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Secret)
}

func TestService_Delete(t *testing.T) {
	f := newServiceFixture()
	tenantID := uuid.New()
	ctx := tenantCtx(tenantID)

	dto, err := f.service.Register(ctx, RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []string{"*"},
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(ctx, dto.ID))
	_, err = f.hooks.FindByID(context.Background(), dto.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// webhook.created + webhook.deleted
	assert.Equal(t, 2, f.events.count())

	var domainErr *shared.DomainError
	err = f.service.Delete(ctx, uuid.New())
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "WEBHOOK_NOT_FOUND", domainErr.Code)
}

func TestService_ListJobs_InvalidStatus(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.ListJobs(tenantCtx(uuid.New()), "exploded", 10)
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_STATUS", domainErr.Code)
}

func TestService_GetJobStats(t *testing.T) {
	f := newServiceFixture()
	tenantID := uuid.New()

	seed := func(status webhook.JobStatus) {
		job := &webhook.OutboxJob{
			ID:       uuid.New(),
			TenantID: tenantID,
			Status:   status,
		}
		require.NoError(t, f.jobs.Update(context.Background(), job))
	}
	seed(webhook.JobStatusPending)
	seed(webhook.JobStatusPending)
	seed(webhook.JobStatusDone)
	seed(webhook.JobStatusFailed)

	stats, err := f.service.GetJobStats(tenantCtx(tenantID))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Done)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(4), stats.Total)
}

func TestService_RequeueJob(t *testing.T) {
	f := newServiceFixture()
	tenantID := uuid.New()

	next := time.Now().Add(time.Hour)
	job := &webhook.OutboxJob{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Status:      webhook.JobStatusFailed,
		RetryCount:  1,
		MaxAttempts: 5,
		NextRetryAt: &next,
	}
	require.NoError(t, f.jobs.Update(context.Background(), job))

	dto, err := f.service.RequeueJob(tenantCtx(tenantID), job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(webhook.JobStatusPending), dto.Status)
	assert.Nil(t, dto.NextRetryAt)
}

func TestService_RequeueJob_Exhausted(t *testing.T) {
	f := newServiceFixture()
	tenantID := uuid.New()

	job := &webhook.OutboxJob{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Status:      webhook.JobStatusFailed,
		RetryCount:  5,
		MaxAttempts: 5,
	}
	require.NoError(t, f.jobs.Update(context.Background(), job))

	_, err := f.service.RequeueJob(tenantCtx(tenantID), job.ID)
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_STATUS", domainErr.Code)
}

func TestService_SendTest(t *testing.T) {
	f := newServiceFixture()
	tenantID := uuid.New()
	ctx := tenantCtx(tenantID)

	dto, err := f.service.Register(ctx, RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []string{"*"},
	})
	require.NoError(t, err)

	f.tester.result = infraevent.TestResult{OK: true, Status: 200, Body: "ok"}
	result, err := f.service.SendTest(ctx, dto.ID)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 200, result.Status)
}

func TestService_SendTest_SurfacesHTTPFailure(t *testing.T) {
	f := newServiceFixture()
	tenantID := uuid.New()
	ctx := tenantCtx(tenantID)

	dto, err := f.service.Register(ctx, RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []string{"*"},
	})
	require.NoError(t, err)

	f.tester.result = infraevent.TestResult{OK: false, Status: 500, Body: "boom"}
	f.tester.err = errors.New("test delivery failed with status 500")

	result, err := f.service.SendTest(ctx, dto.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	require.NotNil(t, result)
	assert.Equal(t, 500, result.Status)
	assert.Equal(t, "boom", result.Body)
}

func TestService_SendTest_NotFound(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.SendTest(tenantCtx(uuid.New()), uuid.New())
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "WEBHOOK_NOT_FOUND", domainErr.Code)
}
