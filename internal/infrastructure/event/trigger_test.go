package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubRunner struct {
	mu      sync.Mutex
	calls   []PipelineRequest
	block   chan struct{}
	started chan struct{}
	err     error
}

func (r *stubRunner) RunTenantPipeline(_ context.Context, req PipelineRequest) (PipelineResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	return PipelineResult{}, r.err
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestTrigger(runner PipelineRunner) *Trigger {
	return NewTrigger(runner, nil, time.Minute, TriggerOptions{
		DomainEventLimit: 100,
		WebhookLimit:     50,
		MaxRetryAttempts: 5,
	}, zap.NewNop())
}

func TestTrigger_RunsPipelineWithDefaults(t *testing.T) {
	runner := &stubRunner{}
	trigger := newTestTrigger(runner)
	tenantID := uuid.New()

	trigger.TriggerForTenant(context.Background(), tenantID, nil)
	trigger.Wait()

	require.Equal(t, 1, runner.callCount())
	req := runner.calls[0]
	assert.Equal(t, tenantID, req.TenantID)
	assert.Equal(t, 100, req.DomainEventLimit)
	assert.Equal(t, 50, req.WebhookLimit)
	assert.Equal(t, 5, req.MaxRetryAttempts)
}

func TestTrigger_OptionsOverrideDefaults(t *testing.T) {
	runner := &stubRunner{}
	trigger := newTestTrigger(runner)

	trigger.TriggerForTenant(context.Background(), uuid.New(), &TriggerOptions{
		DomainEventLimit: 7,
		WebhookLimit:     3,
		MaxRetryAttempts: 1,
	})
	trigger.Wait()

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, 7, runner.calls[0].DomainEventLimit)
	assert.Equal(t, 3, runner.calls[0].WebhookLimit)
	assert.Equal(t, 1, runner.calls[0].MaxRetryAttempts)
}

func TestTrigger_NormalizesStringAndStringer(t *testing.T) {
	runner := &stubRunner{}
	trigger := newTestTrigger(runner)
	tenantID := uuid.New()

	trigger.TriggerForTenant(context.Background(), tenantID.String(), nil)
	trigger.TriggerForTenant(context.Background(), tenantRef{id: tenantID}, nil)
	trigger.Wait()

	require.Equal(t, 2, runner.callCount())
	assert.Equal(t, tenantID, runner.calls[0].TenantID)
	assert.Equal(t, tenantID, runner.calls[1].TenantID)
}

func TestTrigger_NoOpOnUnresolvableTenant(t *testing.T) {
	runner := &stubRunner{}
	trigger := newTestTrigger(runner)

	trigger.TriggerForTenant(context.Background(), nil, nil)
	trigger.TriggerForTenant(context.Background(), "", nil)
	trigger.TriggerForTenant(context.Background(), "not-a-uuid", nil)
	trigger.TriggerForTenant(context.Background(), uuid.Nil, nil)
	trigger.TriggerForTenant(context.Background(), 42, nil)
	trigger.Wait()

	assert.Zero(t, runner.callCount())
}

func TestTrigger_NeverRunsInline(t *testing.T) {
	runner := &stubRunner{started: make(chan struct{}, 1)}
	trigger := newTestTrigger(runner)

	trigger.TriggerForTenant(context.Background(), uuid.New(), nil)
	// The call above must return before the pipeline runs; observing the
	// start via the channel after returning proves deferral
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never started")
	}
	trigger.Wait()
}

func TestTrigger_SwallowsPipelineErrors(t *testing.T) {
	runner := &stubRunner{err: errors.New("pipeline exploded")}
	trigger := newTestTrigger(runner)

	// Must not panic or propagate
	trigger.TriggerForTenant(context.Background(), uuid.New(), nil)
	trigger.Wait()
	assert.Equal(t, 1, runner.callCount())
}

func TestTrigger_SkipsOverlappingRuns(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{}), started: make(chan struct{}, 2)}
	trigger := newTestTrigger(runner)
	tenantID := uuid.New()

	trigger.TriggerForTenant(context.Background(), tenantID, nil)
	<-runner.started

	// Second trigger for the same tenant while the first is in flight must
	// be skipped, never queued
	trigger.TriggerForTenant(context.Background(), tenantID, nil)
	select {
	case <-runner.started:
		t.Fatal("overlapping pipeline run started")
	case <-time.After(200 * time.Millisecond):
	}

	close(runner.block)
	trigger.Wait()
	assert.Equal(t, 1, runner.callCount())
}

func TestTrigger_GuardAcquireRelease(t *testing.T) {
	trigger := newTestTrigger(&stubRunner{})
	ctx := context.Background()
	tenantID := uuid.New()
	other := uuid.New()

	assert.True(t, trigger.acquire(ctx, tenantID))
	assert.False(t, trigger.acquire(ctx, tenantID))
	assert.True(t, trigger.acquire(ctx, other))

	trigger.release(ctx, tenantID)
	assert.True(t, trigger.acquire(ctx, tenantID))
}

func TestTrigger_DifferentTenantsRunConcurrently(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{}), started: make(chan struct{}, 2)}
	trigger := newTestTrigger(runner)

	trigger.TriggerForTenant(context.Background(), uuid.New(), nil)
	trigger.TriggerForTenant(context.Background(), uuid.New(), nil)

	<-runner.started
	<-runner.started
	close(runner.block)
	trigger.Wait()

	assert.Equal(t, 2, runner.callCount())
}

func TestTrigger_SurvivesCallerCancellation(t *testing.T) {
	runner := &stubRunner{}
	trigger := newTestTrigger(runner)

	ctx, cancel := context.WithCancel(context.Background())
	trigger.TriggerForTenant(ctx, uuid.New(), nil)
	cancel()
	trigger.Wait()

	assert.Equal(t, 1, runner.callCount())
}
