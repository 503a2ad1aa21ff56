// Package scheduler runs the background sweep that keeps webhook delivery
// moving when no fresh event triggers it: overdue retries and any jobs left
// behind by a crashed instance.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cms/backend/internal/infrastructure/config"
	infraevent "github.com/cms/backend/internal/infrastructure/event"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TenantLister provides the tenants worth sweeping. Implemented by the
// webhook repository's unscoped distinct-tenant query.
type TenantLister interface {
	TenantsWithActiveWebhooks(ctx context.Context) ([]uuid.UUID, error)
}

// PipelineTrigger schedules a tenant's delivery pipeline. The trigger's own
// per-tenant guard prevents a sweep from overlapping an event-driven run.
type PipelineTrigger interface {
	TriggerForTenant(ctx context.Context, tenantIDish interface{}, opts *infraevent.TriggerOptions)
}

// PipelineScheduler ticks on a fixed interval and triggers the pipeline for
// every tenant with at least one active webhook
type PipelineScheduler struct {
	tenants  TenantLister
	trigger  PipelineTrigger
	interval time.Duration
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewPipelineScheduler creates a pipeline scheduler from configuration
func NewPipelineScheduler(
	cfg config.SchedulerConfig,
	tenants TenantLister,
	trigger PipelineTrigger,
	logger *zap.Logger,
) *PipelineScheduler {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PipelineScheduler{
		tenants:  tenants,
		trigger:  trigger,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the sweep loop. Calling Start on a running scheduler is a
// no-op.
func (s *PipelineScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("pipeline scheduler started",
		zap.Duration("tick_interval", s.interval),
	)
}

// Stop halts the loop and waits for an in-flight sweep, bounded by ctx
func (s *PipelineScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("pipeline scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PipelineScheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep triggers the pipeline for every tenant with active webhooks
func (s *PipelineScheduler) sweep(ctx context.Context) {
	tenantIDs, err := s.tenants.TenantsWithActiveWebhooks(ctx)
	if err != nil {
		s.logger.Error("failed to list tenants for pipeline sweep", zap.Error(err))
		return
	}
	if len(tenantIDs) == 0 {
		return
	}

	s.logger.Debug("pipeline sweep", zap.Int("tenants", len(tenantIDs)))
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return
		}
		s.trigger.TriggerForTenant(ctx, tenantID, nil)
	}
}
