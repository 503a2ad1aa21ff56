package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cms/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PipelineRunner is the part of the pipeline the trigger needs
type PipelineRunner interface {
	RunTenantPipeline(ctx context.Context, req PipelineRequest) (PipelineResult, error)
}

// TriggerOptions overrides the trigger's default pipeline limits for one call
type TriggerOptions struct {
	DomainEventLimit int
	WebhookLimit     int
	MaxRetryAttempts int
	RetryBackoff     time.Duration
}

// Trigger is the fire-and-forget entry point business code calls after
// committing a state change. It schedules the tenant's pipeline on a
// goroutine, never inline with the caller, and never propagates pipeline
// failures back to the triggering path.
//
// Overlapping runs for the same tenant are skipped: an in-process guard
// covers a single instance, and a redis SETNX lock extends that across
// instances when redis is configured.
type Trigger struct {
	runner   PipelineRunner
	redis    redis.UniversalClient
	lockTTL  time.Duration
	defaults TriggerOptions
	log      *zap.Logger

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
	wg      sync.WaitGroup
}

// NewTrigger creates a trigger. redisClient may be nil, in which case only
// the in-process guard applies.
func NewTrigger(runner PipelineRunner, redisClient redis.UniversalClient, lockTTL time.Duration, defaults TriggerOptions, log *zap.Logger) *Trigger {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Trigger{
		runner:   runner,
		redis:    redisClient,
		lockTTL:  lockTTL,
		defaults: defaults,
		log:      log,
		running:  make(map[uuid.UUID]struct{}),
	}
}

// TriggerForTenant schedules a pipeline pass for the tenant identified by
// tenantIDish, which may be a uuid.UUID, a string, or anything implementing
// fmt.Stringer. A nil or empty value is a no-op; so is an unparseable id
// (logged, not raised). opts may be nil to use the trigger's defaults.
func (t *Trigger) TriggerForTenant(ctx context.Context, tenantIDish interface{}, opts *TriggerOptions) {
	tenantID, ok := normalizeTenantID(tenantIDish)
	if !ok {
		if tenantIDish != nil {
			t.log.Warn("webhook trigger ignored, unresolvable tenant id",
				zap.Any("tenant", tenantIDish))
		}
		return
	}

	options := t.defaults
	if opts != nil {
		options = *opts
	}

	// Detach from the caller's cancellation but keep context values so the
	// pipeline inherits request correlation fields.
	base := context.WithoutCancel(ctx)

	t.wg.Add(1)
	go t.run(base, tenantID, options)
}

// Wait blocks until all in-flight pipeline runs finish. Used on shutdown.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

func (t *Trigger) run(ctx context.Context, tenantID uuid.UUID, opts TriggerOptions) {
	defer t.wg.Done()

	if !t.acquire(ctx, tenantID) {
		t.log.Debug("webhook pipeline already running, skipping",
			zap.String("tenant_id", tenantID.String()))
		return
	}
	defer t.release(ctx, tenantID)

	// Establish tenant context so scoped persistence and log correlation
	// follow the whole run.
	runCtx, _ := logger.WithTenantID(ctx, t.log, tenantID.String())

	result, err := t.runner.RunTenantPipeline(runCtx, PipelineRequest{
		TenantID:         tenantID,
		DomainEventLimit: opts.DomainEventLimit,
		WebhookLimit:     opts.WebhookLimit,
		MaxRetryAttempts: opts.MaxRetryAttempts,
		RetryBackoff:     opts.RetryBackoff,
	})
	if err != nil {
		t.log.Error("webhook pipeline run failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		return
	}

	t.log.Debug("webhook pipeline run complete",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("fanned_out", result.FanOut.Processed),
		zap.Int("retried", result.Retry.Retried),
		zap.Int("dispatched", result.Dispatch.Processed),
	)
}

// acquire takes the per-tenant run guard. Both guards must be held; losing
// the redis race releases the local one again.
func (t *Trigger) acquire(ctx context.Context, tenantID uuid.UUID) bool {
	t.mu.Lock()
	if _, busy := t.running[tenantID]; busy {
		t.mu.Unlock()
		return false
	}
	t.running[tenantID] = struct{}{}
	t.mu.Unlock()

	if t.redis != nil {
		ok, err := t.redis.SetNX(ctx, pipelineLockKey(tenantID), 1, t.lockTTL).Result()
		if err != nil {
			// Redis being down should not stop deliveries; the local guard
			// still prevents overlap within this instance.
			t.log.Warn("pipeline lock unavailable, proceeding with local guard",
				zap.String("tenant_id", tenantID.String()), zap.Error(err))
			return true
		}
		if !ok {
			t.mu.Lock()
			delete(t.running, tenantID)
			t.mu.Unlock()
			return false
		}
	}
	return true
}

func (t *Trigger) release(ctx context.Context, tenantID uuid.UUID) {
	if t.redis != nil {
		if err := t.redis.Del(ctx, pipelineLockKey(tenantID)).Err(); err != nil {
			t.log.Warn("failed to release pipeline lock",
				zap.String("tenant_id", tenantID.String()), zap.Error(err))
		}
	}
	t.mu.Lock()
	delete(t.running, tenantID)
	t.mu.Unlock()
}

func pipelineLockKey(tenantID uuid.UUID) string {
	return "webhook:pipeline:" + tenantID.String()
}

// normalizeTenantID resolves the loosely typed tenant argument to a UUID
func normalizeTenantID(v interface{}) (uuid.UUID, bool) {
	var raw string
	switch id := v.(type) {
	case nil:
		return uuid.Nil, false
	case uuid.UUID:
		if id == uuid.Nil {
			return uuid.Nil, false
		}
		return id, true
	case string:
		raw = id
	case fmt.Stringer:
		raw = id.String()
	default:
		return uuid.Nil, false
	}

	if raw == "" {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil || parsed == uuid.Nil {
		return uuid.Nil, false
	}
	return parsed, true
}
