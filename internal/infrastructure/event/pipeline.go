package event

import (
	"context"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// PipelineRequest carries the per-run limits for one tenant's pipeline pass
type PipelineRequest struct {
	TenantID         uuid.UUID
	DomainEventLimit int
	WebhookLimit     int
	MaxRetryAttempts int
	RetryBackoff     time.Duration
}

// PipelineResult combines the three stage results of one pass
type PipelineResult struct {
	FanOut   FanOutResult
	Retry    RetryResult
	Dispatch DispatchResult
}

// Pipeline runs fan-out, retry and dispatch for a single tenant, strictly in
// that order. Retry must precede dispatch so requeued jobs are eligible in
// the same pass, and fan-out must precede dispatch so jobs created this pass
// are too.
type Pipeline struct {
	fanOut   *FanOut
	retry    *RetryPass
	dispatch *Dispatcher
}

// NewPipeline creates a pipeline from its three stages
func NewPipeline(fanOut *FanOut, retry *RetryPass, dispatch *Dispatcher) *Pipeline {
	return &Pipeline{
		fanOut:   fanOut,
		retry:    retry,
		dispatch: dispatch,
	}
}

// RunTenantPipeline executes one full pass for the tenant. A missing tenant
// id fails fast before any stage runs. Each stage must complete before the
// next starts; a structural stage error aborts the remainder of the pass.
func (p *Pipeline) RunTenantPipeline(ctx context.Context, req PipelineRequest) (PipelineResult, error) {
	if req.TenantID == uuid.Nil {
		return PipelineResult{}, shared.ErrTenantIDRequired
	}

	var result PipelineResult
	var err error

	result.FanOut, err = p.fanOut.Run(ctx, FanOutRequest{
		TenantID: req.TenantID,
		Limit:    req.DomainEventLimit,
	})
	if err != nil {
		return result, err
	}

	result.Retry, err = p.retry.Run(ctx, RetryRequest{
		TenantID:    req.TenantID,
		MaxAttempts: req.MaxRetryAttempts,
	})
	if err != nil {
		return result, err
	}

	result.Dispatch, err = p.dispatch.Run(ctx, DispatchRequest{
		TenantID:     req.TenantID,
		Limit:        req.WebhookLimit,
		MaxAttempts:  req.MaxRetryAttempts,
		RetryBackoff: req.RetryBackoff,
	})
	return result, err
}
