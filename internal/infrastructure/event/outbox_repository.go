package event

import (
	"context"
	"errors"
	"time"

	"github.com/cms/backend/internal/domain/shared"
	"github.com/cms/backend/internal/domain/webhook"
	"github.com/cms/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOutboxJobRepository implements webhook.OutboxRepository using GORM
type GormOutboxJobRepository struct {
	db *gorm.DB
}

// NewGormOutboxJobRepository creates a new GORM-based outbox job repository
func NewGormOutboxJobRepository(db *gorm.DB) *GormOutboxJobRepository {
	return &GormOutboxJobRepository{db: db}
}

// WithTx returns a new repository instance bound to the given transaction
func (r *GormOutboxJobRepository) WithTx(tx *gorm.DB) *GormOutboxJobRepository {
	return &GormOutboxJobRepository{db: tx}
}

// CreateIgnoreDuplicates inserts jobs, skipping any whose (webhook_id,
// event_id) pair already exists. Re-running fan-out for the same event is
// therefore a no-op for jobs already created.
func (r *GormOutboxJobRepository) CreateIgnoreDuplicates(ctx context.Context, jobs ...*webhook.OutboxJob) error {
	if len(jobs) == 0 {
		return nil
	}

	rows := make([]*models.OutboxJobModel, len(jobs))
	for i, j := range jobs {
		rows[i] = models.OutboxJobModelFromDomain(j)
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "webhook_id"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(rows).Error
}

// ClaimPending atomically moves up to limit of the tenant's oldest pending
// jobs to processing and returns them. FOR UPDATE SKIP LOCKED keeps
// concurrent dispatch passes from claiming the same rows; the conditional
// update is the second line of defense.
func (r *GormOutboxJobRepository) ClaimPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]*webhook.OutboxJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []*models.OutboxJobModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{
				Strength: "UPDATE",
				Options:  "SKIP LOCKED",
			}).
			Where("tenant_id = ? AND status = ?", tenantID, webhook.JobStatusPending).
			Order("created_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}

		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
		}

		now := time.Now()
		res := tx.Model(&models.OutboxJobModel{}).
			Where("id IN ? AND status = ?", ids, webhook.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     webhook.JobStatusProcessing,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}

		for _, row := range rows {
			row.Status = string(webhook.JobStatusProcessing)
			row.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]*webhook.OutboxJob, len(rows))
	for i, row := range rows {
		jobs[i] = row.ToDomain()
	}
	return jobs, nil
}

// RequeueRetryable flips the tenant's failed jobs whose backoff has elapsed
// back to pending so the next dispatch pass picks them up
func (r *GormOutboxJobRepository) RequeueRetryable(ctx context.Context, tenantID uuid.UUID, maxAttempts int, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxJobModel{}).
		Where("tenant_id = ? AND status = ? AND retry_count < ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			tenantID, webhook.JobStatusFailed, maxAttempts, now).
		Updates(map[string]interface{}{
			"status":        webhook.JobStatusPending,
			"next_retry_at": nil,
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

// RequeueStale flips processing jobs untouched since cutoff back to pending.
// A dispatch pass killed after claiming leaves its jobs in processing with no
// state transition of their own; without this they would never be claimable
// again.
func (r *GormOutboxJobRepository) RequeueStale(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxJobModel{}).
		Where("tenant_id = ? AND status = ? AND updated_at < ?",
			tenantID, webhook.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     webhook.JobStatusPending,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

// Update persists job state changes
func (r *GormOutboxJobRepository) Update(ctx context.Context, job *webhook.OutboxJob) error {
	job.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(models.OutboxJobModelFromDomain(job)).Error
}

// FindByID retrieves a single job by ID
func (r *GormOutboxJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*webhook.OutboxJob, error) {
	var row models.OutboxJobModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// ListByStatus retrieves the tenant's jobs in the given status, newest first.
// An empty status lists across all statuses.
func (r *GormOutboxJobRepository) ListByStatus(ctx context.Context, tenantID uuid.UUID, status webhook.JobStatus, limit int) ([]*webhook.OutboxJob, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var rows []*models.OutboxJobModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	jobs := make([]*webhook.OutboxJob, len(rows))
	for i, row := range rows {
		jobs[i] = row.ToDomain()
	}
	return jobs, nil
}

// CountByStatus returns job counts per status for the tenant
func (r *GormOutboxJobRepository) CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[webhook.JobStatus]int64, error) {
	type statusCount struct {
		Status webhook.JobStatus
		Count  int64
	}

	var results []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.OutboxJobModel{}).
		Select("status, count(*) as count").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[webhook.JobStatus]int64)
	for _, r := range results {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Ensure GormOutboxJobRepository implements webhook.OutboxRepository
var _ webhook.OutboxRepository = (*GormOutboxJobRepository)(nil)
