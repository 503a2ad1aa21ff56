// This file verifies tenant isolation end to end against real PostgreSQL:
// the GORM callbacks must scope every read, update and delete to the tenant
// carried by the request context.
package integration

import (
	"context"
	"testing"

	"github.com/cms/backend/internal/infrastructure/logger"
	"github.com/cms/backend/internal/infrastructure/persistence/models"
	"github.com/cms/backend/internal/infrastructure/persistence/tenant"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tenantContext(id uuid.UUID) context.Context {
	ctx, _ := logger.WithTenantID(context.Background(), zap.NewNop(), id.String())
	return ctx
}

func newWebhookRow(tenantID uuid.UUID, url string) *models.WebhookModel {
	return &models.WebhookModel{
		ID:       uuid.New(),
		TenantID: tenantID,
		URL:      url,
		Secret:   "whsec_testsecret",
		IsActive: true,
		Events:   []string{"*"},
	}
}

func TestTenantFilter_ScopesQueriesToContextTenant(t *testing.T) {
	tdb := NewTestDB(t)
	tenant.EnableAutoTenantFilter(tdb.DB, true)

	tenantA := uuid.New()
	tenantB := uuid.New()

	require.NoError(t, tdb.DB.WithContext(tenantContext(tenantA)).
		Create(newWebhookRow(tenantA, "https://a.example.com/hooks")).Error)
	require.NoError(t, tdb.DB.WithContext(tenantContext(tenantB)).
		Create(newWebhookRow(tenantB, "https://b.example.com/hooks")).Error)

	var rows []models.WebhookModel
	require.NoError(t, tdb.DB.WithContext(tenantContext(tenantA)).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, tenantA, rows[0].TenantID)
}

func TestTenantFilter_CreateAssignsTenantFromContext(t *testing.T) {
	tdb := NewTestDB(t)
	tenant.EnableAutoTenantFilter(tdb.DB, true)

	tenantA := uuid.New()
	row := newWebhookRow(uuid.Nil, "https://a.example.com/hooks")

	require.NoError(t, tdb.DB.WithContext(tenantContext(tenantA)).Create(row).Error)

	var stored models.WebhookModel
	require.NoError(t, tdb.DB.WithContext(tenantContext(tenantA)).
		First(&stored, "id = ?", row.ID).Error)
	assert.Equal(t, tenantA, stored.TenantID)
}

func TestTenantFilter_RequiredRejectsMissingTenant(t *testing.T) {
	tdb := NewTestDB(t)
	tenant.EnableAutoTenantFilter(tdb.DB, true)

	var rows []models.WebhookModel
	err := tdb.DB.WithContext(context.Background()).Find(&rows).Error
	assert.ErrorIs(t, err, tenant.ErrTenantIDRequired)
}

func TestTenantFilter_DeleteCannotCrossTenants(t *testing.T) {
	tdb := NewTestDB(t)
	tenant.EnableAutoTenantFilter(tdb.DB, true)

	tenantA := uuid.New()
	tenantB := uuid.New()
	victim := newWebhookRow(tenantB, "https://b.example.com/hooks")

	require.NoError(t, tdb.DB.WithContext(tenantContext(tenantB)).Create(victim).Error)

	// Tenant A tries to delete tenant B's row by ID; the filter turns it
	// into a no-op.
	res := tdb.DB.WithContext(tenantContext(tenantA)).
		Delete(&models.WebhookModel{}, "id = ?", victim.ID)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.RowsAffected)

	var stored models.WebhookModel
	require.NoError(t, tdb.DB.WithContext(tenantContext(tenantB)).
		First(&stored, "id = ?", victim.ID).Error)
	assert.Equal(t, victim.ID, stored.ID)
}

func TestTenantFilter_UnscopedBypassesFilter(t *testing.T) {
	tdb := NewTestDB(t)
	tenant.EnableAutoTenantFilter(tdb.DB, true)

	tenantA := uuid.New()
	tenantB := uuid.New()
	require.NoError(t, tdb.DB.WithContext(tenantContext(tenantA)).
		Create(newWebhookRow(tenantA, "https://a.example.com/hooks")).Error)
	require.NoError(t, tdb.DB.WithContext(tenantContext(tenantB)).
		Create(newWebhookRow(tenantB, "https://b.example.com/hooks")).Error)

	var rows []models.WebhookModel
	require.NoError(t, tdb.DB.WithContext(context.Background()).
		Unscoped().Find(&rows).Error)
	assert.Len(t, rows, 2)
}
