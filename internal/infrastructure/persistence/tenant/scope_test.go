package tenant

import (
	"context"
	"testing"

	"github.com/cms/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupScopeDB(t *testing.T) *TenantDB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&scopedRecord{}))
	return NewTenantDB(db)
}

func TestTenantDB_WithContext(t *testing.T) {
	tdb := setupScopeDB(t)
	tenantA := uuid.New()
	tenantB := uuid.New()

	require.NoError(t, tdb.DB().Create(&scopedRecord{ID: uuid.New(), TenantID: tenantA, Name: "a"}).Error)
	require.NoError(t, tdb.DB().Create(&scopedRecord{ID: uuid.New(), TenantID: tenantB, Name: "b"}).Error)

	ctx, _ := logger.WithTenantID(context.Background(), zap.NewNop(), tenantA.String())
	var got []scopedRecord
	require.NoError(t, tdb.WithContext(ctx).Find(&got).Error)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Name)
}

func TestTenantDB_WithContextMissingTenant(t *testing.T) {
	tdb := setupScopeDB(t)

	var got []scopedRecord
	err := tdb.WithContext(context.Background()).Find(&got).Error
	assert.ErrorIs(t, err, ErrTenantIDRequired)
}

func TestTenantDB_WithContextInvalidTenant(t *testing.T) {
	tdb := setupScopeDB(t)
	ctx, _ := logger.WithTenantID(context.Background(), zap.NewNop(), "bogus")

	var got []scopedRecord
	err := tdb.WithContext(ctx).Find(&got).Error
	assert.ErrorIs(t, err, ErrInvalidTenantID)
}

func TestTenantDB_WithContextNotRequired(t *testing.T) {
	tdb := setupScopeDB(t).SetRequired(false)

	var got []scopedRecord
	assert.NoError(t, tdb.WithContext(context.Background()).Find(&got).Error)
}

func TestTenantDB_WithTenant(t *testing.T) {
	tdb := setupScopeDB(t)
	tenantID := uuid.New()
	require.NoError(t, tdb.DB().Create(&scopedRecord{ID: uuid.New(), TenantID: tenantID, Name: "x"}).Error)

	var got []scopedRecord
	require.NoError(t, tdb.WithTenant(context.Background(), tenantID).Find(&got).Error)
	assert.Len(t, got, 1)

	err := tdb.WithTenant(context.Background(), uuid.Nil).Find(&got).Error
	assert.ErrorIs(t, err, ErrTenantIDRequired)
}

func TestTenantDB_Transaction(t *testing.T) {
	tdb := setupScopeDB(t)
	tenantID := uuid.New()
	ctx, _ := logger.WithTenantID(context.Background(), zap.NewNop(), tenantID.String())

	err := tdb.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&scopedRecord{ID: uuid.New(), TenantID: tenantID, Name: "tx"}).Error
	})
	require.NoError(t, err)

	assert.ErrorIs(t, tdb.Transaction(context.Background(), func(tx *gorm.DB) error {
		return nil
	}), ErrTenantIDRequired)
}
