// Package tenant provides multi-tenant database scoping for GORM.
//
// Every table that carries a tenant_id column is isolated per tenant: the
// callbacks in this package extract the tenant ID from the request context
// and apply WHERE tenant_id = ? to reads, updates and deletes, and assign
// tenant_id on creates. Models without a tenant_id column (e.g. system-level
// tables) are exempt automatically.
//
// Usage:
//
//	db := tenant.NewTenantDB(gormDB)
//	scoped := db.WithContext(ctx) // tenant filter applied from context
//	scoped.Find(&webhooks)        // WHERE tenant_id = 'xxx' is auto-added
package tenant

import (
	"context"
	"errors"

	"github.com/cms/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrTenantIDRequired is returned when tenant_id is required but not found
var ErrTenantIDRequired = errors.New("tenant_id is required but not found in context")

// ErrInvalidTenantID is returned when tenant_id format is invalid
var ErrInvalidTenantID = errors.New("invalid tenant_id format")

// Scope applies tenant filtering to GORM queries
func Scope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// ScopeString applies tenant filtering using a string tenant ID
func ScopeString(tenantID string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// TenantDB wraps GORM DB with automatic tenant scoping
type TenantDB struct {
	db       *gorm.DB
	required bool
}

// NewTenantDB creates a TenantDB that requires a tenant in context.
// Missing tenant context makes every scoped operation fail rather than
// silently running unfiltered.
func NewTenantDB(db *gorm.DB) *TenantDB {
	return &TenantDB{db: db, required: true}
}

// DB returns the underlying GORM DB without tenant scoping.
// Use with caution - this bypasses tenant isolation.
func (t *TenantDB) DB() *gorm.DB {
	return t.db
}

// WithContext returns a GORM DB scoped to the tenant from context.
// It extracts tenant_id from the context (set by tenant middleware)
// and applies the tenant filter to all queries.
//
// If tenant_id is not found in context and the DB requires one, it returns
// a DB that errors on any operation.
func (t *TenantDB) WithContext(ctx context.Context) *gorm.DB {
	tenantID := logger.GetTenantID(ctx)

	if tenantID == "" {
		db := t.db.WithContext(ctx)
		if t.required {
			_ = db.AddError(ErrTenantIDRequired)
		}
		return db
	}

	if _, err := uuid.Parse(tenantID); err != nil {
		db := t.db.WithContext(ctx)
		_ = db.AddError(ErrInvalidTenantID)
		return db
	}

	return t.db.WithContext(ctx).Scopes(ScopeString(tenantID))
}

// WithTenant returns a GORM DB scoped to a specific tenant ID.
// Use this when the tenant ID is known directly rather than from context,
// such as in the per-tenant delivery pipeline.
func (t *TenantDB) WithTenant(ctx context.Context, tenantID uuid.UUID) *gorm.DB {
	if tenantID == uuid.Nil {
		db := t.db.WithContext(ctx)
		if t.required {
			_ = db.AddError(ErrTenantIDRequired)
		}
		return db
	}
	return t.db.WithContext(ctx).Scopes(Scope(tenantID))
}

// Transaction executes a function within a database transaction with tenant scope
func (t *TenantDB) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tenantID := logger.GetTenantID(ctx)

	if tenantID == "" && t.required {
		return ErrTenantIDRequired
	}

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tenantID != "" {
			tx = tx.Scopes(ScopeString(tenantID))
		}
		return fn(tx)
	})
}

// Unscoped returns the underlying DB without any tenant scoping.
// WARNING: bypasses tenant isolation. Only for system-level operations
// such as migrations or cross-tenant scheduling queries.
func (t *TenantDB) Unscoped() *gorm.DB {
	return t.db
}

// SetRequired changes whether tenant_id is required
func (t *TenantDB) SetRequired(required bool) *TenantDB {
	return &TenantDB{db: t.db, required: required}
}
