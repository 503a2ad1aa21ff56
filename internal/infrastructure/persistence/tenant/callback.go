package tenant

import (
	"reflect"
	"strings"

	"github.com/cms/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// TenantCallback provides GORM callback hooks for automatic tenant scoping.
// Queries, updates and deletes get a tenant_id filter; creates get the
// tenant_id assigned from context when the model leaves it empty.
type TenantCallback struct {
	tenantColumn string
	required     bool
}

// NewTenantCallback creates a new tenant callback handler
func NewTenantCallback(tenantColumn string, required bool) *TenantCallback {
	if tenantColumn == "" {
		tenantColumn = "tenant_id"
	}
	return &TenantCallback{
		tenantColumn: tenantColumn,
		required:     required,
	}
}

// RegisterCallbacks registers tenant callbacks with GORM
func (tc *TenantCallback) RegisterCallbacks(db *gorm.DB) {
	_ = db.Callback().Query().Before("gorm:query").Register("tenant:before_query", tc.beforeQuery)
	_ = db.Callback().Update().Before("gorm:update").Register("tenant:before_update", tc.beforeUpdate)
	_ = db.Callback().Delete().Before("gorm:delete").Register("tenant:before_delete", tc.beforeDelete)
	_ = db.Callback().Row().Before("gorm:row").Register("tenant:before_row", tc.beforeQuery)
	_ = db.Callback().Create().Before("gorm:create").Register("tenant:before_create", tc.beforeCreate)
}

// beforeQuery adds tenant filter to SELECT queries
func (tc *TenantCallback) beforeQuery(db *gorm.DB) {
	tc.addTenantFilter(db)
}

// beforeUpdate adds tenant filter to UPDATE queries
func (tc *TenantCallback) beforeUpdate(db *gorm.DB) {
	tc.addTenantFilter(db)
}

// beforeDelete adds tenant filter to DELETE queries
func (tc *TenantCallback) beforeDelete(db *gorm.DB) {
	tc.addTenantFilter(db)
}

// beforeCreate assigns tenant_id from context to rows that don't carry one.
// Handles both single-struct and batch (slice) creates. Models whose schema
// has no tenant column are left untouched.
func (tc *TenantCallback) beforeCreate(db *gorm.DB) {
	if db.Statement.Context == nil || db.Statement.Unscoped {
		return
	}

	field := tc.tenantField(db)
	if field == nil {
		return
	}

	tenantID := logger.GetTenantID(db.Statement.Context)
	if tenantID == "" {
		// The required check happens only when a row actually needs the
		// value; rows created with an explicit tenant_id pass through.
		tc.fillMissing(db, field, uuid.Nil, tc.required)
		return
	}

	parsed, err := uuid.Parse(tenantID)
	if err != nil {
		_ = db.AddError(ErrInvalidTenantID)
		return
	}

	tc.fillMissing(db, field, parsed, tc.required)
}

// fillMissing walks the destination value(s) and sets the tenant field where
// it is zero. When the context carries no tenant and required is set, a row
// with a zero tenant field fails the whole create.
func (tc *TenantCallback) fillMissing(db *gorm.DB, field *schema.Field, tenantID uuid.UUID, required bool) {
	rv := db.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := tc.fillOne(db, field, rv.Index(i), tenantID, required); err != nil {
				_ = db.AddError(err)
				return
			}
		}
	case reflect.Struct:
		if err := tc.fillOne(db, field, rv, tenantID, required); err != nil {
			_ = db.AddError(err)
		}
	}
}

func (tc *TenantCallback) fillOne(db *gorm.DB, field *schema.Field, rv reflect.Value, tenantID uuid.UUID, required bool) error {
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	current, zero := field.ValueOf(db.Statement.Context, rv)
	if !zero {
		if id, ok := current.(uuid.UUID); ok && id != uuid.Nil {
			return nil
		}
		if s, ok := current.(string); ok && s != "" {
			return nil
		}
	}

	if tenantID == uuid.Nil {
		if required {
			return ErrTenantIDRequired
		}
		return nil
	}

	return field.Set(db.Statement.Context, rv, tenantID)
}

// tenantField looks up the tenant column in the statement's parsed schema.
// Returning nil opts the model out of scoping entirely.
func (tc *TenantCallback) tenantField(db *gorm.DB) *schema.Field {
	if db.Statement.Schema == nil {
		return nil
	}
	return db.Statement.Schema.LookUpField(tc.tenantColumn)
}

// addTenantFilter adds tenant filtering to the query
func (tc *TenantCallback) addTenantFilter(db *gorm.DB) {
	if db.Statement.Context == nil {
		return
	}

	// Skip if unscoped
	if db.Statement.Unscoped {
		return
	}

	// Models without a tenant column (parsed schema) are exempt
	if db.Statement.Schema != nil && tc.tenantField(db) == nil {
		return
	}

	// Skip if already has tenant condition
	if tc.hasTenantCondition(db) {
		return
	}

	// Get tenant ID from context
	tenantID := logger.GetTenantID(db.Statement.Context)
	if tenantID == "" {
		if tc.required {
			_ = db.AddError(ErrTenantIDRequired)
		}
		return
	}

	// Validate UUID format
	if _, err := uuid.Parse(tenantID); err != nil {
		_ = db.AddError(ErrInvalidTenantID)
		return
	}

	// Add tenant filter using GORM's clause
	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: clause.CurrentTable, Name: tc.tenantColumn},
				Value:  tenantID,
			},
		},
	})
}

// hasTenantCondition checks if tenant_id condition is already present
func (tc *TenantCallback) hasTenantCondition(db *gorm.DB) bool {
	if whereClause, ok := db.Statement.Clauses["WHERE"]; ok {
		if where, ok := whereClause.Expression.(clause.Where); ok {
			for _, expr := range where.Exprs {
				if tc.exprContainsTenant(expr) {
					return true
				}
			}
		}
	}

	// Also check the built SQL if available
	sql := db.Statement.SQL.String()
	if sql != "" && strings.Contains(sql, tc.tenantColumn) {
		return true
	}

	return false
}

// exprContainsTenant checks if an expression contains the tenant column
func (tc *TenantCallback) exprContainsTenant(expr clause.Expression) bool {
	switch e := expr.(type) {
	case clause.Eq:
		if col, ok := e.Column.(clause.Column); ok {
			return col.Name == tc.tenantColumn
		}
	case clause.IN:
		if col, ok := e.Column.(clause.Column); ok {
			return col.Name == tc.tenantColumn
		}
	case clause.Expr:
		return strings.Contains(e.SQL, tc.tenantColumn)
	case clause.AndConditions:
		for _, cond := range e.Exprs {
			if tc.exprContainsTenant(cond) {
				return true
			}
		}
	case clause.OrConditions:
		for _, cond := range e.Exprs {
			if tc.exprContainsTenant(cond) {
				return true
			}
		}
	}
	return false
}

// EnableAutoTenantFilter registers tenant callbacks on a GORM DB instance.
// All queries against models with a tenant_id column become tenant-scoped;
// creates get the tenant_id assigned from context.
func EnableAutoTenantFilter(db *gorm.DB, required bool) {
	tc := NewTenantCallback("tenant_id", required)
	tc.RegisterCallbacks(db)
}

// DisableAutoTenantFilter removes the tenant callbacks (testing only)
func DisableAutoTenantFilter(db *gorm.DB) {
	_ = db.Callback().Query().Remove("tenant:before_query")
	_ = db.Callback().Update().Remove("tenant:before_update")
	_ = db.Callback().Delete().Remove("tenant:before_delete")
	_ = db.Callback().Row().Remove("tenant:before_row")
	_ = db.Callback().Create().Remove("tenant:before_create")
}
