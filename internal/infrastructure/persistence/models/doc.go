// Package models contains GORM-specific persistence models that map to
// database tables. They are kept separate from the domain entities so the
// domain layer stays free of ORM concerns; mappers convert in both
// directions.
//
// Every tenant-owned model declares a tenant_id column. The tenant scoping
// callbacks (internal/infrastructure/persistence/tenant) key off that column:
// models without one are exempt from scoping.
package models
