package middleware

import (
	"strings"

	"github.com/cms/backend/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// TenantIDKey is the gin context key holding the resolved tenant id
	TenantIDKey = "tenant_id"
	// TenantHeaderKey is the development fallback header
	TenantHeaderKey = "X-Tenant-ID"
)

// TenantConfig holds configuration for the tenant middleware
type TenantConfig struct {
	// HeaderEnabled allows X-Tenant-ID extraction when no JWT claim is
	// present. Meant for development; disable in production.
	HeaderEnabled bool
	// SkipPaths bypass tenant resolution (health checks)
	SkipPaths []string
	Logger    *zap.Logger
}

// DefaultTenantConfig returns the default tenant middleware configuration
func DefaultTenantConfig() TenantConfig {
	return TenantConfig{
		HeaderEnabled: true,
		SkipPaths:     []string{"/health", "/healthz", "/ready"},
	}
}

// Tenant resolves the request tenant, JWT claim first, then the header
// fallback, and installs it into the request context. Every scoped query and
// insert downstream derives its tenant from this. Requests without a
// resolvable tenant are rejected.
func Tenant(cfg TenantConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skip := range cfg.SkipPaths {
			if path == skip || strings.HasPrefix(path, skip+"/") {
				c.Next()
				return
			}
		}

		tenantID := GetJWTTenantID(c)
		if tenantID == "" && cfg.HeaderEnabled {
			tenantID = c.GetHeader(TenantHeaderKey)
		}

		if tenantID == "" {
			abortUnauthorized(c, "Tenant identification required")
			return
		}
		if _, err := uuid.Parse(tenantID); err != nil {
			abortUnauthorized(c, "Invalid tenant ID format")
			return
		}

		c.Set(TenantIDKey, tenantID)

		ctx := c.Request.Context()
		log := cfg.Logger
		if log == nil {
			log = logger.FromContext(ctx)
		}
		ctx, log = logger.WithTenantID(ctx, log, tenantID)
		if userID := GetJWTUserID(c); userID != "" {
			ctx, _ = logger.WithUserID(ctx, log, userID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetTenantID retrieves the resolved tenant id from the gin context, or ""
func GetTenantID(c *gin.Context) string {
	return c.GetString(TenantIDKey)
}
