package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/usageledger/internal/observability/context"
	"github.com/smallbiznis/usageledger/pkg/tenantctx"
)

const tenantHeader = "X-Tenant-ID"

// TenantRequired resolves the calling tenant from the X-Tenant-ID header.
// Authentication happens upstream; this layer only trusts the header.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(tenantHeader))
		if raw == "" {
			AbortWithError(c, newValidationError("tenant_id", "tenant_required", "X-Tenant-ID header is required"))
			return
		}
		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			AbortWithError(c, newValidationError("tenant_id", "invalid_tenant", "X-Tenant-ID must be a positive integer id"))
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), id)
		ctx = obscontext.WithTenantID(ctx, id.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func tenantID(c *gin.Context) snowflake.ID {
	id, _ := tenantctx.TenantID(c.Request.Context())
	return id
}
