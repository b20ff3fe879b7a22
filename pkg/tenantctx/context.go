// Package tenantctx carries the resolved tenant of a request.
package tenantctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type keyType struct{}

func WithTenantID(ctx context.Context, tenantID snowflake.ID) context.Context {
	return context.WithValue(ctx, keyType{}, tenantID)
}

// TenantID reports the tenant stored on ctx. A zero id counts as absent.
func TenantID(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(keyType{}).(snowflake.ID)
	return id, ok && id != 0
}
