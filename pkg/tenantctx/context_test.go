package tenantctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantID(t *testing.T) {
	_, ok := TenantID(context.Background())
	assert.False(t, ok)

	_, ok = TenantID(WithTenantID(context.Background(), 0))
	assert.False(t, ok)

	id, ok := TenantID(WithTenantID(context.Background(), 42))
	assert.True(t, ok)
	assert.Equal(t, int64(42), id.Int64())
}
