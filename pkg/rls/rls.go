// Package rls scopes a postgres transaction to one tenant for row-level
// security policies keyed on app.current_tenant_id.
package rls

import (
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// WithTenant binds the tenant to the current transaction only. The setting is
// dropped at commit, so callers that commit per row must call it again for
// every new transaction. Non-postgres dialects are left untouched.
func WithTenant(tx *gorm.DB, tenantID snowflake.ID) error {
	if tx == nil || tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(
		"SELECT set_config('app.current_tenant_id', ?, true)",
		tenantID.String(),
	).Error
}
