package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPack(ctx context.Context, db *gorm.DB, pack *CreditPack) error
	FindPackByCode(ctx context.Context, db *gorm.DB, code string) (*CreditPack, error)
	ListPacks(ctx context.Context, db *gorm.DB) ([]*CreditPack, error)

	// InsertGrant writes the grant unless (tenant_id, source_ref) exists.
	InsertGrant(ctx context.Context, db *gorm.DB, grant *CreditGrant) (bool, error)
	FindGrantBySourceRef(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, sourceRef string) (*CreditGrant, error)
	// ListUsable returns unexpired grants with credits left, earliest expiry
	// first and open-ended grants last. lock adds a row lock where supported.
	ListUsable(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, at time.Time, lock bool) ([]*CreditGrant, error)
	ListGrants(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]*CreditGrant, error)
	SetRemaining(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, remaining decimal.Decimal, updatedAt time.Time) error
}
