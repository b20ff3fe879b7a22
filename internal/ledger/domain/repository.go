package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	TenantID snowflake.ID
	MeterID  snowflake.ID
	From     *time.Time
	To       *time.Time
	Cursor   *pagination.Cursor
	Limit    int
}

type Repository interface {
	// Insert writes the entry unless its idempotency key already exists.
	Insert(ctx context.Context, db *gorm.DB, entry *LedgerEntry) (bool, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*LedgerEntry, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*LedgerEntry, error)
	Totals(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, from, to *time.Time) ([]Total, error)
}
