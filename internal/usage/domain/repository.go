package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert writes the event unless its (tenant_id, idempotency_key) exists.
	Insert(ctx context.Context, db *gorm.DB, event *UsageEvent) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*UsageEvent, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*UsageEvent, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*UsageEvent, error)
}
