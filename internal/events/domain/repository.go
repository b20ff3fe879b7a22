package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ClaimRequest struct {
	TenantID   snowflake.ID
	Now        time.Time
	Limit      int
	ClaimToken int64
	LeaseUntil time.Time
}

type Outcome struct {
	Status        Status
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     *string
	Now           time.Time
}

type Repository interface {
	// Insert writes the row unless (tenant_id, dedupe_key) already exists.
	Insert(ctx context.Context, db *gorm.DB, event *RelayEvent) (bool, error)
	FindByDedupeKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, dedupeKey string) (*RelayEvent, error)
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*RelayEvent, error)

	DueTenants(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
	// Claim moves up to Limit due rows of one tenant to processing under
	// ClaimToken. Concurrent callers receive disjoint rows.
	Claim(ctx context.Context, db *gorm.DB, req ClaimRequest) ([]*RelayEvent, error)
	// Complete applies an outcome to a row still held under claimToken.
	// It reports false when the claim was lost.
	Complete(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, claimToken int64, outcome Outcome) (bool, error)
	ExpiredLeases(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*RelayEvent, error)

	ListByStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, status Status, limit int) ([]*RelayEvent, error)
	Requeue(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, now time.Time) (bool, error)
}

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidDedupeKey = errors.New("invalid_dedupe_key")
	ErrNotFound         = errors.New("outbox_event_not_found")
)
