package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type EmitRequest struct {
	TenantID       snowflake.ID    `json:"-"`
	EventKey       string          `json:"event_key"`
	Quantity       decimal.Decimal `json:"quantity"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Actor          string          `json:"actor,omitempty"`
	OccurredAt     *time.Time      `json:"occurred_at,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type EmitResult struct {
	Event *UsageEvent
	// Replayed is true when the idempotency key matched an earlier event;
	// nothing was written.
	Replayed bool
}

type ListRequest struct {
	TenantID snowflake.ID
	EventKey string
	From     *time.Time
	To       *time.Time
	pagination.Pagination
}

type ListFilter struct {
	TenantID snowflake.ID
	EventKey string
	From     *time.Time
	To       *time.Time
	Cursor   *pagination.Cursor
	Limit    int
}

type ListResponse struct {
	pagination.PageInfo
	UsageEvents []*UsageEvent `json:"usage_events"`
}

type Service interface {
	// Emit writes the usage event and its usage.recorded relay row in one
	// transaction.
	Emit(ctx context.Context, req EmitRequest) (*EmitResult, error)
	// EmitTx does the same inside a transaction owned by the caller.
	EmitTx(ctx context.Context, tx *gorm.DB, req EmitRequest) (*EmitResult, error)
	Get(ctx context.Context, tenantID, id snowflake.ID) (*UsageEvent, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrInvalidEventKey       = errors.New("invalid_event_key")
	ErrInvalidQuantity       = errors.New("invalid_quantity")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrNotFound              = errors.New("usage_event_not_found")
)
