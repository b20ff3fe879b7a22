package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
)

type ListRequest struct {
	TenantID snowflake.ID
	MeterID  snowflake.ID
	From     *time.Time
	To       *time.Time
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Entries []*LedgerEntry `json:"entries"`
}

type Service interface {
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Totals(ctx context.Context, tenantID snowflake.ID, from, to *time.Time) ([]Total, error)
}

// UsagePusher forwards rated usage to the payment provider.
type UsagePusher interface {
	PushUsage(ctx context.Context, usage paymentdomain.MeteredUsage) error
}

var (
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidPayload     = errors.New("invalid_relay_payload")
	ErrUsageEventNotFound = errors.New("usage_event_not_found")
)
