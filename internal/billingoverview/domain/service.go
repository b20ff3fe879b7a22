package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/usageledger/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
)

// OverviewRequest selects the usage window. Without Start and End the
// current subscription period is used, falling back to the calendar month.
type OverviewRequest struct {
	TenantID snowflake.ID
	Start    time.Time
	End      time.Time
	Compare  bool
}

// CurrencyGrowth compares one currency's rated amount with the previous
// window of the same length.
type CurrencyGrowth struct {
	Currency     string           `json:"currency"`
	Current      decimal.Decimal  `json:"current"`
	Previous     decimal.Decimal  `json:"previous"`
	GrowthAmount decimal.Decimal  `json:"growth_amount"`
	GrowthRate   *decimal.Decimal `json:"growth_rate,omitempty"`
}

type Overview struct {
	TenantID     snowflake.ID                     `json:"tenant_id"`
	Subscription *subscriptiondomain.Subscription `json:"subscription,omitempty"`
	PeriodStart  time.Time                        `json:"period_start"`
	PeriodEnd    time.Time                        `json:"period_end"`
	Usage        []ledgerdomain.Total             `json:"usage"`
	Growth       []CurrencyGrowth                 `json:"growth,omitempty"`
	Credits      *creditdomain.Balance            `json:"credits"`
	HasData      bool                             `json:"has_data"`
}

// Service assembles the tenant billing overview from subscription, ledger
// and credit state.
type Service interface {
	GetOverview(ctx context.Context, req OverviewRequest) (*Overview, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidRange  = errors.New("invalid_range")
)
