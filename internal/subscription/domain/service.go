package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreatePlanRequest struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	Provider        string `json:"provider"`
	ProviderPriceID string `json:"provider_price_id"`
	Currency        string `json:"currency"`
	BillingInterval string `json:"billing_interval"`
}

// UpsertRequest carries provider state for one subscription. Empty
// optional fields leave the stored values untouched on update.
type UpsertRequest struct {
	TenantID               snowflake.ID
	Provider               string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	ProviderPriceID        string
	ProviderMeteredItemID  string
	Status                 SubscriptionStatus
	Currency               string
	BillingInterval        string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	// CancelAtPeriodEnd is left unchanged on update when nil.
	CancelAtPeriodEnd      *bool
	StartedAt              *time.Time
	CanceledAt             *time.Time
}

type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
	// ResolvePlan finds a plan by code, then by provider price id.
	ResolvePlan(ctx context.Context, provider, ref string) (*Plan, error)

	GetCurrent(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	List(ctx context.Context, tenantID snowflake.ID) ([]*Subscription, error)
	Upsert(ctx context.Context, tx *gorm.DB, req UpsertRequest) (*Subscription, bool, error)
	FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string) (*Subscription, error)
	FindByProviderCustomerID(ctx context.Context, db *gorm.DB, provider, providerCustomerID string) (*Subscription, error)
}

var (
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrInvalidPlanCode       = errors.New("invalid_plan_code")
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrInvalidPriceID        = errors.New("invalid_price_id")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidSubscriptionID = errors.New("invalid_subscription_id")
	ErrInvalidStatus         = errors.New("invalid_subscription_status")
	ErrPlanExists            = errors.New("plan_exists")
	ErrPlanNotFound          = errors.New("plan_not_found")
	ErrNotFound              = errors.New("subscription_not_found")
)
