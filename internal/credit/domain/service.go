package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CreatePackRequest struct {
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Credits         decimal.Decimal `json:"credits"`
	Provider        string          `json:"provider"`
	ProviderPriceID string          `json:"provider_price_id"`
	ValidityDays    int             `json:"validity_days"`
}

// GrantRequest credits a tenant. With PackCode set, credits and expiry come
// from the pack.
type GrantRequest struct {
	TenantID  snowflake.ID
	PackCode  string
	Credits   decimal.Decimal
	Source    string
	SourceRef string
	ExpiresAt *time.Time
}

type ConsumeResult struct {
	Consumed  decimal.Decimal `json:"consumed"`
	Remaining decimal.Decimal `json:"remaining"`
}

type Service interface {
	CreatePack(ctx context.Context, req CreatePackRequest) (*CreditPack, error)
	ListPacks(ctx context.Context) ([]*CreditPack, error)
	GetPack(ctx context.Context, code string) (*CreditPack, error)

	// Grant is idempotent per (tenant, source_ref); a replay returns the
	// existing grant and false.
	Grant(ctx context.Context, tx *gorm.DB, req GrantRequest) (*CreditGrant, bool, error)
	ListGrants(ctx context.Context, tenantID snowflake.ID) ([]*CreditGrant, error)
	Balance(ctx context.Context, tenantID snowflake.ID) (*Balance, error)
	// Consume draws amount from usable grants, earliest expiry first.
	Consume(ctx context.Context, tenantID snowflake.ID, amount decimal.Decimal) (*ConsumeResult, error)
}

var (
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidPackCode     = errors.New("invalid_credit_pack_code")
	ErrInvalidCredits      = errors.New("invalid_credits")
	ErrInvalidSourceRef    = errors.New("invalid_source_ref")
	ErrInvalidPriceID      = errors.New("invalid_price_id")
	ErrPackExists          = errors.New("credit_pack_exists")
	ErrPackNotFound        = errors.New("credit_pack_not_found")
	ErrInsufficientCredits = errors.New("insufficient_credits")
)
