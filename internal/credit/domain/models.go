// Package domain contains prepaid credit packs and the grants they create.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const (
	SourcePurchase = "purchase"
	SourceManual   = "manual"
	SourcePromo    = "promo"
)

// CreditPack is a purchasable bundle of credits sold through a provider price.
type CreditPack struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey"`
	Code            string          `json:"code" gorm:"type:text;not null;uniqueIndex:ux_credit_packs_code"`
	Name            string          `json:"name" gorm:"type:text;not null"`
	Credits         decimal.Decimal `json:"credits" gorm:"type:numeric(38,12);not null"`
	Provider        string          `json:"provider" gorm:"type:text;not null"`
	ProviderPriceID string          `json:"provider_price_id" gorm:"type:text;not null"`
	ValidityDays    int             `json:"validity_days" gorm:"not null;default:0"`
	Active          bool            `json:"active" gorm:"not null;default:true"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"not null"`
}

func (CreditPack) TableName() string { return "credit_packs" }

// CreditGrant is one tenant balance bucket. RemainingCredits only decreases.
type CreditGrant struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID         snowflake.ID    `json:"tenant_id" gorm:"not null;uniqueIndex:ux_credit_grants_source,priority:1;index:idx_credit_grants_tenant_expiry,priority:1"`
	PackID           *snowflake.ID   `json:"pack_id,omitempty"`
	Source           string          `json:"source" gorm:"type:text;not null"`
	SourceRef        string          `json:"source_ref" gorm:"type:text;not null;uniqueIndex:ux_credit_grants_source,priority:2"`
	GrantedCredits   decimal.Decimal `json:"granted_credits" gorm:"type:numeric(38,12);not null"`
	RemainingCredits decimal.Decimal `json:"remaining_credits" gorm:"type:numeric(38,12);not null"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty" gorm:"index:idx_credit_grants_tenant_expiry,priority:2"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"not null"`
}

func (CreditGrant) TableName() string { return "credit_grants" }

// Usable reports whether the grant still has credits at t.
func (g CreditGrant) Usable(t time.Time) bool {
	if !g.RemainingCredits.IsPositive() {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(t)
}

type Balance struct {
	TenantID   snowflake.ID    `json:"tenant_id"`
	Available  decimal.Decimal `json:"available"`
	Grants     int             `json:"grants"`
	NextExpiry *time.Time      `json:"next_expiry,omitempty"`
}
