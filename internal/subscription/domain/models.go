// Package domain contains persistence models for plans and subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Billable reports whether usage should be pushed to the provider.
func (s SubscriptionStatus) Billable() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Plan is a sellable price in the provider's catalog.
type Plan struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	Code            string       `json:"code" gorm:"type:text;not null;uniqueIndex:ux_plans_code"`
	Name            string       `json:"name" gorm:"type:text;not null"`
	Provider        string       `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_plans_provider_price,priority:1"`
	ProviderPriceID string       `json:"provider_price_id" gorm:"type:text;not null;uniqueIndex:ux_plans_provider_price,priority:2"`
	Currency        string       `json:"currency" gorm:"type:text;not null"`
	BillingInterval string       `json:"billing_interval" gorm:"type:text;not null"`
	Active          bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// Subscription mirrors the provider's subscription for one tenant. Several
// rows may exist per tenant; the one with the latest StartedAt is current.
type Subscription struct {
	ID                     snowflake.ID       `json:"id" gorm:"primaryKey"`
	TenantID               snowflake.ID       `json:"tenant_id" gorm:"not null;index;uniqueIndex:ux_subscriptions_provider,priority:1"`
	PlanID                 *snowflake.ID      `json:"plan_id,omitempty"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:text;not null"`
	Provider               string             `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_subscriptions_provider,priority:2"`
	ProviderSubscriptionID string             `json:"provider_subscription_id" gorm:"type:text;not null;uniqueIndex:ux_subscriptions_provider,priority:3"`
	ProviderCustomerID     string             `json:"provider_customer_id" gorm:"type:text;index"`
	ProviderMeteredItemID  string             `json:"provider_metered_item_id,omitempty" gorm:"type:text"`
	Currency               string             `json:"currency" gorm:"type:text;not null"`
	BillingInterval        string             `json:"billing_interval" gorm:"type:text"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end" gorm:"not null;default:false"`
	StartedAt              time.Time          `json:"started_at" gorm:"not null"`
	CanceledAt             *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt              time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time          `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// HasMeteredItem reports whether usage can be pushed for this subscription.
func (s *Subscription) HasMeteredItem() bool {
	return s != nil && s.ProviderMeteredItemID != ""
}
