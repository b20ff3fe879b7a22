// Package domain holds the payment provider boundary: adapters, webhook
// events and the records reconciliation keeps about them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const ProviderStripe = "stripe"

type ProviderEventStatus string

const (
	ProviderEventReceived  ProviderEventStatus = "received"
	ProviderEventProcessed ProviderEventStatus = "processed"
)

// ProviderEvent is the dedupe record of one inbound webhook. A row exists
// only for events whose tenant was resolved.
type ProviderEvent struct {
	ID              snowflake.ID        `json:"id" gorm:"primaryKey"`
	TenantID        snowflake.ID        `json:"tenant_id" gorm:"not null;index"`
	Provider        string              `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_provider_events_provider_event,priority:1"`
	ProviderEventID string              `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_provider_events_provider_event,priority:2"`
	EventType       string              `json:"event_type" gorm:"type:text;not null"`
	Status          ProviderEventStatus `json:"status" gorm:"type:text;not null"`
	Payload         datatypes.JSON      `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time           `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time          `json:"processed_at,omitempty"`
}

func (ProviderEvent) TableName() string { return "provider_events" }

// BillingCustomer maps a tenant to its customer record at a provider.
type BillingCustomer struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID           snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_billing_customers_tenant,priority:1"`
	Provider           string       `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_billing_customers_tenant,priority:2;uniqueIndex:ux_billing_customers_provider,priority:1"`
	ProviderCustomerID string       `json:"provider_customer_id" gorm:"type:text;not null;uniqueIndex:ux_billing_customers_provider,priority:2"`
	CreatedAt          time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time    `json:"updated_at" gorm:"not null"`
}

func (BillingCustomer) TableName() string { return "billing_customers" }
