// Package domain contains persistence models for raw usage signals.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UsageEvent is one immutable usage signal emitted by product code.
type UsageEvent struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID       snowflake.ID      `json:"tenant_id" gorm:"not null;uniqueIndex:ux_usage_events_idempotency,priority:1;index:idx_usage_events_tenant_created,priority:1"`
	EventKey       string            `json:"event_key" gorm:"type:text;not null"`
	Quantity       decimal.Decimal   `json:"quantity" gorm:"type:numeric(38,12);not null"`
	Metadata       datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	Actor          string            `json:"actor,omitempty" gorm:"type:text"`
	OccurredAt     time.Time         `json:"occurred_at" gorm:"not null"`
	IdempotencyKey *string           `json:"idempotency_key,omitempty" gorm:"type:text;uniqueIndex:ux_usage_events_idempotency,priority:2"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null;index:idx_usage_events_tenant_created,priority:2"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
