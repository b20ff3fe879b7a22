// Package domain contains the priced, write-once usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const idempotencyPrefix = "usage:"

// LedgerEntry is the priced record of one usage event. Entries are never
// updated; (tenant_id, idempotency_key) makes reprocessing a no-op.
type LedgerEntry struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID       snowflake.ID    `json:"tenant_id" gorm:"not null;uniqueIndex:ux_ledger_entries_idempotency,priority:1;index:idx_ledger_entries_tenant_created,priority:1"`
	MeterID        snowflake.ID    `json:"meter_id" gorm:"not null"`
	UsageEventID   snowflake.ID    `json:"usage_event_id" gorm:"not null"`
	SubscriptionID *snowflake.ID   `json:"subscription_id,omitempty"`
	RuleKind       string          `json:"rule_kind" gorm:"type:text;not null"`
	Units          decimal.Decimal `json:"units" gorm:"type:numeric(38,12);not null"`
	UnitPrice      decimal.Decimal `json:"unit_price" gorm:"type:numeric(38,12);not null"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:numeric(38,12);not null"`
	Currency       string          `json:"currency" gorm:"type:text;not null"`
	OccurredAt     time.Time       `json:"occurred_at" gorm:"not null"`
	IdempotencyKey string          `json:"idempotency_key" gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_idempotency,priority:2"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null;index:idx_ledger_entries_tenant_created,priority:2"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// IdempotencyKeyFor derives the ledger key of a usage event.
func IdempotencyKeyFor(usageEventID snowflake.ID) string {
	return idempotencyPrefix + usageEventID.String()
}

// Total sums a tenant's entries in one currency.
type Total struct {
	Currency string          `json:"currency"`
	Units    decimal.Decimal `json:"units"`
	Amount   decimal.Decimal `json:"amount"`
	Entries  int64           `json:"entries"`
}
