package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ratingdomain "github.com/smallbiznis/usageledger/internal/rating/domain"
	"gorm.io/datatypes"
)

const (
	AggregationSum   = "sum"
	AggregationCount = "count"
	AggregationMax   = "max"
	AggregationLast  = "last"
)

// Meter maps a usage event key to a rating rule. Meters are global; every
// tenant emitting the same event key is rated the same way.
type Meter struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventKey          string         `json:"event_key" gorm:"type:text;not null;uniqueIndex:ux_meters_event_key"`
	Name              string         `json:"name" gorm:"type:text;not null"`
	Unit              string         `json:"unit" gorm:"type:text;not null"`
	Aggregation       string         `json:"aggregation" gorm:"type:text;not null"`
	RatingRule        datatypes.JSON `json:"rating_rule" gorm:"type:jsonb"`
	ProviderEventName string         `json:"provider_event_name,omitempty" gorm:"type:text"`
	Active            bool           `json:"active" gorm:"not null;default:true"`
	CreatedAt         time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"not null"`
}

func (Meter) TableName() string { return "meters" }

// MeterVersion is the part of a meter row that decides whether a cached copy
// is still usable.
type MeterVersion struct {
	ID        snowflake.ID
	Active    bool
	UpdatedAt time.Time
}

// Matches reports whether m still reflects the row described by v.
func (v MeterVersion) Matches(m *Meter) bool {
	return m != nil && v.ID == m.ID && v.Active == m.Active && v.UpdatedAt.Equal(m.UpdatedAt)
}

// Rule decodes the stored rating rule, falling back to a simple count.
func (m Meter) Rule() ratingdomain.Rule {
	return ratingdomain.DecodeRule(m.RatingRule)
}

// MeterRate prices one unit of a meter in a currency over a time window.
// A nil EffectiveUntil leaves the window open.
type MeterRate struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	MeterID        snowflake.ID    `json:"meter_id" gorm:"not null;index:idx_meter_rates_lookup,priority:1"`
	Currency       string          `json:"currency" gorm:"type:text;not null"`
	UnitPrice      decimal.Decimal `json:"unit_price" gorm:"type:numeric(38,12);not null"`
	EffectiveFrom  time.Time       `json:"effective_from" gorm:"not null;index:idx_meter_rates_lookup,priority:2"`
	EffectiveUntil *time.Time      `json:"effective_until,omitempty"`
	IsActive       bool            `json:"is_active" gorm:"not null;default:true"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
}

func (MeterRate) TableName() string { return "meter_rates" }

// Covers reports whether at falls inside the rate window, both ends inclusive.
func (r MeterRate) Covers(at time.Time) bool {
	if at.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveUntil == nil || !at.After(*r.EffectiveUntil)
}
