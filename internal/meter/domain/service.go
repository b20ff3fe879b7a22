package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ratingdomain "github.com/smallbiznis/usageledger/internal/rating/domain"
	"gorm.io/gorm"
)

type Service interface {
	CreateMeter(ctx context.Context, req CreateMeterRequest) (*Meter, error)
	SetActive(ctx context.Context, id snowflake.ID, active bool) (*Meter, error)
	GetMeter(ctx context.Context, id snowflake.ID) (*Meter, error)
	ListMeters(ctx context.Context) ([]*Meter, error)

	AddRate(ctx context.Context, req AddRateRequest) (*MeterRate, error)
	ListRates(ctx context.Context, meterID snowflake.ID) ([]*MeterRate, error)

	// Resolve loads the active meter for eventKey and the rate effective at
	// at. Meter is nil when no active meter exists; Rate is nil when the
	// meter has no rate covering at. db is the caller's transaction.
	Resolve(ctx context.Context, db *gorm.DB, eventKey string, at time.Time) (*Resolution, error)
}

type CreateMeterRequest struct {
	EventKey          string                   `json:"event_key"`
	Name              string                   `json:"name"`
	Unit              string                   `json:"unit"`
	Aggregation       string                   `json:"aggregation"`
	Rule              *ratingdomain.Descriptor `json:"rating_rule,omitempty"`
	ProviderEventName string                   `json:"provider_event_name,omitempty"`
	Active            *bool                    `json:"active,omitempty"`
}

type AddRateRequest struct {
	MeterID        snowflake.ID    `json:"meter_id"`
	Currency       string          `json:"currency"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	EffectiveFrom  time.Time       `json:"effective_from"`
	EffectiveUntil *time.Time      `json:"effective_until,omitempty"`
}

type Resolution struct {
	Meter *Meter
	Rate  *MeterRate
}

var (
	ErrInvalidEventKey    = errors.New("invalid_event_key")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidUnit        = errors.New("invalid_unit")
	ErrInvalidAggregation = errors.New("invalid_aggregation")
	ErrInvalidRule        = errors.New("invalid_rating_rule")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrInvalidUnitPrice   = errors.New("invalid_unit_price")
	ErrInvalidWindow      = errors.New("invalid_effective_window")
	ErrEventKeyExists     = errors.New("event_key_exists")
	ErrNotFound           = errors.New("meter_not_found")
)
