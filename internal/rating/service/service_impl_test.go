package service

import (
	"testing"

	"github.com/shopspring/decimal"
	ratingdomain "github.com/smallbiznis/usageledger/internal/rating/domain"
	"github.com/stretchr/testify/assert"
)

func TestRateComputesAmountWithDecimals(t *testing.T) {
	svc := NewService()

	result := svc.Rate(ratingdomain.Input{
		Rule:      ratingdomain.SimpleCount{},
		Quantity:  decimal.RequireFromString("0.1"),
		UnitPrice: decimal.RequireFromString("0.2"),
		Currency:  " USD ",
	})

	// 0.1 × 0.2 is exactly 0.02 in decimal arithmetic.
	assert.True(t, decimal.RequireFromString("0.02").Equal(result.Amount), "got %s", result.Amount)
	assert.Equal(t, "usd", result.Currency)
	assert.Equal(t, ratingdomain.RuleSimpleCount, result.Rule)
}

func TestRateDefaults(t *testing.T) {
	svc := NewService()

	result := svc.Rate(ratingdomain.Input{
		Quantity:  decimal.NewFromInt(4),
		UnitPrice: decimal.NewFromInt(-1),
	})

	assert.True(t, result.Units.Equal(decimal.NewFromInt(4)))
	assert.True(t, result.Amount.IsZero())
	assert.Equal(t, DefaultCurrency, result.Currency)
}

func TestRateSumMetaField(t *testing.T) {
	svc := NewService()

	result := svc.Rate(ratingdomain.Input{
		Rule:      ratingdomain.SumMetaField{Field: "x", Multiplier: decimal.NewFromInt(2)},
		Quantity:  decimal.NewFromInt(1),
		Metadata:  map[string]any{"x": float64(5)},
		UnitPrice: decimal.RequireFromString("1.5"),
		Currency:  "usd",
	})

	assert.True(t, result.Units.Equal(decimal.NewFromInt(10)))
	assert.True(t, result.Amount.Equal(decimal.NewFromInt(15)))
}
