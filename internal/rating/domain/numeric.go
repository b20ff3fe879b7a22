package domain

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Numeric reads metadata[field] as a decimal. Missing, non-numeric and
// non-finite values resolve to zero.
func Numeric(metadata map[string]any, field string) decimal.Decimal {
	if metadata == nil || field == "" {
		return decimal.Zero
	}
	raw, ok := metadata[field]
	if !ok {
		return decimal.Zero
	}
	return ToDecimal(raw)
}

// ToDecimal coerces the numeric shapes JSON decoding and callers produce.
func ToDecimal(raw any) decimal.Decimal {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v
	case float64:
		return fromFloat(v)
	case float32:
		return fromFloat(float64(v))
	case int:
		return decimal.NewFromInt(int64(v))
	case int8:
		return decimal.NewFromInt(int64(v))
	case int16:
		return decimal.NewFromInt(int64(v))
	case int32:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case uint:
		return fromUint(uint64(v))
	case uint8:
		return fromUint(uint64(v))
	case uint16:
		return fromUint(uint64(v))
	case uint32:
		return fromUint(uint64(v))
	case uint64:
		return fromUint(v)
	case json.Number:
		return fromString(v.String())
	case string:
		return fromString(v)
	default:
		return decimal.Zero
	}
}

func fromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func fromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func fromString(v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}
