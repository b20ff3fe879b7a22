// Package domain defines rating rules: the closed set of shapes that turn a
// usage quantity and its metadata into billable units.
package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

type RuleKind string

const (
	RuleSimpleCount        RuleKind = "simple_count"
	RuleSumMetaField       RuleKind = "sum_meta_field"
	RuleTokenBased         RuleKind = "token_based"
	RuleComplexityWeighted RuleKind = "complexity_weighted"
)

var ErrInvalidWeightBounds = errors.New("invalid_weight_bounds")

// Rule computes billable units. Implementations are pure and never fail;
// missing or non-numeric metadata reads as zero.
type Rule interface {
	Kind() RuleKind
	Units(quantity decimal.Decimal, metadata map[string]any) decimal.Decimal

	sealed()
}

// SimpleCount bills the raw quantity.
type SimpleCount struct{}

func (SimpleCount) Kind() RuleKind { return RuleSimpleCount }

func (SimpleCount) Units(quantity decimal.Decimal, _ map[string]any) decimal.Decimal {
	return quantity
}

func (SimpleCount) sealed() {}

// SumMetaField bills metadata[Field] × Multiplier and ignores quantity.
type SumMetaField struct {
	Field      string
	Multiplier decimal.Decimal
}

func (SumMetaField) Kind() RuleKind { return RuleSumMetaField }

func (r SumMetaField) Units(_ decimal.Decimal, metadata map[string]any) decimal.Decimal {
	return Numeric(metadata, r.Field).Mul(r.Multiplier)
}

func (SumMetaField) sealed() {}

// TokenBased bills prompt plus completion tokens and ignores quantity.
type TokenBased struct {
	PromptField     string
	CompletionField string
}

func (TokenBased) Kind() RuleKind { return RuleTokenBased }

func (r TokenBased) Units(_ decimal.Decimal, metadata map[string]any) decimal.Decimal {
	return Numeric(metadata, r.PromptField).Add(Numeric(metadata, r.CompletionField))
}

func (TokenBased) sealed() {}

// ComplexityWeighted bills quantity × weight, where the weight comes from
// metadata (defaulting to 1) and is clamped to [MinWeight, MaxWeight].
// Build it with NewComplexityWeighted.
type ComplexityWeighted struct {
	WeightField string
	MinWeight   decimal.Decimal
	MaxWeight   decimal.Decimal
}

func NewComplexityWeighted(field string, minWeight, maxWeight decimal.Decimal) (ComplexityWeighted, error) {
	if maxWeight.LessThan(minWeight) {
		return ComplexityWeighted{}, ErrInvalidWeightBounds
	}
	return ComplexityWeighted{
		WeightField: field,
		MinWeight:   minWeight,
		MaxWeight:   maxWeight,
	}, nil
}

func (ComplexityWeighted) Kind() RuleKind { return RuleComplexityWeighted }

func (r ComplexityWeighted) Units(quantity decimal.Decimal, metadata map[string]any) decimal.Decimal {
	weight := Numeric(metadata, r.WeightField)
	if weight.IsZero() {
		weight = decimal.NewFromInt(1)
	}
	if weight.LessThan(r.MinWeight) {
		weight = r.MinWeight
	}
	if weight.GreaterThan(r.MaxWeight) {
		weight = r.MaxWeight
	}
	return quantity.Mul(weight)
}

func (ComplexityWeighted) sealed() {}
