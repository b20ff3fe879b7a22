package domain

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	defaultPromptField     = "prompt_tokens"
	defaultCompletionField = "completion_tokens"
)

// Descriptor is the persisted JSON form of a rule.
type Descriptor struct {
	Type            RuleKind         `json:"type"`
	Field           string           `json:"field,omitempty"`
	Multiplier      *decimal.Decimal `json:"multiplier,omitempty"`
	PromptField     string           `json:"prompt_field,omitempty"`
	CompletionField string           `json:"completion_field,omitempty"`
	WeightField     string           `json:"weight_field,omitempty"`
	MinWeight       *decimal.Decimal `json:"min_weight,omitempty"`
	MaxWeight       *decimal.Decimal `json:"max_weight,omitempty"`
}

// DecodeRule parses a stored rule. Empty, unknown or malformed payloads
// decode to SimpleCount; this never returns an error.
func DecodeRule(raw []byte) Rule {
	if len(raw) == 0 {
		return SimpleCount{}
	}
	var desc Descriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return SimpleCount{}
	}
	rule, ok := desc.Rule()
	if !ok {
		return SimpleCount{}
	}
	return rule
}

// Rule builds the variant the descriptor names. ok is false when the
// descriptor is unknown or incomplete.
func (d Descriptor) Rule() (Rule, bool) {
	switch RuleKind(strings.ToLower(strings.TrimSpace(string(d.Type)))) {
	case RuleSimpleCount:
		return SimpleCount{}, true
	case RuleSumMetaField:
		field := strings.TrimSpace(d.Field)
		if field == "" {
			return nil, false
		}
		multiplier := decimal.NewFromInt(1)
		if d.Multiplier != nil {
			multiplier = *d.Multiplier
		}
		return SumMetaField{Field: field, Multiplier: multiplier}, true
	case RuleTokenBased:
		return TokenBased{
			PromptField:     orDefault(d.PromptField, defaultPromptField),
			CompletionField: orDefault(d.CompletionField, defaultCompletionField),
		}, true
	case RuleComplexityWeighted:
		field := strings.TrimSpace(d.WeightField)
		if field == "" || d.MinWeight == nil || d.MaxWeight == nil {
			return nil, false
		}
		rule, err := NewComplexityWeighted(field, *d.MinWeight, *d.MaxWeight)
		if err != nil {
			return nil, false
		}
		return rule, true
	default:
		return nil, false
	}
}

// Describe returns the descriptor for a rule.
func Describe(rule Rule) Descriptor {
	switch r := rule.(type) {
	case SumMetaField:
		multiplier := r.Multiplier
		return Descriptor{Type: RuleSumMetaField, Field: r.Field, Multiplier: &multiplier}
	case TokenBased:
		return Descriptor{Type: RuleTokenBased, PromptField: r.PromptField, CompletionField: r.CompletionField}
	case ComplexityWeighted:
		minWeight, maxWeight := r.MinWeight, r.MaxWeight
		return Descriptor{Type: RuleComplexityWeighted, WeightField: r.WeightField, MinWeight: &minWeight, MaxWeight: &maxWeight}
	default:
		return Descriptor{Type: RuleSimpleCount}
	}
}

// EncodeRule returns the JSON stored on a meter.
func EncodeRule(rule Rule) ([]byte, error) {
	return json.Marshal(Describe(rule))
}

func orDefault(value, def string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	return value
}
