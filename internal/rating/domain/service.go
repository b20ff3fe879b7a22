package domain

import "github.com/shopspring/decimal"

// Input is everything needed to price one usage event.
type Input struct {
	Rule      Rule
	Quantity  decimal.Decimal
	Metadata  map[string]any
	UnitPrice decimal.Decimal
	Currency  string
}

// Result is a priced usage event. Amount = Units × UnitPrice.
type Result struct {
	Rule      RuleKind
	Units     decimal.Decimal
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal
	Currency  string
}

type Service interface {
	Rate(Input) Result
}
