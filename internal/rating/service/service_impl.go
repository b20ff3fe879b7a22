package service

import (
	"strings"

	"github.com/shopspring/decimal"
	ratingdomain "github.com/smallbiznis/usageledger/internal/rating/domain"
)

// DefaultCurrency applies when no rate names one.
const DefaultCurrency = "usd"

type Service struct{}

func NewService() ratingdomain.Service {
	return &Service{}
}

// Rate prices a usage event. A nil rule rates as SimpleCount.
func (s *Service) Rate(in ratingdomain.Input) ratingdomain.Result {
	rule := in.Rule
	if rule == nil {
		rule = ratingdomain.SimpleCount{}
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	units := rule.Units(in.Quantity, in.Metadata)
	price := in.UnitPrice
	if price.IsNegative() {
		price = decimal.Zero
	}

	return ratingdomain.Result{
		Rule:      rule.Kind(),
		Units:     units,
		UnitPrice: price,
		Amount:    units.Mul(price),
		Currency:  currency,
	}
}
