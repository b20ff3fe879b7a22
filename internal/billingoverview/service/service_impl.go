package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	billingoverview "github.com/smallbiznis/usageledger/internal/billingoverview/domain"
	"github.com/smallbiznis/usageledger/internal/clock"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/usageledger/internal/ledger/domain"
	obslogger "github.com/smallbiznis/usageledger/internal/observability/logger"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Subscriptions subscriptiondomain.Service
	Ledger        ledgerdomain.Service
	Credits       creditdomain.Service
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	subscriptions subscriptiondomain.Service
	ledger        ledgerdomain.Service
	credits       creditdomain.Service
}

func NewService(p Params) billingoverview.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("billingoverview.service"),
		clock:         p.Clock,
		subscriptions: p.Subscriptions,
		ledger:        p.Ledger,
		credits:       p.Credits,
	}
}

func (s *Service) GetOverview(ctx context.Context, req billingoverview.OverviewRequest) (*billingoverview.Overview, error) {
	if req.TenantID == 0 {
		return nil, billingoverview.ErrInvalidTenant
	}

	sub, err := s.subscriptions.GetCurrent(ctx, s.db, req.TenantID)
	if err != nil {
		return nil, err
	}
	start, end, err := normalizeRange(req, sub, s.clock.Now())
	if err != nil {
		return nil, err
	}

	usage, err := s.ledger.Totals(ctx, req.TenantID, &start, &end)
	if err != nil {
		return nil, err
	}
	balance, err := s.credits.Balance(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	overview := &billingoverview.Overview{
		TenantID:     req.TenantID,
		Subscription: sub,
		PeriodStart:  start,
		PeriodEnd:    end,
		Usage:        usage,
		Credits:      balance,
		HasData:      len(usage) > 0,
	}

	if req.Compare {
		prevStart, prevEnd := shiftRange(start, end)
		previous, err := s.ledger.Totals(ctx, req.TenantID, &prevStart, &prevEnd)
		if err != nil {
			return nil, err
		}
		overview.Growth = computeGrowth(usage, previous)
	}

	obslogger.WithContext(ctx, s.log).Debug("billingoverview.built",
		zap.String("tenant_id", req.TenantID.String()),
		zap.Time("period_start", start),
		zap.Time("period_end", end),
		zap.Int("currencies", len(usage)),
	)
	return overview, nil
}

// normalizeRange returns a half-open [start, end) window in UTC.
func normalizeRange(req billingoverview.OverviewRequest, sub *subscriptiondomain.Subscription, now time.Time) (time.Time, time.Time, error) {
	start := req.Start
	end := req.End
	switch {
	case !start.IsZero() && !end.IsZero():
	case sub != nil && sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil:
		start = *sub.CurrentPeriodStart
		end = *sub.CurrentPeriodEnd
	default:
		start = truncateToMonth(now.UTC())
		end = start.AddDate(0, 1, 0)
	}
	start = start.UTC()
	end = end.UTC()
	if !end.After(start) {
		return time.Time{}, time.Time{}, billingoverview.ErrInvalidRange
	}
	return start, end, nil
}

// shiftRange returns the window of equal length ending at start.
func shiftRange(start, end time.Time) (time.Time, time.Time) {
	return start.Add(-end.Sub(start)), start
}

func truncateToMonth(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func computeGrowth(current, previous []ledgerdomain.Total) []billingoverview.CurrencyGrowth {
	prev := make(map[string]decimal.Decimal, len(previous))
	for _, t := range previous {
		prev[t.Currency] = t.Amount
	}
	seen := make(map[string]bool, len(current))
	out := make([]billingoverview.CurrencyGrowth, 0, len(current)+len(previous))
	for _, t := range current {
		seen[t.Currency] = true
		out = append(out, growth(t.Currency, t.Amount, prev[t.Currency]))
	}
	for _, t := range previous {
		if !seen[t.Currency] {
			out = append(out, growth(t.Currency, decimal.Zero, t.Amount))
		}
	}
	return out
}

func growth(currency string, current, previous decimal.Decimal) billingoverview.CurrencyGrowth {
	g := billingoverview.CurrencyGrowth{
		Currency:     currency,
		Current:      current,
		Previous:     previous,
		GrowthAmount: current.Sub(previous),
	}
	if !previous.IsZero() {
		rate := g.GrowthAmount.DivRound(previous, 4)
		g.GrowthRate = &rate
	}
	return g
}
