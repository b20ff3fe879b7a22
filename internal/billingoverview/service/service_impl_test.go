package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingoverview "github.com/smallbiznis/usageledger/internal/billingoverview/domain"
	"github.com/smallbiznis/usageledger/internal/clock"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
	creditrepo "github.com/smallbiznis/usageledger/internal/credit/repository"
	creditservice "github.com/smallbiznis/usageledger/internal/credit/service"
	ledgerdomain "github.com/smallbiznis/usageledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/usageledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/usageledger/internal/ledger/service"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/usageledger/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/usageledger/internal/subscription/service"
	"github.com/smallbiznis/usageledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc     billingoverview.Service
	conn    *gorm.DB
	node    *snowflake.Node
	subs    subscriptiondomain.Service
	credits creditdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t,
		&subscriptiondomain.Plan{},
		&subscriptiondomain.Subscription{},
		&ledgerdomain.LedgerEntry{},
		&creditdomain.CreditPack{},
		&creditdomain.CreditGrant{},
	)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	subs := subscriptionservice.New(subscriptionservice.Params{DB: conn, Log: log, GenID: node, Clock: clk, Repo: subscriptionrepo.Provide()})
	credits := creditservice.New(creditservice.Params{DB: conn, Log: log, GenID: node, Clock: clk, Repo: creditrepo.Provide()})
	ledger := ledgerservice.New(ledgerservice.Params{DB: conn, Log: log, Repo: ledgerrepo.Provide()})
	return &fixture{
		svc: NewService(Params{
			DB: conn, Log: log, Clock: clk, Subscriptions: subs, Ledger: ledger, Credits: credits,
		}),
		conn:    conn,
		node:    node,
		subs:    subs,
		credits: credits,
	}
}

func (f *fixture) entry(t *testing.T, tenantID snowflake.ID, at time.Time, amount string) {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.conn.Create(&ledgerdomain.LedgerEntry{
		ID:             id,
		TenantID:       tenantID,
		MeterID:        1,
		UsageEventID:   id,
		RuleKind:       "simple_count",
		Units:          decimal.NewFromInt(1),
		UnitPrice:      decimal.RequireFromString(amount),
		Amount:         decimal.RequireFromString(amount),
		Currency:       "usd",
		OccurredAt:     at,
		IdempotencyKey: ledgerdomain.IdempotencyKeyFor(id),
		CreatedAt:      at,
	}).Error)
}

func TestOverviewDefaultsToCalendarMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.entry(t, 1, time.Date(2025, 5, 31, 23, 0, 0, 0, time.UTC), "4")
	f.entry(t, 1, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), "3")
	f.entry(t, 1, time.Date(2025, 6, 19, 0, 0, 0, 0, time.UTC), "2")
	f.entry(t, 2, time.Date(2025, 6, 19, 0, 0, 0, 0, time.UTC), "100")

	_, _, err := f.credits.Grant(ctx, f.conn, creditdomain.GrantRequest{
		TenantID: 1, Credits: decimal.NewFromInt(50), SourceRef: "promo-june",
	})
	require.NoError(t, err)

	overview, err := f.svc.GetOverview(ctx, billingoverview.OverviewRequest{TenantID: 1})
	require.NoError(t, err)
	assert.Nil(t, overview.Subscription)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), overview.PeriodStart)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), overview.PeriodEnd)
	require.Len(t, overview.Usage, 1)
	assert.True(t, decimal.NewFromInt(5).Equal(overview.Usage[0].Amount), overview.Usage[0].Amount.String())
	assert.Equal(t, int64(2), overview.Usage[0].Entries)
	assert.True(t, decimal.NewFromInt(50).Equal(overview.Credits.Available))
	assert.True(t, overview.HasData)
}

func TestOverviewUsesSubscriptionPeriodAndCompares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	_, _, err := f.subs.Upsert(ctx, f.conn, subscriptiondomain.UpsertRequest{
		TenantID:               1,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		Status:                 subscriptiondomain.SubscriptionStatusActive,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
	})
	require.NoError(t, err)

	f.entry(t, 1, time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC), "4")
	f.entry(t, 1, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), "6")

	overview, err := f.svc.GetOverview(ctx, billingoverview.OverviewRequest{TenantID: 1, Compare: true})
	require.NoError(t, err)
	require.NotNil(t, overview.Subscription)
	assert.Equal(t, start, overview.PeriodStart)
	assert.Equal(t, end, overview.PeriodEnd)

	require.Len(t, overview.Growth, 1)
	g := overview.Growth[0]
	assert.True(t, decimal.NewFromInt(2).Equal(g.GrowthAmount), g.GrowthAmount.String())
	require.NotNil(t, g.GrowthRate)
	assert.True(t, decimal.RequireFromString("0.5").Equal(*g.GrowthRate), g.GrowthRate.String())
}

func TestOverviewValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetOverview(ctx, billingoverview.OverviewRequest{})
	assert.ErrorIs(t, err, billingoverview.ErrInvalidTenant)

	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.GetOverview(ctx, billingoverview.OverviewRequest{TenantID: 1, Start: at, End: at})
	assert.ErrorIs(t, err, billingoverview.ErrInvalidRange)
}
