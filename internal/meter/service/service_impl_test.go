package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/usageledger/internal/cache"
	"github.com/smallbiznis/usageledger/internal/clock"
	meterdomain "github.com/smallbiznis/usageledger/internal/meter/domain"
	"github.com/smallbiznis/usageledger/internal/meter/repository"
	ratingdomain "github.com/smallbiznis/usageledger/internal/rating/domain"
	"github.com/smallbiznis/usageledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, meterCache cache.MeterCache) (*Service, *clock.FakeClock) {
	t.Helper()
	conn := dbtest.Open(t, &meterdomain.Meter{}, &meterdomain.MeterRate{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
		Cache: meterCache,
	}).(*Service)
	return svc, clk
}

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateMeterValidatesInput(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateMeter(ctx, meterdomain.CreateMeterRequest{Name: "x", Unit: "req"})
	assert.ErrorIs(t, err, meterdomain.ErrInvalidEventKey)

	_, err = svc.CreateMeter(ctx, meterdomain.CreateMeterRequest{EventKey: "a", Name: "x", Unit: "req", Aggregation: "median"})
	assert.ErrorIs(t, err, meterdomain.ErrInvalidAggregation)

	_, err = svc.CreateMeter(ctx, meterdomain.CreateMeterRequest{
		EventKey: "a",
		Name:     "x",
		Unit:     "req",
		Rule:     &ratingdomain.Descriptor{Type: ratingdomain.RuleSumMetaField},
	})
	assert.ErrorIs(t, err, meterdomain.ErrInvalidRule)
}

func TestCreateMeterRejectsDuplicateEventKey(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	req := meterdomain.CreateMeterRequest{EventKey: "api.request", Name: "API", Unit: "request"}
	m, err := svc.CreateMeter(ctx, req)
	require.NoError(t, err)
	assert.True(t, m.Active)
	assert.Equal(t, meterdomain.AggregationSum, m.Aggregation)
	assert.Equal(t, ratingdomain.RuleSimpleCount, m.Rule().Kind())

	_, err = svc.CreateMeter(ctx, req)
	assert.ErrorIs(t, err, meterdomain.ErrEventKeyExists)
}

func TestResolvePicksRateEffectiveAtTimestamp(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	m, err := svc.CreateMeter(ctx, meterdomain.CreateMeterRequest{
		EventKey: "llm.completion",
		Name:     "Completions",
		Unit:     "token",
		Rule:     &ratingdomain.Descriptor{Type: ratingdomain.RuleTokenBased},
	})
	require.NoError(t, err)

	may31 := day(time.May, 31)
	_, err = svc.AddRate(ctx, meterdomain.AddRateRequest{
		MeterID:        m.ID,
		Currency:       "USD",
		UnitPrice:      decimal.NewFromInt(1),
		EffectiveFrom:  day(time.January, 1),
		EffectiveUntil: &may31,
	})
	require.NoError(t, err)
	_, err = svc.AddRate(ctx, meterdomain.AddRateRequest{
		MeterID:       m.ID,
		Currency:      "usd",
		UnitPrice:     decimal.NewFromInt(2),
		EffectiveFrom: day(time.June, 1),
	})
	require.NoError(t, err)

	res, err := svc.Resolve(ctx, nil, "llm.completion", day(time.June, 15))
	require.NoError(t, err)
	require.NotNil(t, res.Meter)
	require.NotNil(t, res.Rate)
	assert.True(t, res.Rate.UnitPrice.Equal(decimal.NewFromInt(2)), "got %s", res.Rate.UnitPrice)
	assert.Equal(t, "usd", res.Rate.Currency)
	assert.Equal(t, ratingdomain.RuleTokenBased, res.Meter.Rule().Kind())

	res, err = svc.Resolve(ctx, nil, "llm.completion", day(time.March, 10))
	require.NoError(t, err)
	require.NotNil(t, res.Rate)
	assert.True(t, res.Rate.UnitPrice.Equal(decimal.NewFromInt(1)))

	res, err = svc.Resolve(ctx, nil, "llm.completion", time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.NotNil(t, res.Meter)
	assert.Nil(t, res.Rate)
}

func TestResolveUnknownOrInactiveMeter(t *testing.T) {
	meterCache, closeFn, err := cache.NewMeterCache(time.Minute, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	svc, _ := newTestService(t, meterCache)
	ctx := context.Background()

	res, err := svc.Resolve(ctx, nil, "missing", day(time.June, 1))
	require.NoError(t, err)
	assert.Nil(t, res.Meter)

	m, err := svc.CreateMeter(ctx, meterdomain.CreateMeterRequest{EventKey: "api.request", Name: "API", Unit: "request"})
	require.NoError(t, err)

	res, err = svc.Resolve(ctx, nil, "api.request", day(time.June, 1))
	require.NoError(t, err)
	require.NotNil(t, res.Meter)
	_, cached := meterCache.Get("api.request")
	assert.True(t, cached)

	_, err = svc.SetActive(ctx, m.ID, false)
	require.NoError(t, err)

	res, err = svc.Resolve(ctx, nil, "api.request", day(time.June, 1))
	require.NoError(t, err)
	assert.Nil(t, res.Meter)
}

func TestResolveIgnoresMeterDeactivatedByAnotherInstance(t *testing.T) {
	conn := dbtest.Open(t, &meterdomain.Meter{}, &meterdomain.MeterRate{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	newInstance := func() *Service {
		meterCache, closeFn, err := cache.NewMeterCache(time.Minute, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = closeFn() })
		return New(Params{
			DB:    conn,
			Log:   zap.NewNop(),
			GenID: node,
			Clock: clk,
			Repo:  repository.Provide(),
			Cache: meterCache,
		}).(*Service)
	}
	api := newInstance()
	dispatcher := newInstance()
	ctx := context.Background()

	m, err := api.CreateMeter(ctx, meterdomain.CreateMeterRequest{EventKey: "api.request", Name: "API", Unit: "request"})
	require.NoError(t, err)

	res, err := dispatcher.Resolve(ctx, nil, "api.request", day(time.June, 1))
	require.NoError(t, err)
	require.NotNil(t, res.Meter)
	_, cached := dispatcher.cache.Get("api.request")
	require.True(t, cached)

	clk.Advance(time.Second)
	_, err = api.SetActive(ctx, m.ID, false)
	require.NoError(t, err)

	res, err = dispatcher.Resolve(ctx, nil, "api.request", day(time.June, 1))
	require.NoError(t, err)
	assert.Nil(t, res.Meter)
	_, cached = dispatcher.cache.Get("api.request")
	assert.False(t, cached)

	clk.Advance(time.Second)
	_, err = api.SetActive(ctx, m.ID, true)
	require.NoError(t, err)

	res, err = dispatcher.Resolve(ctx, nil, "api.request", day(time.June, 1))
	require.NoError(t, err)
	require.NotNil(t, res.Meter)
	assert.True(t, res.Meter.Active)
}

func TestAddRateValidatesWindow(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	m, err := svc.CreateMeter(ctx, meterdomain.CreateMeterRequest{EventKey: "api.request", Name: "API", Unit: "request"})
	require.NoError(t, err)

	from := day(time.June, 1)
	_, err = svc.AddRate(ctx, meterdomain.AddRateRequest{
		MeterID:        m.ID,
		Currency:       "usd",
		UnitPrice:      decimal.NewFromInt(1),
		EffectiveFrom:  from,
		EffectiveUntil: &from,
	})
	assert.ErrorIs(t, err, meterdomain.ErrInvalidWindow)

	_, err = svc.AddRate(ctx, meterdomain.AddRateRequest{
		MeterID:       m.ID,
		Currency:      "usd",
		UnitPrice:     decimal.NewFromInt(-1),
		EffectiveFrom: from,
	})
	assert.ErrorIs(t, err, meterdomain.ErrInvalidUnitPrice)

	_, err = svc.AddRate(ctx, meterdomain.AddRateRequest{
		MeterID:       snowflake.ID(999),
		Currency:      "usd",
		UnitPrice:     decimal.NewFromInt(1),
		EffectiveFrom: from,
	})
	assert.ErrorIs(t, err, meterdomain.ErrNotFound)
}
