package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/clock"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	"github.com/smallbiznis/usageledger/internal/subscription/repository"
	"github.com/smallbiznis/usageledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (subscriptiondomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	conn := dbtest.Open(t, &subscriptiondomain.Plan{}, &subscriptiondomain.Subscription{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	return New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	}), conn, clk
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	plan, err := svc.CreatePlan(ctx, subscriptiondomain.CreatePlanRequest{
		Code:            "pro",
		Provider:        "stripe",
		ProviderPriceID: "price_pro",
		Currency:        "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "usd", plan.Currency)
	assert.Equal(t, "month", plan.BillingInterval)

	sub, created, err := svc.Upsert(ctx, conn, subscriptiondomain.UpsertRequest{
		TenantID:               1,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_1",
		ProviderPriceID:        "price_pro",
		Status:                 subscriptiondomain.SubscriptionStatusTrialing,
	})
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, sub.PlanID)
	assert.Equal(t, plan.ID, *sub.PlanID)

	cancel := true
	updated, created, err := svc.Upsert(ctx, conn, subscriptiondomain.UpsertRequest{
		TenantID:               1,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		ProviderMeteredItemID:  "si_metered",
		Status:                 subscriptiondomain.SubscriptionStatusActive,
		CancelAtPeriodEnd:      &cancel,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sub.ID, updated.ID)
	assert.Equal(t, "cus_1", updated.ProviderCustomerID)
	assert.True(t, updated.HasMeteredItem())
	assert.True(t, updated.CancelAtPeriodEnd)

	current, err := svc.GetCurrent(ctx, nil, 1)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, current.Status)
	assert.True(t, current.Status.Billable())
}

func TestUpsertWithoutLifecycleFieldsKeepsCancelAtPeriodEnd(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	cancel := true
	_, created, err := svc.Upsert(ctx, conn, subscriptiondomain.UpsertRequest{
		TenantID:               1,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_1",
		Status:                 subscriptiondomain.SubscriptionStatusActive,
		CancelAtPeriodEnd:      &cancel,
	})
	require.NoError(t, err)
	require.True(t, created)

	// A checkout completion delivered late carries only identifiers.
	sub, created, err := svc.Upsert(ctx, conn, subscriptiondomain.UpsertRequest{
		TenantID:               1,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)

	keep := false
	sub, _, err = svc.Upsert(ctx, conn, subscriptiondomain.UpsertRequest{
		TenantID:               1,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		CancelAtPeriodEnd:      &keep,
	})
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)

	current, err := svc.GetCurrent(ctx, nil, 1)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.False(t, current.CancelAtPeriodEnd)
}

func TestGetCurrentPicksLatestStart(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	for id, started := range map[string]time.Time{"sub_old": older, "sub_new": newer} {
		_, _, err := svc.Upsert(ctx, conn, subscriptiondomain.UpsertRequest{
			TenantID:               1,
			Provider:               "stripe",
			ProviderSubscriptionID: id,
			ProviderCustomerID:     "cus_1",
			StartedAt:              &started,
		})
		require.NoError(t, err)
	}

	current, err := svc.GetCurrent(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "sub_new", current.ProviderSubscriptionID)

	byCustomer, err := svc.FindByProviderCustomerID(ctx, nil, "stripe", "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_new", byCustomer.ProviderSubscriptionID)

	none, err := svc.GetCurrent(ctx, nil, 2)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestResolvePlanByCodeOrPrice(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePlan(ctx, subscriptiondomain.CreatePlanRequest{
		Code: "team", Provider: "stripe", ProviderPriceID: "price_team", Currency: "usd",
	})
	require.NoError(t, err)

	byCode, err := svc.ResolvePlan(ctx, "stripe", "team")
	require.NoError(t, err)
	byPrice, err := svc.ResolvePlan(ctx, "stripe", "price_team")
	require.NoError(t, err)
	assert.Equal(t, byCode.ID, byPrice.ID)

	_, err = svc.ResolvePlan(ctx, "stripe", "price_missing")
	assert.ErrorIs(t, err, subscriptiondomain.ErrPlanNotFound)

	_, err = svc.CreatePlan(ctx, subscriptiondomain.CreatePlanRequest{
		Code: "team", Provider: "stripe", ProviderPriceID: "price_other", Currency: "usd",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrPlanExists)
}

func TestUpsertValidation(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Upsert(ctx, conn, subscriptiondomain.UpsertRequest{Provider: "stripe", ProviderSubscriptionID: "sub"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTenant)

	_, _, err = svc.Upsert(ctx, conn, subscriptiondomain.UpsertRequest{TenantID: 1, Provider: "stripe"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidSubscriptionID)

	_, _, err = svc.Upsert(ctx, conn, subscriptiondomain.UpsertRequest{
		TenantID: 1, Provider: "stripe", ProviderSubscriptionID: "sub", Status: "paused",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)
}
