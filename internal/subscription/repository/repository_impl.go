package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, tenant_id, plan_id, status, provider, provider_subscription_id,
	provider_customer_id, provider_metered_item_id, currency, billing_interval,
	current_period_start, current_period_end, cancel_at_period_end, started_at,
	canceled_at, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *subscriptiondomain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (id, code, name, provider, provider_price_id, currency, billing_interval, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Code,
		plan.Name,
		plan.Provider,
		plan.ProviderPriceID,
		plan.Currency,
		plan.BillingInterval,
		plan.Active,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Plan, error) {
	return r.findPlan(ctx, db, `SELECT * FROM plans WHERE id = ?`, id)
}

func (r *repo) FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*subscriptiondomain.Plan, error) {
	return r.findPlan(ctx, db, `SELECT * FROM plans WHERE code = ?`, code)
}

func (r *repo) FindPlanByProviderPrice(ctx context.Context, db *gorm.DB, provider, priceID string) (*subscriptiondomain.Plan, error) {
	return r.findPlan(ctx, db,
		`SELECT * FROM plans WHERE provider = ? AND provider_price_id = ?`,
		provider, priceID,
	)
}

func (r *repo) findPlan(ctx context.Context, db *gorm.DB, query string, args ...any) (*subscriptiondomain.Plan, error) {
	var plan subscriptiondomain.Plan
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&plan).Error; err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) ListPlans(ctx context.Context, db *gorm.DB) ([]*subscriptiondomain.Plan, error) {
	var items []*subscriptiondomain.Plan
	err := db.WithContext(ctx).Raw(`SELECT * FROM plans ORDER BY code ASC`).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.TenantID,
		sub.PlanID,
		sub.Status,
		sub.Provider,
		sub.ProviderSubscriptionID,
		sub.ProviderCustomerID,
		sub.ProviderMeteredItemID,
		sub.Currency,
		sub.BillingInterval,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.StartedAt,
		sub.CanceledAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET plan_id = ?,
		     status = ?,
		     provider_customer_id = ?,
		     provider_metered_item_id = ?,
		     currency = ?,
		     billing_interval = ?,
		     current_period_start = ?,
		     current_period_end = ?,
		     cancel_at_period_end = ?,
		     started_at = ?,
		     canceled_at = ?,
		     updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		sub.PlanID,
		sub.Status,
		sub.ProviderCustomerID,
		sub.ProviderMeteredItemID,
		sub.Currency,
		sub.BillingInterval,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.StartedAt,
		sub.CanceledAt,
		sub.UpdatedAt,
		sub.TenantID,
		sub.ID,
	).Error
}

func (r *repo) FindCurrent(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE tenant_id = ?
		 ORDER BY started_at DESC, id DESC
		 LIMIT 1`,
		tenantID,
	)
}

func (r *repo) FindByTenantProviderID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider, providerSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE tenant_id = ? AND provider = ? AND provider_subscription_id = ?`,
		tenantID, provider, providerSubscriptionID,
	)
}

func (r *repo) FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE provider = ? AND provider_subscription_id = ?
		 ORDER BY started_at DESC, id DESC
		 LIMIT 1`,
		provider, providerSubscriptionID,
	)
}

func (r *repo) FindByProviderCustomerID(ctx context.Context, db *gorm.DB, provider, providerCustomerID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE provider = ? AND provider_customer_id = ?
		 ORDER BY started_at DESC, id DESC
		 LIMIT 1`,
		provider, providerCustomerID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&sub).Error; err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]*subscriptiondomain.Subscription, error) {
	var items []*subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE tenant_id = ?
		 ORDER BY started_at DESC, id DESC`,
		tenantID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
