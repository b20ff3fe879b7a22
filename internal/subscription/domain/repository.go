package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	FindPlanByProviderPrice(ctx context.Context, db *gorm.DB, provider, priceID string) (*Plan, error)
	ListPlans(ctx context.Context, db *gorm.DB) ([]*Plan, error)

	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	Update(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindCurrent(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	FindByTenantProviderID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider, providerSubscriptionID string) (*Subscription, error)
	// Cross-tenant lookups used only to resolve the owner of a webhook.
	FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string) (*Subscription, error)
	FindByProviderCustomerID(ctx context.Context, db *gorm.DB, provider, providerCustomerID string) (*Subscription, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]*Subscription, error)
}
