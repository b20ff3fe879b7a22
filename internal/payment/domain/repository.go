package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent records a received event unless (provider, provider_event_id) exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *ProviderEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*ProviderEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error

	UpsertCustomer(ctx context.Context, db *gorm.DB, customer *BillingCustomer) error
	FindCustomerByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider string) (*BillingCustomer, error)
	FindCustomerByProviderID(ctx context.Context, db *gorm.DB, provider, providerCustomerID string) (*BillingCustomer, error)
}
