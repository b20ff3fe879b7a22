package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.ProviderEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO provider_events (
			id, tenant_id, provider, provider_event_id, event_type, status,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.TenantID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Status,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.ProviderEvent, error) {
	var item domain.ProviderEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, provider, provider_event_id, event_type, status,
			payload, received_at, processed_at
		 FROM provider_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE provider_events SET status = ?, processed_at = ? WHERE id = ?`,
		domain.ProviderEventProcessed,
		processedAt,
		id,
	).Error
}

func (r *repo) UpsertCustomer(ctx context.Context, db *gorm.DB, customer *domain.BillingCustomer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_customers (
			id, tenant_id, provider, provider_customer_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, provider) DO UPDATE SET
			provider_customer_id = excluded.provider_customer_id,
			updated_at = excluded.updated_at`,
		customer.ID,
		customer.TenantID,
		customer.Provider,
		customer.ProviderCustomerID,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindCustomerByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider string) (*domain.BillingCustomer, error) {
	return r.findCustomer(ctx, db,
		`WHERE tenant_id = ? AND provider = ?`, tenantID, provider)
}

func (r *repo) FindCustomerByProviderID(ctx context.Context, db *gorm.DB, provider, providerCustomerID string) (*domain.BillingCustomer, error) {
	return r.findCustomer(ctx, db,
		`WHERE provider = ? AND provider_customer_id = ?`, provider, providerCustomerID)
}

func (r *repo) findCustomer(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.BillingCustomer, error) {
	var item domain.BillingCustomer
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, provider, provider_customer_id, created_at, updated_at
		 FROM billing_customers `+where+`
		 LIMIT 1`,
		args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
