package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	TenantID snowflake.ID
	Status   InvoiceStatus
	Cursor   *pagination.Cursor
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	Update(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Invoice, error)
	FindByProviderID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider, providerInvoiceID string) (*Invoice, error)
	CountByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)

	DeleteLines(ctx context.Context, db *gorm.DB, tenantID, invoiceID snowflake.ID) error
	InsertLines(ctx context.Context, db *gorm.DB, lines []InvoiceLine) error
	ListLines(ctx context.Context, db *gorm.DB, tenantID, invoiceID snowflake.ID) ([]InvoiceLine, error)
}
