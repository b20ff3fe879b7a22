package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/usageledger/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET subscription_id = ?, number = ?, status = ?, currency = ?,
			subtotal = ?, tax = ?, total = ?, amount_due = ?, amount_paid = ?,
			period_start = ?, period_end = ?, due_at = ?, paid_at = ?,
			hosted_invoice_url = ?, invoice_pdf_url = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		invoice.SubscriptionID,
		invoice.Number,
		invoice.Status,
		invoice.Currency,
		invoice.Subtotal,
		invoice.Tax,
		invoice.Total,
		invoice.AmountDue,
		invoice.AmountPaid,
		invoice.PeriodStart,
		invoice.PeriodEnd,
		invoice.DueAt,
		invoice.PaidAt,
		invoice.HostedInvoiceURL,
		invoice.InvoicePDFURL,
		invoice.UpdatedAt,
		invoice.TenantID,
		invoice.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.findOne(ctx, db,
		`SELECT * FROM invoices WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	)
}

func (r *repo) FindByProviderID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider, providerInvoiceID string) (*invoicedomain.Invoice, error) {
	return r.findOne(ctx, db,
		`SELECT * FROM invoices WHERE tenant_id = ? AND provider = ? AND provider_invoice_id = ?`,
		tenantID, provider, providerInvoiceID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) CountByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM invoices WHERE tenant_id = ?`,
		tenantID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter invoicedomain.ListFilter) ([]*invoicedomain.Invoice, error) {
	where := []string{"tenant_id = ?"}
	args := []any{filter.TenantID}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Cursor != nil {
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	args = append(args, filter.Limit)

	var items []*invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM invoices
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		args...,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) DeleteLines(ctx context.Context, db *gorm.DB, tenantID, invoiceID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM invoice_lines WHERE tenant_id = ? AND invoice_id = ?`,
		tenantID, invoiceID,
	).Error
}

func (r *repo) InsertLines(ctx context.Context, db *gorm.DB, lines []invoicedomain.InvoiceLine) error {
	if len(lines) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&lines).Error
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, tenantID, invoiceID snowflake.ID) ([]invoicedomain.InvoiceLine, error) {
	var lines []invoicedomain.InvoiceLine
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM invoice_lines
		 WHERE tenant_id = ? AND invoice_id = ?
		 ORDER BY position ASC`,
		tenantID, invoiceID,
	).Scan(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}
