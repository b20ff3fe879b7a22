package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
	"gorm.io/gorm"
)

// UpsertRequest is one provider invoice with its full set of lines.
type UpsertRequest struct {
	TenantID          snowflake.ID
	SubscriptionID    *snowflake.ID
	Provider          string
	ProviderInvoiceID string
	Number            string
	Status            string
	Currency          string
	Subtotal          int64
	Tax               int64
	Total             int64
	AmountDue         int64
	AmountPaid        int64
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	DueAt             *time.Time
	PaidAt            *time.Time
	HostedInvoiceURL  string
	InvoicePDFURL     string
	Lines             []LineInput
}

type LineInput struct {
	ProviderLineID string
	Description    string
	PriceID        string
	Quantity       int64
	Amount         int64
	Currency       string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
}

type ListRequest struct {
	TenantID snowflake.ID
	Status   string
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Invoices []*Invoice `json:"invoices"`
}

type Service interface {
	// Upsert writes the invoice inside tx and replaces all of its lines.
	Upsert(ctx context.Context, tx *gorm.DB, req UpsertRequest) (*Invoice, bool, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Get(ctx context.Context, tenantID, id snowflake.ID) (*Invoice, error)
}

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrInvalidInvoiceID = errors.New("invalid_provider_invoice_id")
	ErrInvalidStatus    = errors.New("invalid_invoice_status")
	ErrNotFound         = errors.New("invoice_not_found")
)
