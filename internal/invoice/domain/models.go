// Package domain contains the local snapshot of provider invoices.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

// Invoice mirrors provider invoice state. Amounts are in minor units.
type Invoice struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID          snowflake.ID  `json:"tenant_id" gorm:"not null;uniqueIndex:ux_invoices_provider,priority:1;index:idx_invoices_tenant_created,priority:1"`
	SubscriptionID    *snowflake.ID `json:"subscription_id,omitempty"`
	Provider          string        `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_invoices_provider,priority:2"`
	ProviderInvoiceID string        `json:"provider_invoice_id" gorm:"type:text;not null;uniqueIndex:ux_invoices_provider,priority:3"`
	Number            string        `json:"number" gorm:"type:text"`
	Status            InvoiceStatus `json:"status" gorm:"type:text;not null"`
	Currency          string        `json:"currency" gorm:"type:text;not null"`
	Subtotal          int64         `json:"subtotal" gorm:"not null;default:0"`
	Tax               int64         `json:"tax" gorm:"not null;default:0"`
	Total             int64         `json:"total" gorm:"not null;default:0"`
	AmountDue         int64         `json:"amount_due" gorm:"not null;default:0"`
	AmountPaid        int64         `json:"amount_paid" gorm:"not null;default:0"`
	PeriodStart       *time.Time    `json:"period_start,omitempty"`
	PeriodEnd         *time.Time    `json:"period_end,omitempty"`
	DueAt             *time.Time    `json:"due_at,omitempty"`
	PaidAt            *time.Time    `json:"paid_at,omitempty"`
	HostedInvoiceURL  string        `json:"hosted_invoice_url,omitempty" gorm:"type:text"`
	InvoicePDFURL     string        `json:"invoice_pdf_url,omitempty" gorm:"type:text"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null;index:idx_invoices_tenant_created,priority:2"`
	UpdatedAt         time.Time     `json:"updated_at" gorm:"not null"`

	Lines []InvoiceLine `json:"lines,omitempty" gorm:"-"`
}

func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is derived from the provider payload and replaced wholesale
// on every reconciliation of its invoice.
type InvoiceLine struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID       snowflake.ID `json:"tenant_id" gorm:"not null"`
	InvoiceID      snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	Position       int          `json:"position" gorm:"not null"`
	ProviderLineID string       `json:"provider_line_id,omitempty" gorm:"type:text"`
	Description    string       `json:"description" gorm:"type:text"`
	PriceID        string       `json:"price_id,omitempty" gorm:"type:text"`
	Quantity       int64        `json:"quantity" gorm:"not null;default:0"`
	Amount         int64        `json:"amount" gorm:"not null;default:0"`
	Currency       string       `json:"currency" gorm:"type:text;not null"`
	PeriodStart    *time.Time   `json:"period_start,omitempty"`
	PeriodEnd      *time.Time   `json:"period_end,omitempty"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
}

func (InvoiceLine) TableName() string { return "invoice_lines" }
