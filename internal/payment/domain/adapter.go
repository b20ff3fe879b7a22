package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Metadata keys stamped on provider objects so webhooks can find the tenant.
const (
	MetadataTenantID   = "tenant_id"
	MetadataPlanCode   = "plan_code"
	MetadataCreditPack = "credit_pack"
)

const (
	CheckoutModeSubscription = "subscription"
	CheckoutModePayment      = "payment"
)

// AdapterConfig is what a factory needs to build a live adapter.
type AdapterConfig struct {
	SecretKey        string
	WebhookSecret    string
	RequestTimeout   time.Duration
	WebhookTolerance time.Duration
	// APIURL overrides the provider endpoint; tests point it at httptest.
	APIURL string
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// Adapter is the narrow surface the billing core uses to talk to a provider.
type Adapter interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	CreatePortalSession(ctx context.Context, req PortalRequest) (*Session, error)
	// ParseWebhook verifies the signature and normalizes the payload.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
	RecordMeteredUsage(ctx context.Context, usage MeteredUsage) error
}

type CheckoutRequest struct {
	TenantID           snowflake.ID
	Mode               string
	PriceID            string
	Quantity           int64
	ProviderCustomerID string
	SuccessURL         string
	CancelURL          string
	Metadata           map[string]string
}

type PortalRequest struct {
	ProviderCustomerID string
	ReturnURL          string
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// MeteredUsage is one rated ledger entry pushed to the provider meter.
type MeteredUsage struct {
	TenantID               snowflake.ID
	SubscriptionID         snowflake.ID
	ProviderSubscriptionID string
	ProviderItemID         string
	ProviderCustomerID     string
	EventName              string
	Units                  decimal.Decimal
	Currency               string
	OccurredAt             time.Time
	IdempotencyKey         string
}

type WebhookCategory string

const (
	WebhookCheckoutCompleted WebhookCategory = "checkout_completed"
	WebhookSubscription      WebhookCategory = "subscription"
	WebhookInvoice           WebhookCategory = "invoice"
	WebhookIgnored           WebhookCategory = "ignored"
)

// WebhookEvent is a verified provider event reduced to what reconciliation
// consumes. Exactly one of Checkout, Subscription or Invoice is set unless
// the category is ignored.
type WebhookEvent struct {
	Provider  string
	ID        string
	Type      string
	Category  WebhookCategory
	CreatedAt time.Time
	Payload   []byte

	Checkout     *CheckoutCompletion
	Subscription *SubscriptionState
	Invoice      *InvoiceState
}

// TenantHints are the references the resolution chain walks in order.
type TenantHints struct {
	MetadataTenantID       string
	ClientReferenceID      string
	ProviderSubscriptionID string
	ProviderCustomerID     string
}

func (e *WebhookEvent) Hints() TenantHints {
	switch {
	case e == nil:
		return TenantHints{}
	case e.Checkout != nil:
		return TenantHints{
			MetadataTenantID:       e.Checkout.Metadata[MetadataTenantID],
			ClientReferenceID:      e.Checkout.ClientReferenceID,
			ProviderSubscriptionID: e.Checkout.SubscriptionID,
			ProviderCustomerID:     e.Checkout.CustomerID,
		}
	case e.Subscription != nil:
		return TenantHints{
			MetadataTenantID:       e.Subscription.Metadata[MetadataTenantID],
			ProviderSubscriptionID: e.Subscription.ID,
			ProviderCustomerID:     e.Subscription.CustomerID,
		}
	case e.Invoice != nil:
		return TenantHints{
			MetadataTenantID:       e.Invoice.Metadata[MetadataTenantID],
			ProviderSubscriptionID: e.Invoice.SubscriptionID,
			ProviderCustomerID:     e.Invoice.CustomerID,
		}
	default:
		return TenantHints{}
	}
}

type CheckoutCompletion struct {
	SessionID         string
	Mode              string
	ClientReferenceID string
	CustomerID        string
	SubscriptionID    string
	PaymentStatus     string
	AmountTotal       int64
	Currency          string
	Metadata          map[string]string
}

// SubscriptionState carries provider subscription fields with Status
// already mapped to the local vocabulary.
type SubscriptionState struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	MeteredItemID      string
	Currency           string
	Interval           string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	StartedAt          *time.Time
	CanceledAt         *time.Time
	Metadata           map[string]string
}

type InvoiceState struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Number         string
	Status         string
	Currency       string
	Subtotal       int64
	Tax            int64
	Total          int64
	AmountDue      int64
	AmountPaid     int64
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	DueAt          *time.Time
	PaidAt         *time.Time
	HostedURL      string
	PDFURL         string
	Metadata       map[string]string
	Lines          []InvoiceLineState
}

type InvoiceLineState struct {
	ProviderLineID string
	Description    string
	PriceID        string
	Quantity       int64
	Amount         int64
	Currency       string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
}
