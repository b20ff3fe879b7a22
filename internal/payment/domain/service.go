package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateCheckoutRequest struct {
	TenantID   snowflake.ID `json:"-"`
	PlanCode   string       `json:"plan_code"`
	CreditPack string       `json:"credit_pack"`
	SuccessURL string       `json:"success_url"`
	CancelURL  string       `json:"cancel_url"`
}

type CreatePortalRequest struct {
	TenantID  snowflake.ID `json:"-"`
	ReturnURL string       `json:"return_url"`
}

// Service is the outbound side: sessions and metered usage.
type Service interface {
	CreateCheckoutSession(ctx context.Context, req CreateCheckoutRequest) (*Session, error)
	CreatePortalSession(ctx context.Context, req CreatePortalRequest) (*Session, error)
	PushUsage(ctx context.Context, usage MeteredUsage) error
	Configured() bool
}

type WebhookStatus string

const (
	WebhookProcessed WebhookStatus = "processed"
	WebhookDuplicate WebhookStatus = "duplicate"
	WebhookSkipped   WebhookStatus = "ignored"
)

type WebhookResult struct {
	Status   WebhookStatus `json:"status"`
	EventID  string        `json:"event_id"`
	TenantID snowflake.ID  `json:"tenant_id,omitempty"`
}

// WebhookService verifies inbound provider events and reconciles local
// billing state from them.
type WebhookService interface {
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*WebhookResult, error)
}

var (
	ErrProviderNotConfigured = errors.New("payment_provider_not_configured")
	ErrProviderNotFound      = errors.New("payment_provider_not_found")
	ErrInvalidProvider       = errors.New("invalid_payment_provider")
	ErrInvalidConfig         = errors.New("invalid_payment_provider_config")
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrInvalidCheckout       = errors.New("invalid_checkout_request")
	ErrPriceNotFound         = errors.New("price_not_found")
	ErrCustomerNotFound      = errors.New("billing_customer_not_found")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrTenantUnresolved      = errors.New("tenant_unresolved")
	ErrMissingMeteredItem    = errors.New("missing_metered_item")
)
