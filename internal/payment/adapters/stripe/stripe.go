// Package stripe implements the payment adapter on top of stripe-go.
package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/billing/meterevent"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	defaultRequestTimeout = 15 * time.Second
	meterCustomerKey      = "stripe_customer_id"
	meterValueKey         = "value"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderStripe
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	secretKey := strings.TrimSpace(cfg.SecretKey)
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if secretKey == "" && webhookSecret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripeapi.Int64(2),
	}
	if url := strings.TrimSpace(cfg.APIURL); url != "" {
		backendCfg.URL = stripeapi.String(url)
		backendCfg.MaxNetworkRetries = stripeapi.Int64(0)
	}
	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg)

	return &Adapter{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		tolerance:     cfg.WebhookTolerance,
		checkout:      &checkoutsession.Client{B: backend, Key: secretKey},
		portal:        &portalsession.Client{B: backend, Key: secretKey},
		meterEvents:   &meterevent.Client{B: backend, Key: secretKey},
	}, nil
}

type Adapter struct {
	secretKey     string
	webhookSecret string
	tolerance     time.Duration

	checkout    *checkoutsession.Client
	portal      *portalsession.Client
	meterEvents *meterevent.Client
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutRequest) (*paymentdomain.Session, error) {
	if a.secretKey == "" {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	priceID := strings.TrimSpace(req.PriceID)
	if priceID == "" {
		return nil, paymentdomain.ErrPriceNotFound
	}
	mode := req.Mode
	if mode == "" {
		mode = paymentdomain.CheckoutModeSubscription
	}

	item := &stripeapi.CheckoutSessionLineItemParams{Price: stripeapi.String(priceID)}
	if req.Quantity > 0 {
		item.Quantity = stripeapi.Int64(req.Quantity)
	}
	params := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(mode),
		SuccessURL:        stripeapi.String(req.SuccessURL),
		CancelURL:         stripeapi.String(req.CancelURL),
		ClientReferenceID: stripeapi.String(req.TenantID.String()),
		LineItems:         []*stripeapi.CheckoutSessionLineItemParams{item},
	}
	if customer := strings.TrimSpace(req.ProviderCustomerID); customer != "" {
		params.Customer = stripeapi.String(customer)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if mode == paymentdomain.CheckoutModeSubscription && len(req.Metadata) > 0 {
		params.SubscriptionData = &stripeapi.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		}
	}
	params.Context = ctx

	sess, err := a.checkout.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &paymentdomain.Session{ID: sess.ID, URL: sess.URL}, nil
}

func (a *Adapter) CreatePortalSession(ctx context.Context, req paymentdomain.PortalRequest) (*paymentdomain.Session, error) {
	if a.secretKey == "" {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	customer := strings.TrimSpace(req.ProviderCustomerID)
	if customer == "" {
		return nil, paymentdomain.ErrCustomerNotFound
	}
	params := &stripeapi.BillingPortalSessionParams{
		Customer:  stripeapi.String(customer),
		ReturnURL: stripeapi.String(req.ReturnURL),
	}
	params.Context = ctx

	sess, err := a.portal.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &paymentdomain.Session{ID: sess.ID, URL: sess.URL}, nil
}

// RecordMeteredUsage sends one billing meter event. The ledger idempotency
// key doubles as the event identifier so Stripe drops redeliveries.
func (a *Adapter) RecordMeteredUsage(ctx context.Context, usage paymentdomain.MeteredUsage) error {
	if a.secretKey == "" {
		return paymentdomain.ErrProviderNotConfigured
	}
	customer := strings.TrimSpace(usage.ProviderCustomerID)
	if customer == "" {
		return paymentdomain.ErrCustomerNotFound
	}
	if strings.TrimSpace(usage.EventName) == "" {
		return paymentdomain.ErrMissingMeteredItem
	}

	params := &stripeapi.BillingMeterEventParams{
		EventName:  stripeapi.String(usage.EventName),
		Identifier: stripeapi.String(usage.IdempotencyKey),
		Payload: map[string]string{
			meterCustomerKey: customer,
			meterValueKey:    usage.Units.String(),
		},
		Timestamp: stripeapi.Int64(usage.OccurredAt.Unix()),
	}
	params.Context = ctx
	params.SetIdempotencyKey(usage.IdempotencyKey)

	if _, err := a.meterEvents.New(params); err != nil {
		return classify(err)
	}
	return nil
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, signature string) (*paymentdomain.WebhookEvent, error) {
	if a.webhookSecret == "" {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                a.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrTooOld):
			return nil, paymentdomain.ErrInvalidSignature
		default:
			return nil, paymentdomain.ErrInvalidPayload
		}
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return normalize(string(event.Type), event.ID, event.Created, event.Data.Raw, payload)
}

// classify keeps Stripe's own error for transient failures so the caller can
// retry, and maps permanent lookups onto domain errors.
func classify(err error) error {
	var stripeErr *stripeapi.Error
	if !errors.As(err, &stripeErr) {
		return err
	}
	if stripeErr.Code == stripeapi.ErrorCodeResourceMissing {
		switch stripeErr.Param {
		case "customer":
			return errors.Join(paymentdomain.ErrCustomerNotFound, err)
		default:
			return errors.Join(paymentdomain.ErrPriceNotFound, err)
		}
	}
	if stripeErr.HTTPStatusCode == http.StatusUnauthorized {
		return errors.Join(paymentdomain.ErrProviderNotConfigured, err)
	}
	return err
}
