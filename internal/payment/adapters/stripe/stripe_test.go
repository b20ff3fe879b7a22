package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test"

func newAdapter(t *testing.T, cfg paymentdomain.AdapterConfig) paymentdomain.Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(cfg)
	require.NoError(t, err)
	return adapter
}

func sign(t *testing.T, secret string, event map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func stripeEvent(id, eventType string, object map[string]any) map[string]any {
	return map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).Unix(),
		"data":    map[string]any{"object": object},
	}
}

func TestParseWebhookVerifiesSignature(t *testing.T) {
	adapter := newAdapter(t, paymentdomain.AdapterConfig{WebhookSecret: testSecret})
	ctx := context.Background()
	event := stripeEvent("evt_1", "charge.succeeded", map[string]any{"id": "ch_1"})

	payload, header := sign(t, testSecret, event)
	parsed, err := adapter.ParseWebhook(ctx, payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", parsed.ID)
	assert.Equal(t, paymentdomain.WebhookIgnored, parsed.Category)

	payload, header = sign(t, "whsec_other", event)
	_, err = adapter.ParseWebhook(ctx, payload, header)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	_, err = adapter.ParseWebhook(ctx, payload, "")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestParseWebhookSubscription(t *testing.T) {
	adapter := newAdapter(t, paymentdomain.AdapterConfig{WebhookSecret: testSecret})
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	payload, header := sign(t, testSecret, stripeEvent("evt_sub", "customer.subscription.updated", map[string]any{
		"id":                   "sub_1",
		"object":               "subscription",
		"customer":             map[string]any{"id": "cus_1", "object": "customer"},
		"status":               "unpaid",
		"currency":             "usd",
		"cancel_at_period_end": true,
		"start_date":           start.Unix(),
		"metadata":             map[string]any{"tenant_id": "42"},
		"items": map[string]any{"data": []any{
			map[string]any{
				"id":                   "si_plan",
				"current_period_start": start.Unix(),
				"current_period_end":   end.Unix(),
				"price": map[string]any{
					"id":        "price_pro",
					"currency":  "usd",
					"recurring": map[string]any{"interval": "month", "usage_type": "licensed"},
				},
			},
			map[string]any{
				"id":    "si_metered",
				"price": map[string]any{"id": "price_calls", "recurring": map[string]any{"interval": "month", "usage_type": "metered"}},
			},
		}},
	}))

	event, err := adapter.ParseWebhook(context.Background(), payload, header)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.WebhookSubscription, event.Category)
	sub := event.Subscription
	require.NotNil(t, sub)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, string(subscriptiondomain.SubscriptionStatusPastDue), sub.Status)
	assert.Equal(t, "price_pro", sub.PriceID)
	assert.Equal(t, "si_metered", sub.MeteredItemID)
	assert.Equal(t, "month", sub.Interval)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, end.Equal(*sub.CurrentPeriodEnd))

	hints := event.Hints()
	assert.Equal(t, "42", hints.MetadataTenantID)
	assert.Equal(t, "sub_1", hints.ProviderSubscriptionID)
}

func TestParseWebhookInvoice(t *testing.T) {
	adapter := newAdapter(t, paymentdomain.AdapterConfig{WebhookSecret: testSecret})
	payload, header := sign(t, testSecret, stripeEvent("evt_inv", "invoice.paid", map[string]any{
		"id":          "in_1",
		"object":      "invoice",
		"number":      "A-0001",
		"status":      "paid",
		"currency":    "EUR",
		"customer":    "cus_1",
		"subtotal":    1000,
		"total":       1190,
		"amount_paid": 1190,
		"total_taxes": []any{map[string]any{"amount": 190}},
		"parent": map[string]any{
			"subscription_details": map[string]any{"subscription": "sub_1", "metadata": map[string]any{"tenant_id": "42"}},
		},
		"status_transitions": map[string]any{"paid_at": time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC).Unix()},
		"lines": map[string]any{"data": []any{
			map[string]any{
				"id": "il_1", "description": "Pro", "amount": 1000, "quantity": 1, "currency": "eur",
				"period":  map[string]any{"start": 1740787200, "end": 1743465600},
				"pricing": map[string]any{"price_details": map[string]any{"price": "price_pro"}},
			},
		}},
	}))

	event, err := adapter.ParseWebhook(context.Background(), payload, header)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.WebhookInvoice, event.Category)
	inv := event.Invoice
	require.NotNil(t, inv)
	assert.Equal(t, "sub_1", inv.SubscriptionID)
	assert.Equal(t, "eur", inv.Currency)
	assert.Equal(t, int64(190), inv.Tax)
	require.NotNil(t, inv.PaidAt)
	require.Len(t, inv.Lines, 1)
	assert.Equal(t, "price_pro", inv.Lines[0].PriceID)
	assert.Equal(t, "42", event.Hints().MetadataTenantID)
}

func TestParseWebhookCheckout(t *testing.T) {
	adapter := newAdapter(t, paymentdomain.AdapterConfig{WebhookSecret: testSecret})
	payload, header := sign(t, testSecret, stripeEvent("evt_co", "checkout.session.completed", map[string]any{
		"id":                  "cs_1",
		"object":              "checkout.session",
		"mode":                "payment",
		"client_reference_id": "42",
		"customer":            "cus_1",
		"payment_status":      "paid",
		"metadata":            map[string]any{"credit_pack": "starter"},
	}))

	event, err := adapter.ParseWebhook(context.Background(), payload, header)
	require.NoError(t, err)
	require.NotNil(t, event.Checkout)
	assert.Equal(t, "starter", event.Checkout.Metadata[paymentdomain.MetadataCreditPack])
	hints := event.Hints()
	assert.Empty(t, hints.MetadataTenantID)
	assert.Equal(t, "42", hints.ClientReferenceID)
	assert.Equal(t, "cus_1", hints.ProviderCustomerID)
}

func TestUnconfiguredAdapterFailsFast(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)

	adapter := newAdapter(t, paymentdomain.AdapterConfig{WebhookSecret: testSecret})
	ctx := context.Background()
	_, err = adapter.CreateCheckoutSession(ctx, paymentdomain.CheckoutRequest{PriceID: "price_pro"})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotConfigured)
	_, err = adapter.CreatePortalSession(ctx, paymentdomain.PortalRequest{ProviderCustomerID: "cus_1"})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotConfigured)
	err = adapter.RecordMeteredUsage(ctx, paymentdomain.MeteredUsage{ProviderCustomerID: "cus_1", EventName: "calls"})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotConfigured)

	adapter = newAdapter(t, paymentdomain.AdapterConfig{SecretKey: "sk_test"})
	_, err = adapter.ParseWebhook(ctx, []byte(`{}`), "t=1,v1=x")
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotConfigured)
}

func TestAPICallsAgainstFakeStripe(t *testing.T) {
	var meterForm, checkoutForm map[string]string
	var idempotencyKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/checkout/sessions":
			if form["line_items[0][price]"] == "price_missing" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","param":"line_items[0][price]","message":"No such price"}}`))
				return
			}
			checkoutForm = form
			_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.example/cs_test_1"}`))
		case "/v1/billing_portal/sessions":
			_, _ = w.Write([]byte(`{"id":"bps_1","object":"billing_portal.session","url":"https://portal.example/bps_1"}`))
		case "/v1/billing/meter_events":
			meterForm = form
			idempotencyKey = r.Header.Get("Idempotency-Key")
			_, _ = w.Write([]byte(`{"object":"billing.meter_event","event_name":"api_calls","identifier":"usage:1"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	adapter := newAdapter(t, paymentdomain.AdapterConfig{SecretKey: "sk_test", APIURL: srv.URL})
	ctx := context.Background()

	sess, err := adapter.CreateCheckoutSession(ctx, paymentdomain.CheckoutRequest{
		TenantID:   42,
		PriceID:    "price_pro",
		SuccessURL: "https://app.example/ok",
		CancelURL:  "https://app.example/cancel",
		Metadata:   map[string]string{paymentdomain.MetadataTenantID: "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/cs_test_1", sess.URL)
	assert.Equal(t, "subscription", checkoutForm["mode"])
	assert.Equal(t, "42", checkoutForm["client_reference_id"])
	assert.Equal(t, "42", checkoutForm["metadata[tenant_id]"])
	assert.Equal(t, "42", checkoutForm["subscription_data[metadata][tenant_id]"])

	_, err = adapter.CreateCheckoutSession(ctx, paymentdomain.CheckoutRequest{TenantID: 42, PriceID: "price_missing"})
	assert.ErrorIs(t, err, paymentdomain.ErrPriceNotFound)

	portal, err := adapter.CreatePortalSession(ctx, paymentdomain.PortalRequest{ProviderCustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, "bps_1", portal.ID)

	err = adapter.RecordMeteredUsage(ctx, paymentdomain.MeteredUsage{
		ProviderCustomerID: "cus_1",
		EventName:          "api_calls",
		Units:              decimal.NewFromInt(12),
		OccurredAt:         time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		IdempotencyKey:     "usage:1",
	})
	require.NoError(t, err)
	assert.Equal(t, "api_calls", meterForm["event_name"])
	assert.Equal(t, "usage:1", meterForm["identifier"])
	assert.Equal(t, "12", meterForm["payload[value]"])
	assert.Equal(t, "cus_1", meterForm["payload[stripe_customer_id]"])
	assert.Equal(t, "usage:1", idempotencyKey)
}

func TestParseWebhookExpandedCheckoutReferences(t *testing.T) {
	adapter := newAdapter(t, paymentdomain.AdapterConfig{WebhookSecret: testSecret})
	payload, header := sign(t, testSecret, stripeEvent("evt_co_exp", "checkout.session.completed", map[string]any{
		"id":             "cs_2",
		"object":         "checkout.session",
		"mode":           "subscription",
		"customer":       map[string]any{"id": "cus_2", "object": "customer"},
		"subscription":   map[string]any{"id": "sub_2", "object": "subscription", "status": "active"},
		"payment_status": "paid",
		"currency":       "USD",
		"amount_total":   4900,
	}))

	event, err := adapter.ParseWebhook(context.Background(), payload, header)
	require.NoError(t, err)
	require.NotNil(t, event.Checkout)
	assert.Equal(t, "cus_2", event.Checkout.CustomerID)
	assert.Equal(t, "sub_2", event.Checkout.SubscriptionID)
	assert.Equal(t, "subscription", event.Checkout.Mode)
	assert.Equal(t, "usd", event.Checkout.Currency)
	assert.Equal(t, int64(4900), event.Checkout.AmountTotal)
}

func TestParseWebhookRejectsMalformedObject(t *testing.T) {
	adapter := newAdapter(t, paymentdomain.AdapterConfig{WebhookSecret: testSecret})
	payload, header := sign(t, testSecret, stripeEvent("evt_bad", "invoice.paid", map[string]any{
		"id":    "in_bad",
		"total": "not-a-number",
	}))

	_, err := adapter.ParseWebhook(context.Background(), payload, header)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}
