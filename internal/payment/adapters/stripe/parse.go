package stripe

import (
	"encoding/json"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	stripeapi "github.com/stripe/stripe-go/v82"
)

func category(eventType string) paymentdomain.WebhookCategory {
	switch {
	case eventType == "checkout.session.completed",
		eventType == "checkout.session.async_payment_succeeded":
		return paymentdomain.WebhookCheckoutCompleted
	case strings.HasPrefix(eventType, "customer.subscription."):
		return paymentdomain.WebhookSubscription
	case strings.HasPrefix(eventType, "invoice.") && eventType != "invoice.upcoming":
		return paymentdomain.WebhookInvoice
	default:
		return paymentdomain.WebhookIgnored
	}
}

// normalize decodes the event object into the stripe-go type for its
// category and folds it into the provider-neutral webhook event.
func normalize(eventType, id string, created int64, object json.RawMessage, payload []byte) (*paymentdomain.WebhookEvent, error) {
	event := &paymentdomain.WebhookEvent{
		Provider:  paymentdomain.ProviderStripe,
		ID:        id,
		Type:      eventType,
		Category:  category(eventType),
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
	if at := unix(created); at != nil {
		event.CreatedAt = *at
	}

	switch event.Category {
	case paymentdomain.WebhookCheckoutCompleted:
		var s stripeapi.CheckoutSession
		if err := json.Unmarshal(object, &s); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.Checkout = checkoutCompletion(&s)
	case paymentdomain.WebhookSubscription:
		var s stripeapi.Subscription
		if err := json.Unmarshal(object, &s); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.Subscription = subscriptionState(&s)
	case paymentdomain.WebhookInvoice:
		var inv stripeapi.Invoice
		if err := json.Unmarshal(object, &inv); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.Invoice = invoiceState(&inv)
	}
	return event, nil
}

func checkoutCompletion(s *stripeapi.CheckoutSession) *paymentdomain.CheckoutCompletion {
	out := &paymentdomain.CheckoutCompletion{
		SessionID:         s.ID,
		Mode:              string(s.Mode),
		ClientReferenceID: strings.TrimSpace(s.ClientReferenceID),
		CustomerID:        customerID(s.Customer),
		PaymentStatus:     string(s.PaymentStatus),
		AmountTotal:       s.AmountTotal,
		Currency:          strings.ToLower(string(s.Currency)),
		Metadata:          s.Metadata,
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out
}

func subscriptionState(s *stripeapi.Subscription) *paymentdomain.SubscriptionState {
	state := &paymentdomain.SubscriptionState{
		ID:                s.ID,
		CustomerID:        customerID(s.Customer),
		Status:            string(MapSubscriptionStatus(string(s.Status))),
		Currency:          strings.ToLower(string(s.Currency)),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		StartedAt:         unix(s.StartDate),
		CanceledAt:        unix(s.CanceledAt),
		Metadata:          s.Metadata,
	}

	var items []*stripeapi.SubscriptionItem
	if s.Items != nil {
		items = s.Items.Data
	}
	var planItem *stripeapi.SubscriptionItem
	for _, item := range items {
		if item == nil {
			continue
		}
		if usageType(item.Price) == stripeapi.PriceRecurringUsageTypeMetered {
			if state.MeteredItemID == "" {
				state.MeteredItemID = item.ID
			}
			continue
		}
		if planItem == nil {
			planItem = item
		}
	}
	if planItem == nil && len(items) > 0 {
		planItem = items[0]
	}
	if planItem == nil {
		return state
	}

	// The billing period lives on items since the 2025-03-31 API version.
	state.CurrentPeriodStart = unix(planItem.CurrentPeriodStart)
	state.CurrentPeriodEnd = unix(planItem.CurrentPeriodEnd)
	if p := planItem.Price; p != nil {
		state.PriceID = p.ID
		if p.Recurring != nil {
			state.Interval = string(p.Recurring.Interval)
		}
		if state.Currency == "" {
			state.Currency = strings.ToLower(string(p.Currency))
		}
	}
	return state
}

func invoiceState(inv *stripeapi.Invoice) *paymentdomain.InvoiceState {
	state := &paymentdomain.InvoiceState{
		ID:          inv.ID,
		CustomerID:  customerID(inv.Customer),
		Number:      inv.Number,
		Status:      string(inv.Status),
		Currency:    strings.ToLower(string(inv.Currency)),
		Subtotal:    inv.Subtotal,
		Total:       inv.Total,
		AmountDue:   inv.AmountDue,
		AmountPaid:  inv.AmountPaid,
		PeriodStart: unix(inv.PeriodStart),
		PeriodEnd:   unix(inv.PeriodEnd),
		DueAt:       unix(inv.DueDate),
		HostedURL:   inv.HostedInvoiceURL,
		PDFURL:      inv.InvoicePDF,
		Metadata:    inv.Metadata,
	}
	if inv.StatusTransitions != nil {
		state.PaidAt = unix(inv.StatusTransitions.PaidAt)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		details := inv.Parent.SubscriptionDetails
		if details.Subscription != nil {
			state.SubscriptionID = details.Subscription.ID
		}
		if state.Metadata[paymentdomain.MetadataTenantID] == "" && details.Metadata != nil {
			state.Metadata = details.Metadata
		}
	}
	for _, t := range inv.TotalTaxes {
		if t != nil {
			state.Tax += t.Amount
		}
	}

	if inv.Lines == nil {
		return state
	}
	for _, line := range inv.Lines.Data {
		if line == nil {
			continue
		}
		out := paymentdomain.InvoiceLineState{
			ProviderLineID: line.ID,
			Description:    line.Description,
			Quantity:       line.Quantity,
			Amount:         line.Amount,
			Currency:       strings.ToLower(string(line.Currency)),
		}
		if line.Period != nil {
			out.PeriodStart = unix(line.Period.Start)
			out.PeriodEnd = unix(line.Period.End)
		}
		if line.Pricing != nil && line.Pricing.PriceDetails != nil {
			out.PriceID = line.Pricing.PriceDetails.Price
		}
		state.Lines = append(state.Lines, out)
	}
	return state
}

func customerID(c *stripeapi.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func usageType(p *stripeapi.Price) stripeapi.PriceRecurringUsageType {
	if p == nil || p.Recurring == nil {
		return ""
	}
	return p.Recurring.UsageType
}

// MapSubscriptionStatus folds Stripe's lifecycle into the local one.
func MapSubscriptionStatus(status string) subscriptiondomain.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return subscriptiondomain.SubscriptionStatusActive
	case "trialing":
		return subscriptiondomain.SubscriptionStatusTrialing
	case "canceled", "incomplete_expired":
		return subscriptiondomain.SubscriptionStatusCanceled
	default:
		return subscriptiondomain.SubscriptionStatusPastDue
	}
}

func unix(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
