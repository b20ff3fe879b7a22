package payment

import (
	ledgerdomain "github.com/smallbiznis/usageledger/internal/ledger/domain"
	"github.com/smallbiznis/usageledger/internal/payment/adapters"
	"github.com/smallbiznis/usageledger/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	"github.com/smallbiznis/usageledger/internal/payment/repository"
	paymentservice "github.com/smallbiznis/usageledger/internal/payment/service"
	"github.com/smallbiznis/usageledger/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(stripe.NewFactory())
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
	// Rated usage is pushed to the provider after each ledger commit.
	fx.Provide(func(svc paymentdomain.Service) ledgerdomain.UsagePusher { return svc }),
)
