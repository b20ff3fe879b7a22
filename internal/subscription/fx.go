package subscription

import (
	"github.com/smallbiznis/usageledger/internal/subscription/repository"
	"github.com/smallbiznis/usageledger/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
