package usage

import (
	"github.com/smallbiznis/usageledger/internal/usage/liveevents"
	"github.com/smallbiznis/usageledger/internal/usage/repository"
	"github.com/smallbiznis/usageledger/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(liveevents.NewHub),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
