package events

import (
	"github.com/smallbiznis/usageledger/internal/events/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("events",
	fx.Provide(repository.Provide),
	fx.Provide(NewOutbox),
)
