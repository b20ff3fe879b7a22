package ledger

import (
	"github.com/smallbiznis/usageledger/internal/ledger/repository"
	"github.com/smallbiznis/usageledger/internal/ledger/service"
	"github.com/smallbiznis/usageledger/internal/scheduler"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(scheduler.AsHandler(service.NewUsageRecordedHandler)),
)
