package scheduler

import (
	"context"

	"github.com/smallbiznis/usageledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(provideRegistry),
	fx.Provide(New),
)

// LoopModule starts the tick loop on processes that run the dispatcher.
var LoopModule = fx.Module("scheduler.loop",
	fx.Invoke(StartLoop),
)

func StartLoop(lc fx.Lifecycle, cfg config.Config, sched *Scheduler, log *zap.Logger) {
	if !cfg.RunsDispatcher() {
		log.Info("dispatcher loop disabled", zap.String("mode", cfg.Mode))
		return
	}

	var cancel context.CancelFunc
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
