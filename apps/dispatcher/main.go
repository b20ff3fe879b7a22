package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/clock"
	"github.com/smallbiznis/usageledger/internal/config"
	"github.com/smallbiznis/usageledger/internal/migration"
	"github.com/smallbiznis/usageledger/internal/observability"
	"github.com/smallbiznis/usageledger/internal/scheduler"
	"github.com/smallbiznis/usageledger/internal/server"
	"github.com/smallbiznis/usageledger/pkg/db"
	"go.uber.org/fx"
)

// dispatcher ticks the outbox only. Several replicas may run side by side;
// row claims keep them from processing the same event twice.
func main() {
	app := fx.New(
		config.Module,
		fx.Decorate(func(cfg config.Config) config.Config {
			cfg.Mode = config.ModeDispatcher
			return cfg
		}),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// No HTTP server; the domain services back the relay handlers.
		server.Domains,
		scheduler.LoopModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
