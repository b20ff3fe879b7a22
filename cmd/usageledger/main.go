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

// usageledger runs the HTTP API and, unless APP_MODE=api, the outbox
// dispatcher in the same process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
		scheduler.LoopModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
