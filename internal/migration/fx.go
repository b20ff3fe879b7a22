package migration

import (
	"github.com/smallbiznis/usageledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.MigrateOnStart {
			log.Info("migrations skipped", zap.String("reason", "MIGRATE_ON_START=false"))
			return nil
		}
		if err := Migrate(conn); err != nil {
			return err
		}
		log.Info("migrations applied", zap.String("dialect", conn.Dialector.Name()))
		return nil
	}),
)
