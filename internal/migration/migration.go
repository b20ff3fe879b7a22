package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
	invoicedomain "github.com/smallbiznis/usageledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/usageledger/internal/ledger/domain"
	meterdomain "github.com/smallbiznis/usageledger/internal/meter/domain"
	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/usageledger/internal/usage/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted type, in foreign-key order.
func Models() []any {
	return []any{
		&meterdomain.Meter{},
		&meterdomain.MeterRate{},
		&usagedomain.UsageEvent{},
		&eventdomain.RelayEvent{},
		&subscriptiondomain.Plan{},
		&subscriptiondomain.Subscription{},
		&ledgerdomain.LedgerEntry{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&creditdomain.CreditPack{},
		&creditdomain.CreditGrant{},
		&paymentdomain.ProviderEvent{},
		&paymentdomain.BillingCustomer{},
	}
}

// Migrate brings the schema up to date. Postgres gets the versioned SQL
// migrations including tenant row-level security; other dialects fall back
// to AutoMigrate and rely on query-level tenant filters only.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}
