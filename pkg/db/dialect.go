package db

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var ErrUnsupportedDialect = errors.New("unsupported_dialect")

const (
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

// Dialect opens postgres for deployments and sqlite for local runs and
// tests. Repositories rely on ON CONFLICT and postgres row-level security,
// so other databases are rejected.
func Dialect(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypePostgres:
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.Port,
			cfg.SSLMode,
		)), nil
	case TypeSQLite:
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			name = "usageledger.db"
		}
		return sqlite.Open(name), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, cfg.Type)
	}
}

// SupportsSkipLocked reports whether the connected dialect understands
// FOR UPDATE SKIP LOCKED.
func SupportsSkipLocked(db *gorm.DB) bool {
	if db == nil || db.Dialector == nil {
		return false
	}
	return db.Dialector.Name() == "postgres"
}

// IsPostgres reports whether the connection targets postgres.
func IsPostgres(db *gorm.DB) bool {
	return db != nil && db.Dialector != nil && db.Dialector.Name() == "postgres"
}

// LockSkipLocked returns the row-claim suffix for the connected dialect.
func LockSkipLocked(db *gorm.DB) string {
	if SupportsSkipLocked(db) {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

// LockForUpdate returns the row-lock suffix for the connected dialect.
func LockForUpdate(db *gorm.DB) string {
	if SupportsSkipLocked(db) {
		return " FOR UPDATE"
	}
	return ""
}
