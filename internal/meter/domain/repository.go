package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, m *Meter) error
	SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool, updatedAt time.Time) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Meter, error)
	FindByEventKey(ctx context.Context, db *gorm.DB, eventKey string) (*Meter, error)
	FindActiveByEventKey(ctx context.Context, db *gorm.DB, eventKey string) (*Meter, error)
	FindVersion(ctx context.Context, db *gorm.DB, id snowflake.ID) (*MeterVersion, error)
	List(ctx context.Context, db *gorm.DB) ([]*Meter, error)

	InsertRate(ctx context.Context, db *gorm.DB, rate *MeterRate) error
	ListRates(ctx context.Context, db *gorm.DB, meterID snowflake.ID) ([]*MeterRate, error)
	FindEffectiveRate(ctx context.Context, db *gorm.DB, meterID snowflake.ID, at time.Time) (*MeterRate, error)
	FindOverlappingRates(ctx context.Context, db *gorm.DB, rate *MeterRate) ([]*MeterRate, error)
}
