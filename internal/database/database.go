package database

import (
	"strings"

	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite" // cgo-free sqlite driver

	"legalbot/internal/domain"
	"legalbot/internal/pkg/logger"
)

// Connect opens PostgreSQL for postgres:// DSNs, otherwise a local sqlite
// file (":memory:" in tests).
func Connect(dsn string) (*gorm.DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		logger.Info().Msg("connecting to PostgreSQL")
		return gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	}

	logger.Info().Str("path", dsn).Msg("using sqlite")
	return gorm.Open(
		gormsqlite.New(gormsqlite.Config{
			DriverName: "sqlite",
			DSN:        dsn,
		}),
		&gorm.Config{TranslateError: true},
	)
}

// Migrate creates the aggregate tables plus the partial unique index that
// backstops concurrent slot claims on postgres.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Consultation{},
		&domain.Payment{},
	); err != nil {
		return err
	}

	if db.Dialector.Name() == "postgres" {
		return db.Exec(
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_no_double_booking
			 ON consultations (scheduled_time)
			 WHERE status = 'scheduled'`,
		).Error
	}
	return nil
}
