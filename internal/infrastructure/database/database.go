package database

import (
	"strings"

	"coinvest-backend/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens a GORM DB from DSN. Postgres URLs go through the pgx driver; "file:" and
// ":memory:" DSNs open an embedded SQLite database for local runs.
// PreferSimpleProtocol disables prepared statement caching to avoid 42P05
// ("prepared statement already exists") when using connection poolers (e.g. PgBouncer, Supabase, Render).
func Open(dsn string) (*gorm.DB, error) {
	if IsSQLite(dsn) {
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		// SQLite has no row locks; a single connection serializes ledger transactions.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
}

// IsSQLite reports whether dsn targets the embedded driver.
func IsSQLite(dsn string) bool {
	return strings.HasPrefix(dsn, "file:") || dsn == ":memory:" || strings.HasSuffix(dsn, ".db")
}

// Models lists every table owned by the engine.
func Models() []interface{} {
	return []interface{}{
		&domain.Pool{},
		&domain.Position{},
		&domain.Charge{},
		&domain.Distribution{},
	}
}

// AutoMigrate runs migrations for the pool ledger.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
