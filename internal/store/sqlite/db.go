package sqlite

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nulzo/inference-gateway/internal/store"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NewSQLiteStorage opens dsn and brings the schema up to date. A typical dsn is
// "file:gateway.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000"; ":memory:" works
// for tests.
func NewSQLiteStorage(dsn string, log *zap.Logger) (store.Repository, error) {
	db, err := open(dsn)
	if err != nil {
		return nil, err
	}

	m, err := newMigrator(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		_ = db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		_ = db.Close()
		return nil, fmt.Errorf("schema version %d is dirty, fix it manually before starting", version)
	}

	log.Debug("Database schema ready", zap.String("driver", "sqlite3"), zap.Uint("version", version))
	return NewSqliteRepository(db), nil
}

// Reset drops every table and re-applies all migrations. Used by the seed command.
func Reset(dsn string) error {
	db, err := open(dsn)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("failed to recreate schema: %w", err)
	}
	return nil
}

func open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}
	// sqlite serializes writers; one connection also keeps ":memory:" databases alive
	db.SetMaxOpenConns(1)
	return db, nil
}

func newMigrator(db *sqlx.DB) (*migrate.Migrate, error) {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare migration driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "sqlite3", driver)
}
