package storage

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"transcribe_gateway/internal/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// Migrator applies the embedded schema migrations with goose.
type Migrator struct {
	db     *DB
	logger *utils.Logger
}

// NewMigrator returns a migrator bound to db.
func NewMigrator(db *DB) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("nil database provided")
	}
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("configure goose: %w", err)
	}
	return &Migrator{db: db, logger: utils.NewLogger("migrate")}, nil
}

// Up applies pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	m.logger.Info("Applying migrations")
	if err := goose.UpContext(runCtx, m.db.conn.DB, migrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.logger.Info("Migrations applied")
	return nil
}

// Down rolls back the latest migration, or down to targetVersion when it is positive.
func (m *Migrator) Down(ctx context.Context, targetVersion int64) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if targetVersion > 0 {
		m.logger.Info("Rolling back migrations", "target", targetVersion)
		if err := goose.DownToContext(runCtx, m.db.conn.DB, migrationsDir, targetVersion); err != nil {
			return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
		}
		return nil
	}

	m.logger.Info("Rolling back latest migration")
	if err := goose.DownContext(runCtx, m.db.conn.DB, migrationsDir); err != nil {
		return fmt.Errorf("rollback latest migration: %w", err)
	}
	return nil
}

// Status logs applied and pending migrations.
func (m *Migrator) Status(ctx context.Context) error {
	if err := goose.StatusContext(ctx, m.db.conn.DB, migrationsDir); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return nil
}

// Version returns the current schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	v, err := goose.GetDBVersionContext(ctx, m.db.conn.DB)
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	return v, nil
}
