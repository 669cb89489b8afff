package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"transcribe_gateway/internal/models"
)

// DB wraps the database connection and provides health checks
type DB struct {
	conn *sqlx.DB

	// Teams are read on every resolve; cache them briefly
	teamCache *LRUCache[*models.Team]
}

// DBConfig holds database configuration
type DBConfig struct {
	DSN string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Cache settings
	TeamCacheSize int
	TeamCacheTTL  time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() DBConfig {
	return DBConfig{
		DSN: "host=localhost port=5432 dbname=transcribe user=postgres sslmode=disable",

		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		TeamCacheSize: 1000,
		TeamCacheTTL:  30 * time.Second,
	}
}

// NewDB creates a new database connection with caching
func NewDB(cfg DBConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	conn, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return NewDBFromConn(conn, cfg.TeamCacheSize, cfg.TeamCacheTTL), nil
}

// NewDBFromConn wraps an existing connection (used by tests with sqlmock).
func NewDBFromConn(conn *sqlx.DB, teamCacheSize int, teamCacheTTL time.Duration) *DB {
	if teamCacheSize <= 0 {
		teamCacheSize = 1
	}
	return &DB{
		conn:      conn,
		teamCache: NewLRUCache[*models.Team](teamCacheSize, teamCacheTTL),
	}
}

// Close closes the database connection and clears caches
func (db *DB) Close() error {
	db.teamCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// DBStats reports pool and cache statistics
type DBStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration

	TeamCacheStats CacheStats
}

// GetStats returns current database and cache statistics
func (db *DB) GetStats() DBStats {
	stats := db.conn.Stats()

	return DBStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,

		TeamCacheStats: db.teamCache.GetStats(),
	}
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Conn returns the underlying sqlx connection
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// CleanupExpiredCacheEntries removes expired entries from the caches
func (db *DB) CleanupExpiredCacheEntries() int {
	return db.teamCache.CleanupExpired()
}

// Repository factory methods

// NewAccountRepository creates a new account repository
func (db *DB) NewAccountRepository() *AccountRepository {
	return NewAccountRepository(db)
}

// NewTeamRepository creates a new team repository
func (db *DB) NewTeamRepository() *TeamRepository {
	return NewTeamRepository(db)
}

// NewProjectRepository creates a new project repository
func (db *DB) NewProjectRepository() *ProjectRepository {
	return NewProjectRepository(db)
}

// NewTeamUsageRepository creates a new team usage repository
func (db *DB) NewTeamUsageRepository() *TeamUsageRepository {
	return NewTeamUsageRepository(db)
}

// NewPreferenceRepository creates a new preference repository
func (db *DB) NewPreferenceRepository() *PreferenceRepository {
	return NewPreferenceRepository(db)
}

// NewJobRepository creates a new job repository
func (db *DB) NewJobRepository() *JobRepository {
	return NewJobRepository(db)
}

// NewSettlementRepository creates a new settlement repository
func (db *DB) NewSettlementRepository() *SettlementRepository {
	return NewSettlementRepository(db)
}
