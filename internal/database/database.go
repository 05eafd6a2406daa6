// Package database records generation run history in SQLite or PostgreSQL.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/RumyantsevMichael/triangular-tiler/internal/logger"
)

// Database wraps the SQL connection and provides run history operations.
type Database struct {
	db      *sql.DB
	dialect Dialect
	qb      *QueryBuilder
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*Database, error) {
	return OpenWithConfig(DefaultConfig(path))
}

// OpenWithConfig opens the database selected by cfg.Driver and runs migrations.
func OpenWithConfig(cfg Config) (*Database, error) {
	dialect := cfg.dialect()

	dsn, err := cfg.dataSource()
	if err != nil {
		return nil, err
	}
	if _, ok := dialect.(*SQLiteDialect); ok {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	cfg.applyPool(db)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Describe(), err)
	}

	for _, stmt := range dialect.InitStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init statement %q failed: %w", stmt, err)
		}
	}

	d := &Database{db: db, dialect: dialect, qb: NewQueryBuilder(dialect)}

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Run history database ready", "store", cfg.Describe())
	return d, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// migrate creates the database schema if it doesn't exist.
func (d *Database) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS palettes (
			fingerprint TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			tile_ids TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS generation_runs (
			id ` + d.dialect.AutoIncrementPrimaryKey() + `,
			seed BIGINT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			max_attempts INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			palette_fingerprint TEXT NOT NULL,
			palette_size INTEGER NOT NULL,
			tile_count INTEGER NOT NULL,
			succeeded BOOLEAN NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_generation_runs_created_at ON generation_runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_generation_runs_fingerprint ON generation_runs(palette_fingerprint)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// DB returns the underlying sql.DB for advanced operations.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Dialect returns the SQL dialect in use.
func (d *Database) Dialect() Dialect {
	return d.dialect
}
