package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errEmptySQLitePath = errors.New("sqlite database path is empty")

// Config selects where run history is stored.
type Config struct {
	// Driver is "sqlite" or "postgres". Anything else is treated as sqlite.
	Driver string

	SQLitePath string

	Postgres PostgresConfig
}

// PostgresConfig holds the PostgreSQL connection and pool settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Zero leaves the database/sql default in place
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a Config recording history in the SQLite file at path.
func DefaultConfig(sqlitePath string) Config {
	return Config{
		Driver:     string(DialectSQLite),
		SQLitePath: sqlitePath,
	}
}

// DefaultPostgresConfig returns PostgresConfig with recommended pool settings.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func (c Config) dialect() Dialect {
	return NewDialect(DialectType(c.Driver))
}

// dataSource returns the sql.Open data source name for the configured driver.
func (c Config) dataSource() (string, error) {
	if _, ok := c.dialect().(*PostgresDialect); ok {
		return c.Postgres.DSN(), nil
	}
	if c.SQLitePath == "" {
		return "", errEmptySQLitePath
	}
	return c.SQLitePath, nil
}

// applyPool sizes the connection pool. SQLite PRAGMAs are per connection, so
// it is held to one.
func (c Config) applyPool(db *sql.DB) {
	if _, ok := c.dialect().(*PostgresDialect); !ok {
		db.SetMaxOpenConns(1)
		return
	}

	pg := c.Postgres
	if pg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pg.MaxOpenConns)
	}
	if pg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pg.MaxIdleConns)
	}
	if pg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pg.ConnMaxLifetime)
	}
}

// Describe names the history store for logs. The password is never included.
func (c Config) Describe() string {
	if _, ok := c.dialect().(*PostgresDialect); ok {
		pg := c.Postgres
		return fmt.Sprintf("postgres://%s@%s:%d/%s", pg.User, pg.Host, pg.Port, pg.Database)
	}
	return "sqlite:" + c.SQLitePath
}

// DSN renders the settings as a lib/pq key=value connection string. Empty
// settings are left out so the driver applies its own defaults.
func (p PostgresConfig) DSN() string {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+quoteDSNValue(value))
		}
	}

	add("host", p.Host)
	if p.Port > 0 {
		add("port", strconv.Itoa(p.Port))
	}
	add("user", p.User)
	add("password", p.Password)
	add("dbname", p.Database)
	add("sslmode", p.SSLMode)

	return strings.Join(parts, " ")
}

// quoteDSNValue single-quotes values holding spaces, quotes or backslashes.
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}
