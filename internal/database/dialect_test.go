package database

import (
	"errors"
	"testing"
)

func TestNewDialect(t *testing.T) {
	if _, ok := NewDialect(DialectSQLite).(*SQLiteDialect); !ok {
		t.Error("NewDialect(sqlite) is not *SQLiteDialect")
	}
	if _, ok := NewDialect(DialectPostgres).(*PostgresDialect); !ok {
		t.Error("NewDialect(postgres) is not *PostgresDialect")
	}
	// Unknown and empty drivers fall back to SQLite
	for _, name := range []DialectType{"", "unknown"} {
		if _, ok := NewDialect(name).(*SQLiteDialect); !ok {
			t.Errorf("NewDialect(%q) did not default to SQLite", name)
		}
	}
}

func TestDialectBasics(t *testing.T) {
	tests := []struct {
		dialect    Dialect
		driver     string
		lastInsert bool
		returning  string
		primaryKey string
		third      string
	}{
		{&SQLiteDialect{}, "sqlite", true, "", "INTEGER PRIMARY KEY AUTOINCREMENT", "?"},
		{&PostgresDialect{}, "postgres", false, " RETURNING id", "BIGSERIAL PRIMARY KEY", "$3"},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d := tt.dialect
			if got := d.DriverName(); got != tt.driver {
				t.Errorf("DriverName() = %q, want %q", got, tt.driver)
			}
			if got := d.SupportsLastInsertID(); got != tt.lastInsert {
				t.Errorf("SupportsLastInsertID() = %v, want %v", got, tt.lastInsert)
			}
			if got := d.ReturningClause("id"); got != tt.returning {
				t.Errorf("ReturningClause(id) = %q, want %q", got, tt.returning)
			}
			if got := d.AutoIncrementPrimaryKey(); got != tt.primaryKey {
				t.Errorf("AutoIncrementPrimaryKey() = %q, want %q", got, tt.primaryKey)
			}
			if got := d.Placeholder(3); got != tt.third {
				t.Errorf("Placeholder(3) = %q, want %q", got, tt.third)
			}
		})
	}
}

func TestDialectInitStatements(t *testing.T) {
	sqlite := (&SQLiteDialect{}).InitStatements()
	want := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	if len(sqlite) != len(want) {
		t.Fatalf("SQLite InitStatements() = %v, want %v", sqlite, want)
	}
	for i := range want {
		if sqlite[i] != want[i] {
			t.Errorf("SQLite InitStatements()[%d] = %q, want %q", i, sqlite[i], want[i])
		}
	}

	pg := (&PostgresDialect{}).InitStatements()
	if len(pg) != 1 || pg[0] != "SET TIME ZONE 'UTC'" {
		t.Errorf("Postgres InitStatements() = %v", pg)
	}
}

func TestIsDuplicateKeyError(t *testing.T) {
	tests := []struct {
		dialect Dialect
		err     error
		want    bool
	}{
		{&SQLiteDialect{}, nil, false},
		{&SQLiteDialect{}, errors.New("some random error"), false},
		{&SQLiteDialect{}, errors.New("UNIQUE constraint failed: palettes.fingerprint"), true},
		{&SQLiteDialect{}, errors.New("constraint failed: UNIQUE constraint failed: palettes.fingerprint (1555)"), true},
		{&PostgresDialect{}, nil, false},
		{&PostgresDialect{}, errors.New("duplicate key value violates unique constraint \"palettes_pkey\""), true},
		{&PostgresDialect{}, errors.New("ERROR: duplicate key value (SQLSTATE 23505)"), true},
		{&PostgresDialect{}, errors.New("foreign key constraint"), false},
	}
	for _, tt := range tests {
		if got := tt.dialect.IsDuplicateKeyError(tt.err); got != tt.want {
			t.Errorf("%s IsDuplicateKeyError(%v) = %v, want %v", tt.dialect.DriverName(), tt.err, got, tt.want)
		}
	}
}
