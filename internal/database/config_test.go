package database

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/path/to/runs.db")
	if cfg.Driver != "sqlite" || cfg.SQLitePath != "/path/to/runs.db" {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}

	pg := DefaultPostgresConfig()
	if pg.Host != "localhost" || pg.Port != 5432 || pg.SSLMode != "disable" {
		t.Errorf("DefaultPostgresConfig() connection = %+v", pg)
	}
	if pg.MaxOpenConns != 25 || pg.MaxIdleConns != 5 || pg.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("DefaultPostgresConfig() pool = %+v", pg)
	}
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  PostgresConfig
		want string
	}{
		{
			name: "plain values",
			cfg:  PostgresConfig{Host: "db", Port: 5432, User: "tiler", Password: "secret", Database: "runs", SSLMode: "disable"},
			want: "host=db port=5432 user=tiler password=secret dbname=runs sslmode=disable",
		},
		{
			name: "empty settings left out",
			cfg:  PostgresConfig{Host: "db", Database: "runs"},
			want: "host=db dbname=runs",
		},
		{
			name: "quoted password",
			cfg:  PostgresConfig{Host: "db", Password: `it's a \ pass`},
			want: `host=db password='it\'s a \\ pass'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDescribe(t *testing.T) {
	if got := DefaultConfig("data/runs.db").Describe(); got != "sqlite:data/runs.db" {
		t.Errorf("sqlite Describe() = %q", got)
	}

	pg := DefaultPostgresConfig()
	pg.User = "tiler"
	pg.Password = "hunter2"
	pg.Database = "runs"
	got := Config{Driver: "postgres", Postgres: pg}.Describe()
	if got != "postgres://tiler@localhost:5432/runs" {
		t.Errorf("postgres Describe() = %q", got)
	}
	if strings.Contains(got, "hunter2") {
		t.Error("Describe() leaked the password")
	}
}

func TestConfigDataSource(t *testing.T) {
	if _, err := DefaultConfig("").dataSource(); !errors.Is(err, errEmptySQLitePath) {
		t.Errorf("dataSource() with empty path error = %v", err)
	}

	dsn, err := Config{Driver: "postgres", Postgres: PostgresConfig{Host: "db"}}.dataSource()
	if err != nil || dsn != "host=db" {
		t.Errorf("postgres dataSource() = %q, %v", dsn, err)
	}
}
