// migrate-to-postgres copies run history from SQLite to PostgreSQL.
//
// Usage:
//
//	go run ./cmd/migrate-to-postgres \
//	    -sqlite data/runs.db \
//	    -pg-host localhost \
//	    -pg-port 5432 \
//	    -pg-user tiler \
//	    -pg-password tiler \
//	    -pg-database tiler
package main

import (
	"flag"
	"log"

	"github.com/RumyantsevMichael/triangular-tiler/internal/database"
	"github.com/RumyantsevMichael/triangular-tiler/internal/logger"
)

func main() {
	sqlitePath := flag.String("sqlite", "data/runs.db", "Path to SQLite database")
	pgHost := flag.String("pg-host", "localhost", "PostgreSQL host")
	pgPort := flag.Int("pg-port", 5432, "PostgreSQL port")
	pgUser := flag.String("pg-user", "tiler", "PostgreSQL user")
	pgPassword := flag.String("pg-password", "tiler", "PostgreSQL password")
	pgDatabase := flag.String("pg-database", "tiler", "PostgreSQL database name")
	pgSSLMode := flag.String("pg-sslmode", "disable", "PostgreSQL SSL mode")
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	flag.Parse()

	if err := logger.Initialize(logger.DefaultConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	log.Println("SQLite to PostgreSQL Migration Tool")
	log.Println("====================================")

	log.Printf("Opening SQLite database: %s", *sqlitePath)
	src, err := database.Open(*sqlitePath)
	if err != nil {
		log.Fatalf("Failed to open SQLite database: %v", err)
	}
	defer src.Close()

	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = *pgHost
	pgCfg.Port = *pgPort
	pgCfg.User = *pgUser
	pgCfg.Password = *pgPassword
	pgCfg.Database = *pgDatabase
	pgCfg.SSLMode = *pgSSLMode

	// Opening runs the schema migrations on PostgreSQL
	dstCfg := database.Config{Driver: "postgres", Postgres: pgCfg}
	log.Printf("Opening PostgreSQL database: %s", dstCfg.Describe())
	dst, err := database.OpenWithConfig(dstCfg)
	if err != nil {
		log.Fatalf("Failed to open PostgreSQL database: %v", err)
	}
	defer dst.Close()

	if *dryRun {
		log.Println("DRY RUN MODE - No changes will be made")
	}

	result, err := database.CopyHistory(src, dst, *dryRun)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("")
	log.Println("Migration Summary")
	log.Println("=================")
	log.Printf("Palettes:  %d", result.Palettes)
	log.Printf("Runs:      %d", result.Runs)
	if *dryRun {
		log.Println("Dry run complete - rerun without -dry-run to apply")
	} else {
		log.Println("Migration complete")
	}
}
