package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RumyantsevMichael/triangular-tiler/internal/config"
	"github.com/RumyantsevMichael/triangular-tiler/internal/database"
	"github.com/RumyantsevMichael/triangular-tiler/internal/logger"
	"github.com/RumyantsevMichael/triangular-tiler/internal/server"
	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configFile := flag.String("config", "config/tiler.yaml", "Path to server config YAML file")
	loggingFile := flag.String("logging", "config/logging.yaml", "Path to logging config YAML file")
	tilesFile := flag.String("tiles", "", "Path to tile catalog YAML file (default: from config, then built-in tiles)")
	addr := flag.String("addr", "", "Listen address (default: from config)")
	dbFile := flag.String("db", "", "SQLite file for run history (default: from config, empty disables)")
	flag.Parse()

	// Initialize logger first (before any logging)
	logConfig, err := logger.LoadConfig(*loggingFile)
	if err != nil {
		log.Printf("Failed to load logging config, using defaults: %v", err)
	}
	if err := logger.Initialize(logConfig); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Info("Starting triangle tiler server")

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Warning("Failed to load server config, using defaults", "path", *configFile, "error", err)
	}
	if *tilesFile != "" {
		cfg.Generation.TilesFile = *tilesFile
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}
	if *dbFile != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.SQLitePath = *dbFile
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	palette, err := tiles.LoadPalette(cfg.Generation.TilesFile)
	if err != nil {
		log.Fatalf("Failed to load tiles: %v", err)
	}
	fingerprint := tiles.Fingerprint(palette)
	logger.Info("Palette loaded", "variants", len(palette), "fingerprint", fingerprint)

	srv, err := server.NewServer(cfg, palette)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if cfg.Database.Enabled() {
		dbCfg := cfg.Database.DatabaseConfig()
		db, err := database.OpenWithConfig(dbCfg)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()

		if added, err := db.RegisterPalette(fingerprint, palette.IDs()); err != nil {
			logger.Warning("Failed to register palette", "error", err)
		} else if added {
			logger.Info("New palette registered", "fingerprint", fingerprint)
		}
		if stats, err := db.RunStats(); err == nil {
			logger.Info("Run history opened",
				"store", dbCfg.Describe(),
				"runs", stats.TotalRuns,
				"success_rate", stats.SuccessRate)
		}
		srv.SetRecorder(db)
	} else {
		logger.Info("Run history disabled")
	}

	if len(cfg.Server.AllowedOrigins) == 0 {
		logger.Info("WebSocket CORS policy", "mode", "same-origin")
	} else if len(cfg.Server.AllowedOrigins) == 1 && cfg.Server.AllowedOrigins[0] == "*" {
		logger.Warning("WebSocket CORS allows all origins (not recommended for production)")
	} else {
		logger.Info("WebSocket CORS policy", "allowed_origins", cfg.Server.AllowedOrigins)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("Tiler server running", "address", cfg.Server.Address)
	logger.Info("Press Ctrl+C to shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down server", "signal", sig.String())
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("Server error", "error", serveErr)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Shutdown did not complete", "error", err)
	}
	logger.Info("Server stopped")

	if serveErr != nil {
		os.Exit(1)
	}
}
