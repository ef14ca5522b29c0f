// Package main implements the logtide binary: a batch log ingestion
// service with per-client rate limiting and asynchronous persistence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/logtide/logtide/internal/app"
	"github.com/logtide/logtide/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		addr        string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&addr, "addr", "", "HTTP listen address")
	flag.StringVar(&logLevel, "log-level", "", "Minimum log level (trace, debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "logtide - batch log ingestion service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: logtide [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  logtide --data-dir /var/lib/logtide\n")
		fmt.Fprintf(os.Stderr, "  logtide --config /etc/logtide/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment variables use the LOGTIDE_ prefix, e.g.\n")
		fmt.Fprintf(os.Stderr, "  LOGTIDE_SERVER_ADDR, LOGTIDE_DATA_DIR, LOGTIDE_LOG_LEVEL\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("logtide version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// A .env file is optional; environment wins over it either way.
	godotenv.Load()

	cfg, err := loadConfig(configFile, dataDir, addr, logLevel)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig layers file, environment, then flags, highest last.
func loadConfig(configFile, dataDir, addr, logLevel string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	return cfg, nil
}
