// Package main implements the unified lakeline binary.
// This binary can run the whole pipeline (ingest, silver, gold) in one
// process or an individual stage based on the --mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/lakeline/lakeline/internal/app"
	"github.com/lakeline/lakeline/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpAddr    string
		datasetPath string
		multiplier  float64
		runOnce     bool
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "", "Stage mode: all, ingest, silver, gold")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP address for the operational API")
	flag.StringVar(&datasetPath, "dataset", "", "Path to the replay dataset")
	flag.Float64Var(&multiplier, "multiplier", 0, "Virtual-time replay multiplier (1 = real time)")
	flag.BoolVar(&runOnce, "run-once", false, "Drain available input once per stage and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Lakeline - Replayable Bronze/Silver/Gold Event Pipeline\n\n")
		fmt.Fprintf(os.Stderr, "Usage: lakeline [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lakeline --data-dir /data/lakeline\n")
		fmt.Fprintf(os.Stderr, "  lakeline --mode ingest --multiplier 3600\n")
		fmt.Fprintf(os.Stderr, "  lakeline --config /etc/lakeline/config.yaml --run-once\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  LAKELINE_MODE                Stage mode (all, ingest, silver, gold)\n")
		fmt.Fprintf(os.Stderr, "  LAKELINE_DATA_DIR            Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  LAKELINE_HTTP_ADDR           Operational API address\n")
		fmt.Fprintf(os.Stderr, "  LAKELINE_REPLAY_MULTIPLIER   Virtual-time multiplier\n")
		fmt.Fprintf(os.Stderr, "  LAKELINE_CHECKPOINT_BACKEND  Checkpoint backend (sqlite, postgres, redis)\n")
		fmt.Fprintf(os.Stderr, "  LAKELINE_STORAGE_BACKEND     Archive storage backend (none, local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("lakeline version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override file and environment.
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if datasetPath != "" {
		cfg.Dataset.Path = datasetPath
	}
	if multiplier > 0 {
		cfg.Replay.Multiplier = multiplier
	}
	if runOnce {
		cfg.RunOnce = true
	}

	application, err := app.New(cfg, version)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}
}
