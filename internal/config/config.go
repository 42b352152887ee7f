// Package config provides unified configuration for all Lakeline stages.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Mode represents the set of stages to run.
type Mode string

const (
	ModeAll    Mode = "all"
	ModeIngest Mode = "ingest"
	ModeSilver Mode = "silver"
	ModeGold   Mode = "gold"
)

// Config holds the unified configuration for all Lakeline stages.
type Config struct {
	// Mode specifies which stages to run: all, ingest, silver, gold
	Mode Mode `json:"mode" yaml:"mode" env:"LAKELINE_MODE"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir" env:"LAKELINE_DATA_DIR"`

	// RunOnce processes all currently available input once per stage and
	// exits, instead of polling continuously.
	RunOnce bool `json:"run_once" yaml:"run_once" env:"LAKELINE_RUN_ONCE"`

	Dataset    DatasetConfig    `json:"dataset" yaml:"dataset"`
	Replay     ReplayConfig     `json:"replay" yaml:"replay"`
	Bronze     BronzeConfig     `json:"bronze" yaml:"bronze"`
	Silver     SilverConfig     `json:"silver" yaml:"silver"`
	Gold       GoldConfig       `json:"gold" yaml:"gold"`
	Checkpoint CheckpointConfig `json:"checkpoint" yaml:"checkpoint"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	HTTP       HTTPConfig       `json:"http" yaml:"http"`
}

// DatasetConfig locates the pre-generated replay dataset.
type DatasetConfig struct {
	// Path is the dataset file produced by lakeline-seed
	Path string `json:"path" yaml:"path" env:"LAKELINE_DATASET_PATH"`
}

// ReplayConfig holds replay source configuration.
type ReplayConfig struct {
	// Multiplier is the virtual-time multiplier; 1 replays in real time,
	// 3600 compresses one hour of history into one second of wall time.
	Multiplier float64 `json:"multiplier" yaml:"multiplier" env:"LAKELINE_REPLAY_MULTIPLIER"`
}

// BronzeConfig holds bronze log configuration.
type BronzeConfig struct {
	// LogDir is the directory holding bronze log segments
	LogDir string `json:"log_dir" yaml:"log_dir"`

	// MaxSegmentSize is the segment rotation threshold in bytes
	MaxSegmentSize int64 `json:"max_segment_size" yaml:"max_segment_size"`

	// ArchiveSegments uploads sealed segments to object storage when enabled
	ArchiveSegments bool `json:"archive_segments" yaml:"archive_segments"`
}

// RuleConfig maps a quality rule to a severity: warn, drop, or fail.
type RuleConfig struct {
	Name     string `json:"name" yaml:"name"`
	Severity string `json:"severity" yaml:"severity"`
}

// SilverConfig holds silver transformer configuration.
type SilverConfig struct {
	// DBPath is the silver output database file
	DBPath string `json:"db_path" yaml:"db_path"`

	// BatchSize is the maximum bronze records consumed per cycle
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// PollInterval is the delay between transformation cycles
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// Rules overrides the default severity per quality rule
	Rules []RuleConfig `json:"rules" yaml:"rules"`

	// ValidSKUs is the known-good item identifier set for the sku_known
	// rule; empty disables the check.
	ValidSKUs []string `json:"valid_skus" yaml:"valid_skus"`
}

// ViewConfig declares one gold view.
type ViewConfig struct {
	// Name identifies the view
	Name string `json:"name" yaml:"name"`

	// GroupBy lists grouping dimensions: location, brand, day
	GroupBy []string `json:"group_by" yaml:"group_by"`

	// WatermarkLag is the maximum tolerated event-time disorder. Zero with
	// Watermarked=false declares a completeness view that keeps the latest
	// state per key instead of finalizing windows.
	WatermarkLag time.Duration `json:"watermark_lag" yaml:"watermark_lag"`

	// Watermarked controls whether windows are finalized and late rows dropped
	Watermarked bool `json:"watermarked" yaml:"watermarked"`

	// DistinctErrorRate is the target relative standard error for
	// approximate distinct counts
	DistinctErrorRate float64 `json:"distinct_error_rate" yaml:"distinct_error_rate"`
}

// GoldConfig holds gold aggregator configuration.
type GoldConfig struct {
	// DBPath is the gold output and state database file
	DBPath string `json:"db_path" yaml:"db_path"`

	// BatchSize is the maximum silver rows consumed per cycle
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// PollInterval is the delay between aggregation cycles
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// ArchiveWindows uploads finalized windows to object storage when enabled
	ArchiveWindows bool `json:"archive_windows" yaml:"archive_windows"`

	// Views declares the configured gold views
	Views []ViewConfig `json:"views" yaml:"views"`
}

// CheckpointConfig selects and configures the checkpoint store backend.
type CheckpointConfig struct {
	// Backend is one of: sqlite, postgres, redis
	Backend string `json:"backend" yaml:"backend" env:"LAKELINE_CHECKPOINT_BACKEND"`

	// Path is the sqlite database file (sqlite backend)
	Path string `json:"path" yaml:"path"`

	// DSN is the connection string (postgres backend)
	DSN string `json:"dsn" yaml:"dsn" env:"LAKELINE_CHECKPOINT_DSN"`

	// Addr is the server address (redis backend)
	Addr string `json:"addr" yaml:"addr" env:"LAKELINE_CHECKPOINT_ADDR"`
}

// StorageConfig holds object storage configuration for archives.
type StorageConfig struct {
	// Backend is one of: none, local, s3
	Backend string `json:"backend" yaml:"backend" env:"LAKELINE_STORAGE_BACKEND"`

	// Path is the local storage path (local backend)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to every archived object path
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (s3 backend)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket" env:"LAKELINE_S3_BUCKET"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region" env:"LAKELINE_S3_REGION"`

	// Endpoint is the S3 endpoint (for S3-compatible storage like MinIO)
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"LAKELINE_S3_ENDPOINT"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// HTTPConfig holds the operational HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address for health, metrics, and inspection endpoints
	Addr string `json:"addr" yaml:"addr" env:"LAKELINE_HTTP_ADDR"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// ShouldRunIngest reports whether the ingest stage runs in this mode.
func (c *Config) ShouldRunIngest() bool {
	return c.Mode == ModeAll || c.Mode == ModeIngest
}

// ShouldRunSilver reports whether the silver stage runs in this mode.
func (c *Config) ShouldRunSilver() bool {
	return c.Mode == ModeAll || c.Mode == ModeSilver
}

// ShouldRunGold reports whether the gold stage runs in this mode.
func (c *Config) ShouldRunGold() bool {
	return c.Mode == ModeAll || c.Mode == ModeGold
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/lakeline",
		Replay: ReplayConfig{
			Multiplier: 1,
		},
		Bronze: BronzeConfig{
			MaxSegmentSize: 64 * 1024 * 1024,
		},
		Silver: SilverConfig{
			BatchSize:    1000,
			PollInterval: 2 * time.Second,
		},
		Gold: GoldConfig{
			BatchSize:    5000,
			PollInterval: 5 * time.Second,
			Views: []ViewConfig{
				{
					Name:              "revenue_by_location_day",
					GroupBy:           []string{"location", "day"},
					WatermarkLag:      3 * time.Hour,
					Watermarked:       true,
					DistinctErrorRate: 0.02,
				},
				{
					Name:              "revenue_by_brand_day",
					GroupBy:           []string{"brand", "day"},
					WatermarkLag:      3 * time.Hour,
					Watermarked:       true,
					DistinctErrorRate: 0.02,
				},
				{
					Name:        "order_completeness",
					GroupBy:     []string{"order"},
					Watermarked: false,
				},
			},
		},
		Checkpoint: CheckpointConfig{
			Backend: "sqlite",
		},
		Storage: StorageConfig{
			Backend: "none",
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Load reads configuration from an optional file, then applies environment
// overrides. A missing path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if strings.HasSuffix(path, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse JSON config: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse YAML config: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return cfg, nil
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/lakeline"
	}
	if c.Dataset.Path == "" {
		c.Dataset.Path = filepath.Join(c.DataDir, "dataset.db")
	}
	if c.Bronze.LogDir == "" {
		c.Bronze.LogDir = filepath.Join(c.DataDir, "bronze")
	}
	if c.Bronze.MaxSegmentSize <= 0 {
		c.Bronze.MaxSegmentSize = 64 * 1024 * 1024
	}
	if c.Silver.DBPath == "" {
		c.Silver.DBPath = filepath.Join(c.DataDir, "silver.db")
	}
	if c.Gold.DBPath == "" {
		c.Gold.DBPath = filepath.Join(c.DataDir, "gold.db")
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = "sqlite"
	}
	if c.Checkpoint.Backend == "sqlite" && c.Checkpoint.Path == "" {
		c.Checkpoint.Path = filepath.Join(c.DataDir, "checkpoints.db")
	}
	if c.Storage.Backend == "local" && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "archive")
	}
	if c.Silver.BatchSize <= 0 {
		c.Silver.BatchSize = 1000
	}
	if c.Gold.BatchSize <= 0 {
		c.Gold.BatchSize = 5000
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeIngest, ModeSilver, ModeGold:
	default:
		return fmt.Errorf("invalid mode %q: must be all, ingest, silver, or gold", c.Mode)
	}

	if c.Replay.Multiplier <= 0 {
		return fmt.Errorf("replay multiplier must be positive, got %v", c.Replay.Multiplier)
	}

	switch c.Checkpoint.Backend {
	case "sqlite":
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint path is required for the sqlite backend")
		}
	case "postgres":
		if c.Checkpoint.DSN == "" {
			return fmt.Errorf("checkpoint dsn is required for the postgres backend")
		}
	case "redis":
		if c.Checkpoint.Addr == "" {
			return fmt.Errorf("checkpoint addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid checkpoint backend %q: must be sqlite, postgres, or redis", c.Checkpoint.Backend)
	}

	switch c.Storage.Backend {
	case "none", "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("invalid storage backend %q: must be none, local, or s3", c.Storage.Backend)
	}

	for _, rule := range c.Silver.Rules {
		switch rule.Severity {
		case "warn", "drop", "fail":
		default:
			return fmt.Errorf("invalid severity %q for rule %q: must be warn, drop, or fail", rule.Severity, rule.Name)
		}
	}

	names := make(map[string]bool, len(c.Gold.Views))
	for _, view := range c.Gold.Views {
		if view.Name == "" {
			return fmt.Errorf("gold view name is required")
		}
		if names[view.Name] {
			return fmt.Errorf("duplicate gold view name %q", view.Name)
		}
		names[view.Name] = true
		if len(view.GroupBy) == 0 {
			return fmt.Errorf("gold view %q needs at least one grouping dimension", view.Name)
		}
		if view.Watermarked && view.WatermarkLag <= 0 {
			return fmt.Errorf("gold view %q is watermarked but has no watermark lag", view.Name)
		}
		if view.DistinctErrorRate < 0 || view.DistinctErrorRate >= 1 {
			return fmt.Errorf("gold view %q has invalid distinct error rate %v", view.Name, view.DistinctErrorRate)
		}
	}

	return nil
}

// EnsureDirectories creates all directories the configuration references.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Bronze.LogDir,
		filepath.Dir(c.Silver.DBPath),
		filepath.Dir(c.Gold.DBPath),
	}
	if c.Checkpoint.Backend == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Checkpoint.Path))
	}
	if c.Storage.Backend == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
