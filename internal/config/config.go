// Package config loads the etlplanner YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"etlplanner/internal/recurrence"
)

// DefaultDir is the data directory used when none is configured.
const DefaultDir = "~/.etlplanner"

type Config struct {
	DataDir   string      `yaml:"data_dir"`
	Database  string      `yaml:"database"`
	Log       Log         `yaml:"log"`
	Scheduler Scheduler   `yaml:"scheduler"`
	Load      LoadOptions `yaml:"load"`
	Metrics   Metrics     `yaml:"metrics"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type Scheduler struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	AllowOverlap bool          `yaml:"allow_overlap"`
	Recurrence   string        `yaml:"recurrence"`
	// RunTimeout bounds one task run; zero leaves runs unbounded.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// LoadOptions tunes how load steps write to their targets.
type LoadOptions struct {
	AtomicReplace bool `yaml:"atomic_replace"`
}

type Metrics struct {
	Listen      string `yaml:"listen"`
	Pushgateway string `yaml:"pushgateway"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		DataDir:  DefaultDir,
		Database: "etl.db",
		Log:      Log{Level: "info", Format: "text"},
		Scheduler: Scheduler{
			PollInterval: 30 * time.Second,
			AllowOverlap: true,
			Recurrence:   recurrence.ModeMinute,
		},
	}
}

// DefaultPath returns ~/.etlplanner/config.yaml.
func DefaultPath() string {
	return filepath.Join(expandHome(DefaultDir), "config.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(expandHome(path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Log.File = expandHome(cfg.Log.File)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the rest of the program cannot use.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if c.Database == "" {
		return errors.New("config: database is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("config: scheduler.poll_interval must be positive, got %s", c.Scheduler.PollInterval)
	}
	if c.Scheduler.RunTimeout < 0 {
		return fmt.Errorf("config: scheduler.run_timeout must not be negative")
	}
	if _, err := recurrence.New(c.Scheduler.Recurrence); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// DatabasePath is the store location. A relative database is placed in DataDir.
func (c Config) DatabasePath() string {
	db := expandHome(c.Database)
	if filepath.IsAbs(db) {
		return db
	}
	return filepath.Join(c.DataDir, db)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
