package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/envelopes-dev/envelopes/internal/bankfeed"
	"github.com/envelopes-dev/envelopes/internal/matcher"
	"github.com/envelopes-dev/envelopes/internal/model"
)

// FileName is the config file at the root of a data directory.
const FileName = "envelopes.yaml"

// Storage backends.
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

// Config represents the top-level envelopes.yaml configuration.
type Config struct {
	UserID          string                `yaml:"user_id"`
	Storage         StorageConfig         `yaml:"storage"`
	Sync            SyncConfig            `yaml:"sync"`
	BankConnections []bankfeed.Connection `yaml:"bank_connections,omitempty"`
	Log             LogConfig             `yaml:"log"`
	Git             GitConfig             `yaml:"git"`
	Server          ServerConfig          `yaml:"server"`
}

// StorageConfig selects the persistence backend. Path is relative to the
// data directory.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// SyncConfig tunes duplicate detection and scheduled bank syncs.
// Similarity is "levenshtein" (the default) or "exact".
type SyncConfig struct {
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
	DateWindowDays     int     `yaml:"date_window_days"`
	AmountTolerance    string  `yaml:"amount_tolerance"`
	Similarity         string  `yaml:"similarity,omitempty"`
	Schedule           string  `yaml:"schedule,omitempty"` // cron spec, e.g. "@every 15m"
	FeedDir            string  `yaml:"feed_dir"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// GitConfig controls git integration.
type GitConfig struct {
	AutoCommit  bool   `yaml:"auto_commit"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads an envelopes.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadDir reads envelopes.yaml from a data directory.
func LoadDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new project.
func Default(userID string) *Config {
	return &Config{
		UserID: userID,
		Storage: StorageConfig{
			Backend: BackendCSV,
			Path:    "data",
		},
		Sync: SyncConfig{
			DuplicateThreshold: 0.9,
			DateWindowDays:     2,
			AmountTolerance:    "0.01",
			FeedDir:            "feeds",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Git: GitConfig{
			AutoCommit:  true,
			AuthorName:  "Envelopes",
			AuthorEmail: "envelopes@localhost",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	switch c.Storage.Backend {
	case "", BackendCSV, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Sync.DuplicateThreshold < 0 || c.Sync.DuplicateThreshold > 1 {
		return fmt.Errorf("sync.duplicate_threshold %v out of range [0,1]", c.Sync.DuplicateThreshold)
	}
	if c.Sync.DateWindowDays < 0 {
		return fmt.Errorf("sync.date_window_days must not be negative")
	}
	if _, err := c.MatcherOptions(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, conn := range c.BankConnections {
		if conn.ID == "" {
			return fmt.Errorf("bank connection %q has no id", conn.Name)
		}
		if seen[conn.ID] {
			return fmt.Errorf("duplicate bank connection %q", conn.ID)
		}
		seen[conn.ID] = true
	}
	return nil
}

func (c *Config) tolerance() (decimal.Decimal, error) {
	if c.Sync.AmountTolerance == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(c.Sync.AmountTolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sync.amount_tolerance %q: %w", c.Sync.AmountTolerance, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("sync.amount_tolerance must be positive; omit it for the default %s", model.Epsilon.StringFixed(2))
	}
	return d, nil
}

// MatcherOptions converts the sync section into duplicate matcher options.
// Omitted values fall back to the matcher defaults.
func (c *Config) MatcherOptions() (matcher.Options, error) {
	tol, err := c.tolerance()
	if err != nil {
		return matcher.Options{}, err
	}
	sim, err := matcher.SimilarityByName(c.Sync.Similarity)
	if err != nil {
		return matcher.Options{}, fmt.Errorf("sync.similarity: %w", err)
	}
	return matcher.Options{
		Threshold:       c.Sync.DuplicateThreshold,
		DateWindowDays:  c.Sync.DateWindowDays,
		AmountTolerance: tol,
		Similarity:      sim,
	}, nil
}

// StoragePath resolves the storage path against the data directory.
func (c *Config) StoragePath(dir string) string {
	p := c.Storage.Path
	if p == "" {
		p = "data"
		if c.Storage.Backend == BackendSQLite {
			p = "envelopes.db"
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// FeedPath resolves the bank feed directory against the data directory.
func (c *Config) FeedPath(dir string) string {
	p := c.Sync.FeedDir
	if p == "" {
		p = "feeds"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
