// Package config loads this service's TOML configuration, following
// the environment-variable-override convention the teacher applies to
// its own flat env-based config (here layered on top of a TOML file
// instead of being the sole source, since this service's shape — named
// provider tables, nested cache settings — doesn't fit flat env vars
// the way the teacher's handful of scalar settings did).
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Server holds the listen address and the three token-signing
// secrets.
type Server struct {
	Name       string `toml:"name"`
	Listen     string `toml:"listen"`
	SignKey    string `toml:"sign_key"`
	ShareKey   string `toml:"share_key"`
	ShareKeyID string `toml:"share_key_id"`
	AdminToken string `toml:"admin_token"`
}

// Cache configures a provider's on-disk cache. MaxSize of 0 means
// unbounded.
type Cache struct {
	Root    string `toml:"root"`
	MaxSize uint64 `toml:"max_size"`
}

// Provider configures one named backend in the priority chain.
type Provider struct {
	Type     string `toml:"type"` // "file" | "drive"
	Priority int32  `toml:"priority"`
	Cache    *Cache `toml:"cache"`

	// file-specific
	Root   string `toml:"root"`
	Strict bool   `toml:"strict"`
	Layer  uint8  `toml:"layer"` // max directory depth searched below root; 0 means use the provider default

	// drive-specific
	Corpora   string `toml:"corpora"`
	DriveID   string `toml:"drive_id"`
	TokenPath string `toml:"token_path"`
}

// Metadata configures the optional Postgres-backed metadata resolver.
// When DSN is empty, callers fall back to a resolver with no external
// dependency (see cmd/annexd for the fallback wiring).
type Metadata struct {
	DSN string `toml:"dsn"`
}

// Discovery configures the optional mDNS advertisement of this
// instance for federated discovery. Disabled by default.
type Discovery struct {
	Enabled bool   `toml:"enabled"`
	Name    string `toml:"name"`
}

// Log configures structured logging output.
type Log struct {
	Level  string `toml:"level"` // debug | info | warn | error
	Format string `toml:"format"` // json | text
}

// Config is the parsed top-level document.
type Config struct {
	Server    Server              `toml:"server"`
	Metadata  Metadata            `toml:"metadata"`
	Providers map[string]Provider `toml:"providers"`
	Discovery Discovery           `toml:"discovery"`
	Log       Log                 `toml:"log"`
}

// Load reads and parses the TOML file at path, then applies ANNEX_*
// environment overrides for the sign key, share key, admin token,
// listen address and metadata DSN — the settings operators most often
// inject via the environment instead of a checked-in file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANNEX_SIGN_KEY"); v != "" {
		cfg.Server.SignKey = v
	}
	if v := os.Getenv("ANNEX_SHARE_KEY"); v != "" {
		cfg.Server.ShareKey = v
	}
	if v := os.Getenv("ANNEX_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("ANNEX_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("ANNEX_METADATA_DSN"); v != "" {
		cfg.Metadata.DSN = v
	}
}
