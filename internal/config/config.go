// Package config loads the mailfold run configuration from a TOML file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// StoreConfig locates the local message database.
type StoreConfig struct {
	Path string `toml:"path"` // SQLite file (default: mailfold.db)
}

// GmailConfig holds remote client settings.
type GmailConfig struct {
	AuthDir  string `toml:"auth_dir"`  // gmailctl credential directory (default: $HOME/.gmailctl)
	RPS      int    `toml:"rps"`       // max requests per second (default: 4)
	PageSize int    `toml:"page_size"` // list page size, <= 500 (default: 500)
}

// SyncConfig tunes the ingestion pipeline.
type SyncConfig struct {
	Workers int `toml:"workers"` // concurrent metadata fetches (default: 5)
}

// ApplyConfig tunes the action executor.
type ApplyConfig struct {
	Workers int    `toml:"workers"` // concurrent per-record actions (default: 1)
	Rules   string `toml:"rules"`   // rules JSON file (default: rules.json)
}

// Config is the full run configuration.
type Config struct {
	Store StoreConfig `toml:"store"`
	Gmail GmailConfig `toml:"gmail"`
	Sync  SyncConfig  `toml:"sync"`
	Apply ApplyConfig `toml:"apply"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Store: StoreConfig{Path: "mailfold.db"},
		Gmail: GmailConfig{AuthDir: os.ExpandEnv("$HOME/.gmailctl"), RPS: 4, PageSize: 500},
		Sync:  SyncConfig{Workers: 5},
		Apply: ApplyConfig{Workers: 1, Rules: "rules.json"},
	}
}

// Load reads path if it exists and overlays it on the defaults. A missing
// file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Gmail.PageSize < 0 || c.Gmail.PageSize > 500 {
		return fmt.Errorf("gmail.page_size must be in [1,500], got %d", c.Gmail.PageSize)
	}
	if c.Sync.Workers < 0 {
		return fmt.Errorf("sync.workers must be positive, got %d", c.Sync.Workers)
	}
	if c.Apply.Workers < 0 {
		return fmt.Errorf("apply.workers must be positive, got %d", c.Apply.Workers)
	}
	return nil
}
