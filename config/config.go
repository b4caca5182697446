// Package config reads ersdb settings from TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Storage StorageConfig `toml:"storage"`
	ERS     ERSConfig     `toml:"ers"`
	Cache   CacheConfig   `toml:"cache"`
	Log     LogConfig     `toml:"log"`
}

type StorageConfig struct {
	// Backend is a kv provider id: mem, bolt or badger.
	Backend     string   `toml:"backend"`
	Path        string   `toml:"path"`
	MmapSize    int      `toml:"mmap_size"`
	LockTimeout Duration `toml:"lock_timeout"`
	TrackStacks bool     `toml:"track_stacks"`
}

type ERSConfig struct {
	Provider string `toml:"provider"`
	// Checked wraps transactions with the recomputing and checked decorators.
	Checked  bool `toml:"checked"`
	Attempts int  `toml:"attempts"`
}

type CacheConfig struct {
	Provider   string   `toml:"provider"`
	Size       int      `toml:"size"`
	ValueRef   string   `toml:"value_ref"`
	Expiration Duration `toml:"expiration"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a string like "10s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "~/.ersdb/config.toml"

func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:     "bolt",
			Path:        "~/.ersdb/ers.db",
			LockTimeout: Duration{10 * time.Second},
		},
		ERS: ERSConfig{
			Provider: "kv",
			Checked:  true,
			Attempts: 10,
		},
		Cache: CacheConfig{
			Provider: "lru",
			Size:     4096,
			ValueRef: "strong",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML file over the defaults. With an empty path it reads
// DefaultPath if that exists and returns the defaults otherwise.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = ExpandHome(DefaultPath)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config: unknown key %q", undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "mem":
	case "bolt", "badger":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage.path is required for %s", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("config: unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("config: cache.size must be positive, got %d", c.Cache.Size)
	}
	if c.ERS.Attempts < 1 {
		return fmt.Errorf("config: ers.attempts must be at least 1, got %d", c.ERS.Attempts)
	}
	return nil
}

// Write saves the config as TOML.
func (c *Config) Write(path string) error {
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
