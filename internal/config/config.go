package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFile        = "config.toml"
	DefaultDatabaseURL = "sqlite://./app.sqlite"
	EnvDatabaseURL     = "DATABASE_URL"
)

type Config struct {
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Auth     AuthConfig     `toml:"auth" yaml:"auth"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Audit    AuditConfig    `toml:"audit" yaml:"audit"`
	Trace    TraceConfig    `toml:"trace" yaml:"trace"`
	Limits   LimitsConfig   `toml:"limits" yaml:"limits"`

	// Source is the file the config was read from, empty for defaults.
	Source string `toml:"-" yaml:"-"`
}

type DatabaseConfig struct {
	URL           string `toml:"url" yaml:"url"`
	MaxOpenConns  int    `toml:"max_open_conns" yaml:"max_open_conns"`
	BusyTimeoutMs int    `toml:"busy_timeout_ms" yaml:"busy_timeout_ms"`
	Migrate       bool   `toml:"migrate" yaml:"migrate"`
}

type ServerConfig struct {
	HTTPAddr string `toml:"http_addr" yaml:"http_addr"`
}

type AuthConfig struct {
	JWTSecret      string   `toml:"jwt_secret" yaml:"jwt_secret"`
	TokenExpiryMin int      `toml:"token_expiry_min" yaml:"token_expiry_min"`
	APIKeyHashes   []string `toml:"api_key_hashes" yaml:"api_key_hashes"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`   // debug, info, warn, error
	Format string `toml:"format" yaml:"format"` // text or json
}

type AuditConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

type TraceConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
	SlowMs  int  `toml:"slow_ms" yaml:"slow_ms"`
}

type LimitsConfig struct {
	MaxRows int `toml:"max_rows" yaml:"max_rows"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:           DefaultDatabaseURL,
			MaxOpenConns:  5,
			BusyTimeoutMs: 5000,
			Migrate:       true,
		},
		Server: ServerConfig{
			HTTPAddr: ":8080",
		},
		Auth: AuthConfig{
			TokenExpiryMin: 1440, // 24h
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Trace: TraceConfig{
			SlowMs: 100,
		},
		Limits: LimitsConfig{
			MaxRows: 1000,
		},
	}
}

// Load reads path, or discovers a config file when path is empty:
// ./config.toml, then config.toml next to the executable. Without a file the
// defaults apply. DATABASE_URL overrides database.url in every case.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = discover()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if path != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.Source = path
	}
	if url := os.Getenv(EnvDatabaseURL); url != "" {
		cfg.Database.URL = url
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func discover() string {
	candidates := []string{DefaultFile}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), DefaultFile))
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c
		}
	}
	return ""
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url must not be empty")
	}
	if c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("database.max_open_conns must not be negative")
	}
	if c.Limits.MaxRows < 0 {
		return fmt.Errorf("limits.max_rows must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level)
	}
	return nil
}
