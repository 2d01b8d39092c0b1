package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	// DefaultTokenTTL is the lifetime of an issued auth token.
	DefaultTokenTTL = time.Minute

	// DefaultSweepInterval is how often the expiry sweeper scans wallet records.
	DefaultSweepInterval = 5 * time.Minute
)

// Config is the configuration for the multitoken server core.
type Config struct {
	LogLevel  string `hcl:"log_level,optional"`
	LogFormat string `hcl:"log_format,optional"`
	LogFile   string `hcl:"log_file,optional"`

	// SigningSecret is the process-wide symmetric secret used to sign
	// auth tokens. Required; never defaulted.
	SigningSecret string `hcl:"signing_secret"`

	// TokenTTL is the auth token lifetime as a duration string ("60s", "5m").
	TokenTTL string `hcl:"token_ttl,optional"`

	// Manager selects the multitenant manager implementation: "basic" or "cached".
	Manager string `hcl:"manager,optional"`

	// SweepInterval controls the background pruning of expired issuance
	// entries. "0" disables the sweeper.
	SweepInterval string `hcl:"sweep_interval,optional"`

	Storage *StorageBlock `hcl:"storage,block"`
}

type StorageBlock struct {
	Type string `hcl:"type,label"` // "inmem", "file", or "postgres"

	// File storage specific config
	Path string `hcl:"path,optional"`

	// PostgreSQL storage specific config
	ConnectionUrl   string `hcl:"connection_url,optional"`
	Table           string `hcl:"table,optional"`
	MaxOpenConns    int    `hcl:"max_open_conns,optional"`
	SkipCreateTable bool   `hcl:"skip_create_table,optional"`
}

// Config returns the storage configuration as a map, which the wallet
// store factory decodes into a backend-specific config struct.
func (s *StorageBlock) Config() map[string]string {
	config := make(map[string]string)

	config["type"] = s.Type

	if s.Path != "" {
		config["path"] = s.Path
	}
	if s.ConnectionUrl != "" {
		config["connection_url"] = s.ConnectionUrl
	}
	if s.Table != "" {
		config["table"] = s.Table
	}
	if s.MaxOpenConns != 0 {
		config["max_open_conns"] = fmt.Sprintf("%d", s.MaxOpenConns)
	}
	if s.SkipCreateTable {
		config["skip_create_table"] = "true"
	}

	return config
}

func LoadConfig(configFile string) (*Config, error) {
	var config Config

	err := hclsimple.DecodeFile(configFile, nil, &config)
	if err != nil {
		return nil, err
	}

	if config.SigningSecret == "" {
		return nil, fmt.Errorf("signing_secret is required")
	}

	return &config, nil
}

// GetTokenTTL parses the configured token TTL, falling back to the default
func (c *Config) GetTokenTTL() (time.Duration, error) {
	if c.TokenTTL == "" {
		return DefaultTokenTTL, nil
	}
	d, err := time.ParseDuration(c.TokenTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid token_ttl %q: %w", c.TokenTTL, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("token_ttl must be positive, got %q", c.TokenTTL)
	}
	return d, nil
}

// GetSweepInterval parses the configured sweep interval. Zero disables sweeping.
func (c *Config) GetSweepInterval() (time.Duration, error) {
	if c.SweepInterval == "" {
		return DefaultSweepInterval, nil
	}
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid sweep_interval %q: %w", c.SweepInterval, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("sweep_interval must not be negative, got %q", c.SweepInterval)
	}
	return d, nil
}
