package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Sentinel SentinelConfig `yaml:"sentinel"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type DatabaseConfig struct {
	Path      string `yaml:"path"`
	VaultPath string `yaml:"vault_path"`
}

type SMTPConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	HelloDomain   string        `yaml:"hello_domain"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
}

type DispatchConfig struct {
	DelaySeconds          int `yaml:"delay_seconds"`
	ConcurrentConnections int `yaml:"concurrent_connections"`
	EventBufferSize       int `yaml:"event_buffer_size"`
}

// SentinelConfig holds the failure signatures that abort a running
// bulk job. Keywords are matched case-insensitively against the
// delivery error text; codes must appear as standalone SMTP reply
// codes in the same text.
type SentinelConfig struct {
	Keywords []string `yaml:"keywords"`
	Codes    []int    `yaml:"codes"`
}

type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	SetDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied, used
// when no config file is given.
func Default() *Config {
	cfg := &Config{}
	SetDefaults(cfg)
	return cfg
}

func SetDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/mailburst/app.db"
	}
	if cfg.Database.VaultPath == "" {
		cfg.Database.VaultPath = "/var/lib/mailburst/vault.db"
	}
	if cfg.SMTP.Timeout == 0 {
		cfg.SMTP.Timeout = 30 * time.Second
	}
	if cfg.Dispatch.DelaySeconds == 0 {
		cfg.Dispatch.DelaySeconds = 1
	}
	if cfg.Dispatch.ConcurrentConnections == 0 {
		cfg.Dispatch.ConcurrentConnections = 1
	}
	if cfg.Dispatch.EventBufferSize == 0 {
		cfg.Dispatch.EventBufferSize = 256
	}
	if len(cfg.Sentinel.Keywords) == 0 {
		cfg.Sentinel.Keywords = []string{
			"rate limit",
			"rate limited",
			"ratelimit",
			"too many messages",
			"throttl",
			"blacklist",
			"blocked using",
			"spamhaus",
			"try again later",
		}
	}
	if len(cfg.Sentinel.Codes) == 0 {
		cfg.Sentinel.Codes = []int{421, 450, 451, 452}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Dispatch.DelaySeconds < 0 || cfg.Dispatch.DelaySeconds > 60 {
		return fmt.Errorf("dispatch.delay_seconds must be between 0 and 60")
	}
	if cfg.Dispatch.ConcurrentConnections < 1 || cfg.Dispatch.ConcurrentConnections > 50 {
		return fmt.Errorf("dispatch.concurrent_connections must be between 1 and 50")
	}
	if cfg.Auth.Enabled {
		if cfg.Auth.Username == "" {
			return fmt.Errorf("auth.username is required when auth is enabled")
		}
		if cfg.Auth.PasswordHash == "" {
			return fmt.Errorf("auth.password_hash is required when auth is enabled")
		}
	}
	return nil
}
