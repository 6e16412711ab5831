// Package config loads the YAML configuration file and supplies
// defaults for everything the file leaves out.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the lockstep service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	StoreDir    string            `yaml:"store_dir"`
	UploadsDir  string            `yaml:"uploads_dir"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Auth        AuthConfig        `yaml:"auth"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`    // "openai", "jina", "ollama", "hash"
	Model     string `yaml:"model"`       // e.g. "text-embedding-3-small"
	APIKeyEnv string `yaml:"api_key_env"` // environment variable holding the key
	BaseURL   string `yaml:"base_url"`    // override for self-hosted endpoints
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// AuthConfig holds admin credentials. The password is stored as a
// bcrypt hash (see the hash-password command), never in plaintext.
type AuthConfig struct {
	Username        string `yaml:"username"`
	PasswordBcrypt  string `yaml:"password_bcrypt"`
	Secret          string `yaml:"secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
	LoginPerMinute  int    `yaml:"login_per_minute"`
	LoginBurst      int    `yaml:"login_burst"`
}

// TelegramConfig gates the optional Telegram bot.
type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotTokenEnv string `yaml:"bot_token_env"`
}

// MaintenanceConfig schedules background store verification and
// uploads-dir cleanup.
type MaintenanceConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Schedule             string `yaml:"schedule"` // cron expression
	UploadsRetentionDays int    `yaml:"uploads_retention_days"`
	AutoRepair           bool   `yaml:"auto_repair"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"*"},
		},
		StoreDir:   "data",
		UploadsDir: "uploads",
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 1536,
			BatchSize: 100,
		},
		Auth: AuthConfig{
			Username:        "admin",
			TokenTTLMinutes: 60,
			LoginPerMinute:  10,
			LoginBurst:      5,
		},
		Telegram: TelegramConfig{
			Enabled:     false,
			BotTokenEnv: "TELEGRAM_BOT_TOKEN",
		},
		Maintenance: MaintenanceConfig{
			Enabled:              false,
			Schedule:             "0 3 * * *",
			UploadsRetentionDays: 14,
			AutoRepair:           false,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is
// not an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.expandTilde()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the fields every command needs. Auth completeness is
// checked by the server command only, so CLI-only use works without
// credentials.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Embedding.Provider {
	case "openai", "jina", "ollama", "hash":
	default:
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension < 0 {
		return fmt.Errorf("embedding.dimension must not be negative")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.Maintenance.UploadsRetentionDays < 0 {
		return fmt.Errorf("maintenance.uploads_retention_days must not be negative")
	}
	return nil
}

// ValidateServer checks the extra fields the HTTP server requires.
func (c *Config) ValidateServer() error {
	if c.Auth.Username == "" {
		return fmt.Errorf("auth.username is required to run the server")
	}
	if c.Auth.PasswordBcrypt == "" {
		return fmt.Errorf("auth.password_bcrypt is required to run the server (see the hash-password command)")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required to run the server")
	}
	if len(c.Auth.Secret) < 16 {
		return fmt.Errorf("auth.secret must be at least 16 bytes")
	}
	return nil
}

// expandTilde replaces a leading "~/" with the user's home directory in
// path-valued config fields.
func (c *Config) expandTilde() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	expand := func(p string) string {
		if p == "~" {
			return home
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	c.StoreDir = expand(c.StoreDir)
	c.UploadsDir = expand(c.UploadsDir)
}
