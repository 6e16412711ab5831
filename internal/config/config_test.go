package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8000 {
		t.Errorf("expected Port=8000, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "*" {
		t.Errorf("expected CORSOrigins=[*], got %v", cfg.Server.CORSOrigins)
	}
	if cfg.Embedding.Provider != "openai" {
		t.Errorf("expected Provider=openai, got %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.BatchSize != 100 {
		t.Errorf("expected BatchSize=100, got %d", cfg.Embedding.BatchSize)
	}
	if cfg.Auth.TokenTTLMinutes != 60 {
		t.Errorf("expected TokenTTLMinutes=60, got %d", cfg.Auth.TokenTTLMinutes)
	}
	if cfg.Maintenance.Schedule != "0 3 * * *" {
		t.Errorf("expected nightly schedule, got %s", cfg.Maintenance.Schedule)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/lockstep.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "lockstep.yaml")

	content := `
server:
  port: 9090
store_dir: /var/lib/lockstep
embedding:
  provider: hash
  dimension: 64
auth:
  username: chief
telegram:
  enabled: true
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected Port=9090, got %d", cfg.Server.Port)
	}
	if cfg.StoreDir != "/var/lib/lockstep" {
		t.Errorf("expected StoreDir=/var/lib/lockstep, got %s", cfg.StoreDir)
	}
	if cfg.Embedding.Provider != "hash" {
		t.Errorf("expected Provider=hash, got %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimension != 64 {
		t.Errorf("expected Dimension=64, got %d", cfg.Embedding.Dimension)
	}
	// Untouched fields keep their defaults.
	if cfg.UploadsDir != "uploads" {
		t.Errorf("expected UploadsDir=uploads, got %s", cfg.UploadsDir)
	}
	if cfg.Auth.Username != "chief" {
		t.Errorf("expected Username=chief, got %s", cfg.Auth.Username)
	}
	if !cfg.Telegram.Enabled {
		t.Error("expected Telegram.Enabled=true")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantSub string
	}{
		{"bad port", "server:\n  port: -1\n", "server.port"},
		{"bad provider", "embedding:\n  provider: quantum\n", "embedding.provider"},
		{"bad ttl", "auth:\n  token_ttl_minutes: 0\n", "token_ttl_minutes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "lockstep.yaml")
			if err := os.WriteFile(configPath, []byte(tc.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(configPath)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error = %v, want mention of %s", err, tc.wantSub)
			}
		})
	}
}

func TestValidateServer(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateServer(); err == nil {
		t.Error("expected error without credentials")
	}

	cfg.Auth.PasswordBcrypt = "$2a$10$abcdefghijklmnopqrstuv"
	cfg.Auth.Secret = "short"
	if err := cfg.ValidateServer(); err == nil {
		t.Error("expected error for a short secret")
	}

	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"
	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("expected complete server config to validate, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "lockstep.yaml")

	cfg := DefaultConfig()
	cfg.Server.Port = 8123
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.Model = "nomic-embed-text"
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.Port != 8123 {
		t.Errorf("expected Port=8123, got %d", loaded.Server.Port)
	}
	if loaded.Embedding.Model != "nomic-embed-text" {
		t.Errorf("expected Model=nomic-embed-text, got %s", loaded.Embedding.Model)
	}
}
