package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "platform": {"access_token": "tok", "phone_number_id": "12345", "verify_token": "vt"},
	  "webhook": {"host": "0.0.0.0", "port": 9090, "path": "/hooks/wa"},
	  "dispatch": {"workers": 8, "queue_size": 512},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("WAVELINE_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Platform.AccessToken != "tok" {
		t.Fatalf("platform.access_token = %q, want %q", cfg.Platform.AccessToken, "tok")
	}
	if cfg.Webhook.Port != 9090 {
		t.Fatalf("webhook.port = %d, want 9090", cfg.Webhook.Port)
	}
	if cfg.Webhook.Path != "/hooks/wa" {
		t.Fatalf("webhook.path = %q, want /hooks/wa", cfg.Webhook.Path)
	}
	if cfg.Dispatch.Workers != 8 {
		t.Fatalf("dispatch.workers = %d, want 8", cfg.Dispatch.Workers)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("WAVELINE_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigEnvOnly(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	t.Setenv("WAVELINE_ACCESS_TOKEN", "env-token")
	t.Setenv("WAVELINE_PHONE_NUMBER_ID", "54321")
	t.Setenv("WAVELINE_WEBHOOK_PORT", "7070")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Platform.AccessToken != "env-token" {
		t.Fatalf("platform.access_token = %q, want env-token", cfg.Platform.AccessToken)
	}
	if cfg.Webhook.Port != 7070 {
		t.Fatalf("webhook.port = %d, want 7070", cfg.Webhook.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"platform": {"access_token": "file-token", "phone_number_id": "12345"}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("WAVELINE_CONFIG", path)
	t.Setenv("WAVELINE_ACCESS_TOKEN", "env-token")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Platform.AccessToken != "env-token" {
		t.Fatalf("platform.access_token = %q, want env-token", cfg.Platform.AccessToken)
	}
	if cfg.Platform.PhoneNumberID != "12345" {
		t.Fatalf("platform.phone_number_id = %q, want 12345", cfg.Platform.PhoneNumberID)
	}
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Webhook.Port != 8080 {
		t.Fatalf("webhook.port = %d, want 8080", cfg.Webhook.Port)
	}
	if cfg.Webhook.Path != "/webhook" {
		t.Fatalf("webhook.path = %q, want /webhook", cfg.Webhook.Path)
	}
	if cfg.Dispatch.Workers != 4 {
		t.Fatalf("dispatch.workers = %d, want 4", cfg.Dispatch.Workers)
	}
	if cfg.Dispatch.QueueSize != 256 {
		t.Fatalf("dispatch.queue_size = %d, want 256", cfg.Dispatch.QueueSize)
	}
	if cfg.Dispatch.DedupTTLSeconds != 60 {
		t.Fatalf("dispatch.dedup_ttl_seconds = %d, want 60", cfg.Dispatch.DedupTTLSeconds)
	}
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty credentials")
	}

	cfg.Platform.AccessToken = "tok"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing phone number id")
	}
}

// chdir switches the working directory for one test and restores it after.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restore cwd: %v", err)
		}
	})
}
