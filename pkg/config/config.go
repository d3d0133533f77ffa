package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Platform PlatformConfig `json:"platform"`
	Webhook  WebhookConfig  `json:"webhook"`
	Dispatch DispatchConfig `json:"dispatch"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// PlatformConfig holds WhatsApp Cloud API credentials and endpoint settings.
type PlatformConfig struct {
	AccessToken   string `json:"access_token" env:"WAVELINE_ACCESS_TOKEN"`
	PhoneNumberID string `json:"phone_number_id" env:"WAVELINE_PHONE_NUMBER_ID"`
	VerifyToken   string `json:"verify_token" env:"WAVELINE_VERIFY_TOKEN"`
	AppSecret     string `json:"app_secret" env:"WAVELINE_APP_SECRET"`
	BaseURL       string `json:"base_url" env:"WAVELINE_BASE_URL"`
}

// WebhookConfig configures the HTTP webhook front end.
type WebhookConfig struct {
	Host string `json:"host" env:"WAVELINE_WEBHOOK_HOST"`
	Port int    `json:"port" env:"WAVELINE_WEBHOOK_PORT"`
	Path string `json:"path" env:"WAVELINE_WEBHOOK_PATH"`
}

// DispatchConfig tunes the update pipeline.
type DispatchConfig struct {
	Workers          int  `json:"workers" env:"WAVELINE_WORKERS"`
	QueueSize        int  `json:"queue_size" env:"WAVELINE_QUEUE_SIZE"`
	DedupTTLSeconds  int  `json:"dedup_ttl_seconds" env:"WAVELINE_DEDUP_TTL_SECONDS"`
	ContinueHandling bool `json:"continue_handling" env:"WAVELINE_CONTINUE_HANDLING"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" env:"WAVELINE_LOG_FORMAT"`
	Level     string `json:"level,omitempty" env:"WAVELINE_LOG_LEVEL"`
	AddSource bool   `json:"add_source,omitempty" env:"WAVELINE_LOG_SOURCE"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment
// overrides. A missing config file is not an error; the config can be
// supplied entirely through the environment.
func LoadConfig() (*Config, error) {
	var cfg Config

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults fills zero-valued settings with runtime defaults.
func applyDefaults(cfg *Config) {
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = 8080
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = "/webhook"
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = 256
	}
	if cfg.Dispatch.DedupTTLSeconds == 0 {
		cfg.Dispatch.DedupTTLSeconds = 60
	}
}

// Validate checks the settings required to reach the platform API.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Platform.AccessToken) == "" {
		return fmt.Errorf("platform.access_token is required")
	}
	if strings.TrimSpace(c.Platform.PhoneNumberID) == "" {
		return fmt.Errorf("platform.phone_number_id is required")
	}
	return nil
}

// findConfigPath resolves the active config file location.
//
// Precedence is WAVELINE_CONFIG first, then cwd-local fallback paths. An
// empty return with nil error means no config file exists.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("WAVELINE_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("WAVELINE_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
