// Package config loads and persists control-plane configuration: HTTP
// listener address, AuthGate secrets and rate limits, step execution
// tuning, and report/log output locations.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/artemis/migrationctl/internal/observability"
)

// Config holds all application configuration for migration-control.
type Config struct {
	// HTTP server configuration
	HTTPAddr   string `json:"http_addr"`
	TLSEnabled bool   `json:"tls_enabled"`
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`

	// AuthGate configuration
	SecretKey             string        `json:"secret_key"`
	AccessTokenTTL        time.Duration `json:"access_token_ttl"`
	BootstrapAdminPassword string       `json:"bootstrap_admin_password"`
	RateLimitRequests     int           `json:"rate_limit_requests"`
	RateLimitWindow       time.Duration `json:"rate_limit_window"`

	// Step execution tuning
	ChunkSize        int           `json:"chunk_size"`
	MaxConcurrent    int           `json:"max_concurrent"`
	TransferTimeout  time.Duration `json:"transfer_timeout"`
	VerifyChecksums  bool          `json:"verify_checksums"`
	CompressionLevel int           `json:"compression_level"`

	// Retry configuration
	MaxRetries      int           `json:"max_retries"`
	RetryBackoff    time.Duration `json:"retry_backoff"`
	RetryMaxBackoff time.Duration `json:"retry_max_backoff"`

	// Worker pool sizing (internal/pool)
	PoolSize int `json:"pool_size"`

	// Logging configuration
	LogLevel string `json:"log_level"`

	// Data directories
	DataDir   string `json:"data_dir"`
	ReportDir string `json:"report_dir"`

	// Native helper (internal/hybrid)
	NativeHelperPath string `json:"native_helper_path"`
	PreferNative     bool   `json:"prefer_native"`

	// Presets loaded at startup (spec §4.I /presets)
	Presets map[string]PresetConfig `json:"presets"`

	mu sync.RWMutex
}

// PresetConfig is a named, reusable migration configuration template.
type PresetConfig struct {
	Description string                 `json:"description"`
	Overrides   map[string]interface{} `json:"overrides"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:          ":8080",
		TLSEnabled:        false,
		AccessTokenTTL:    30 * time.Minute,
		RateLimitRequests: 100,
		RateLimitWindow:   60 * time.Second,
		ChunkSize:         1024 * 1024 * 4, // 4MB chunks
		MaxConcurrent:     4,
		TransferTimeout:   time.Hour,
		VerifyChecksums:   true,
		CompressionLevel:  6,
		MaxRetries:        5,
		RetryBackoff:      time.Second,
		RetryMaxBackoff:   time.Minute,
		PoolSize:          4,
		LogLevel:          "info",
		DataDir:           "",
		ReportDir:         "reports",
		PreferNative:      true,
		Presets:           make(map[string]PresetConfig),
	}
}

// LoadConfig loads configuration from a file or returns default config.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, ".migration-control", "config.json")
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Save saves the configuration to a file via a temp-file-then-rename to
// avoid leaving a truncated config on a crash mid-write.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".migration-control", "config.json")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	return nil
}

// Redact returns a redacted copy of the config suitable for logging.
func (c *Config) Redact() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"http_addr":           c.HTTPAddr,
		"tls_enabled":         c.TLSEnabled,
		"cert_file":           c.CertFile,
		"key_file":            observability.RedactString(c.KeyFile),
		"secret_key":          "***REDACTED***",
		"bootstrap_admin_password": "***REDACTED***",
		"access_token_ttl":    c.AccessTokenTTL,
		"rate_limit_requests": c.RateLimitRequests,
		"rate_limit_window":   c.RateLimitWindow,
		"chunk_size":          c.ChunkSize,
		"max_concurrent":      c.MaxConcurrent,
		"transfer_timeout":    c.TransferTimeout,
		"verify_checksums":    c.VerifyChecksums,
		"compression_level":   c.CompressionLevel,
		"max_retries":         c.MaxRetries,
		"pool_size":           c.PoolSize,
		"log_level":           c.LogLevel,
		"data_dir":            c.DataDir,
		"report_dir":          c.ReportDir,
		"native_helper_path":  c.NativeHelperPath,
		"prefer_native":       c.PreferNative,
		"presets":             len(c.Presets),
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaults.HTTPAddr
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = defaults.AccessTokenTTL
	}
	if cfg.RateLimitRequests == 0 {
		cfg.RateLimitRequests = defaults.RateLimitRequests
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = defaults.RateLimitWindow
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.TransferTimeout == 0 {
		cfg.TransferTimeout = defaults.TransferTimeout
	}
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = defaults.CompressionLevel
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}
	if cfg.RetryMaxBackoff == 0 {
		cfg.RetryMaxBackoff = defaults.RetryMaxBackoff
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = defaults.ReportDir
	}
	if cfg.Presets == nil {
		cfg.Presets = make(map[string]PresetConfig)
	}
}
