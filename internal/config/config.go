// Package config loads pmsync settings from an optional YAML file and the
// environment. Environment variables win over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cexll/pmsync/internal/ghsync"
	"github.com/cexll/pmsync/internal/github"
	"github.com/spf13/viper"
)

// DefaultRoot is the store root when PM_ROOT and root are unset.
const DefaultRoot = ".claude"

// Config holds all configuration for the pm tools.
type Config struct {
	// Store settings
	Root   string
	Author string

	// GitHub settings
	Repo             string
	Backend          string // "api" or "gh"
	GitHubToken      string
	GitHubAppID      string
	GitHubPrivateKey string
	GitHubBaseURL    string
	RateLimit        float64 // requests per second, 0 disables limiting
	MaxRetries       int

	// Sync settings
	ConflictMode  ghsync.ConflictMode
	WatchDebounce time.Duration

	// Server settings
	Port          int
	WebhookSecret string

	// Webhook delivery queue
	DispatcherWorkers           int
	DispatcherQueueSize         int
	DispatcherMaxAttempts       int
	DispatcherRetryInitial      time.Duration
	DispatcherRetryMax          time.Duration
	DispatcherBackoffMultiplier float64

	// Logging
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// ConfigFile is the file that was read, if any.
	ConfigFile string
}

// Load reads the config file (PM_CONFIG, or <root>/.pm/config.yaml) when
// it exists, then applies environment overrides and validates.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	root := getEnv("PM_ROOT", DefaultRoot)
	path := getEnv("PM_CONFIG", filepath.Join(root, ".pm", "config.yaml"))
	used, err := loadFile(v, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if os.Getenv("PM_ROOT") == "" && v.GetString("root") != "" {
		root = v.GetString("root")
	}

	mode, err := ghsync.ParseConflictMode(getEnv("PM_CONFLICT_MODE", v.GetString("conflict_mode")))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Root:                        root,
		Author:                      getEnv("PM_AUTHOR", v.GetString("author")),
		Repo:                        getEnv("GITHUB_REPO", v.GetString("repo")),
		Backend:                     strings.ToLower(getEnv("PM_BACKEND", v.GetString("backend"))),
		GitHubToken:                 getEnv("GITHUB_TOKEN", v.GetString("github_token")),
		GitHubAppID:                 getEnv("GITHUB_APP_ID", v.GetString("github_app_id")),
		GitHubPrivateKey:            normalizePrivateKey(getEnv("GITHUB_PRIVATE_KEY", v.GetString("github_private_key"))),
		GitHubBaseURL:               getEnv("GITHUB_API_URL", v.GetString("github_api_url")),
		RateLimit:                   getEnvFloat("PM_RATE_LIMIT", v.GetFloat64("rate_limit")),
		MaxRetries:                  getEnvInt("PM_MAX_RETRIES", v.GetInt("max_retries")),
		ConflictMode:                mode,
		WatchDebounce:               time.Duration(getEnvInt("PM_WATCH_DEBOUNCE_MS", v.GetInt("watch_debounce_ms"))) * time.Millisecond,
		Port:                        getEnvInt("PORT", v.GetInt("port")),
		WebhookSecret:               getEnv("GITHUB_WEBHOOK_SECRET", v.GetString("webhook_secret")),
		DispatcherWorkers:           getEnvInt("DISPATCHER_WORKERS", v.GetInt("dispatcher_workers")),
		DispatcherQueueSize:         getEnvInt("DISPATCHER_QUEUE_SIZE", v.GetInt("dispatcher_queue_size")),
		DispatcherMaxAttempts:       getEnvInt("DISPATCHER_MAX_ATTEMPTS", v.GetInt("dispatcher_max_attempts")),
		DispatcherRetryInitial:      time.Duration(getEnvInt("DISPATCHER_RETRY_SECONDS", v.GetInt("dispatcher_retry_seconds"))) * time.Second,
		DispatcherRetryMax:          time.Duration(getEnvInt("DISPATCHER_RETRY_MAX_SECONDS", v.GetInt("dispatcher_retry_max_seconds"))) * time.Second,
		DispatcherBackoffMultiplier: getEnvFloat("DISPATCHER_BACKOFF_MULTIPLIER", v.GetFloat64("dispatcher_backoff_multiplier")),
		LogFile:                     getEnv("PM_LOG_FILE", v.GetString("log_file")),
		LogMaxSizeMB:                getEnvInt("PM_LOG_MAX_SIZE_MB", v.GetInt("log_max_size_mb")),
		LogMaxBackups:               getEnvInt("PM_LOG_MAX_BACKUPS", v.GetInt("log_max_backups")),
		LogMaxAgeDays:               getEnvInt("PM_LOG_MAX_AGE_DAYS", v.GetInt("log_max_age_days")),
		ConfigFile:                  used,
	}
	if cfg.Author == "" {
		cfg.Author = os.Getenv("USER")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", github.BackendAPI)
	v.SetDefault("conflict_mode", string(ghsync.DefaultConflictMode))
	v.SetDefault("rate_limit", 5.0)
	v.SetDefault("max_retries", 3)
	v.SetDefault("watch_debounce_ms", 2000)
	v.SetDefault("port", 8080)
	v.SetDefault("dispatcher_workers", 1)
	v.SetDefault("dispatcher_queue_size", 64)
	v.SetDefault("dispatcher_max_attempts", 5)
	v.SetDefault("dispatcher_retry_seconds", 5)
	v.SetDefault("dispatcher_retry_max_seconds", 120)
	v.SetDefault("dispatcher_backoff_multiplier", 2.0)
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 28)
}

// loadFile reads path into v. A missing file is not an error; the
// returned path is empty in that case.
func loadFile(v *viper.Viper, path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return "", err
	}
	return path, nil
}

func normalizePrivateKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	if strings.HasPrefix(trimmed, "\"") && strings.HasSuffix(trimmed, "\"") {
		trimmed = strings.TrimPrefix(trimmed, "\"")
		trimmed = strings.TrimSuffix(trimmed, "\"")
	}
	if strings.HasPrefix(trimmed, "'") && strings.HasSuffix(trimmed, "'") {
		trimmed = strings.TrimPrefix(trimmed, "'")
		trimmed = strings.TrimSuffix(trimmed, "'")
	}

	trimmed = strings.ReplaceAll(trimmed, "\r\n", "\n")
	trimmed = strings.ReplaceAll(trimmed, "\r", "\n")
	if strings.Contains(trimmed, "\\n") {
		trimmed = strings.ReplaceAll(trimmed, "\\r", "")
		trimmed = strings.ReplaceAll(trimmed, "\\n", "\n")
	}

	return trimmed
}

// validate checks settings every command depends on. GitHub credentials
// are checked separately by ValidateSync.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("PM_ROOT must not be empty")
	}
	switch c.Backend {
	case "", github.BackendAPI, github.BackendCLI:
	default:
		return fmt.Errorf("invalid backend: %s (must be '%s' or '%s')", c.Backend, github.BackendAPI, github.BackendCLI)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("PM_RATE_LIMIT must be >= 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("PM_MAX_RETRIES must be >= 0")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	return c.validateDispatcher()
}

func (c *Config) validateDispatcher() error {
	if c.DispatcherWorkers <= 0 {
		return fmt.Errorf("DISPATCHER_WORKERS must be greater than 0")
	}
	if c.DispatcherQueueSize <= 0 {
		return fmt.Errorf("DISPATCHER_QUEUE_SIZE must be greater than 0")
	}
	if c.DispatcherMaxAttempts <= 0 {
		return fmt.Errorf("DISPATCHER_MAX_ATTEMPTS must be greater than 0")
	}
	if c.DispatcherBackoffMultiplier < 1 {
		return fmt.Errorf("DISPATCHER_BACKOFF_MULTIPLIER must be >= 1")
	}
	if c.DispatcherRetryMax < c.DispatcherRetryInitial {
		return fmt.Errorf("DISPATCHER_RETRY_MAX_SECONDS must be >= DISPATCHER_RETRY_SECONDS")
	}
	return nil
}

// ValidateSync checks what a command talking to GitHub needs.
func (c *Config) ValidateSync() error {
	if c.Repo == "" {
		return fmt.Errorf("GITHUB_REPO is required")
	}
	if _, _, err := github.ParseRepo(c.Repo); err != nil {
		return err
	}
	if c.Backend == github.BackendCLI {
		// gh falls back to its own stored login.
		return nil
	}
	if c.GitHubToken != "" {
		return nil
	}
	if c.GitHubAppID == "" || c.GitHubPrivateKey == "" {
		return fmt.Errorf("GITHUB_TOKEN, or GITHUB_APP_ID and GITHUB_PRIVATE_KEY, are required")
	}
	return nil
}

// ValidateServe checks what the webhook server needs on top of sync.
func (c *Config) ValidateServe() error {
	if err := c.ValidateSync(); err != nil {
		return err
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("GITHUB_WEBHOOK_SECRET is required")
	}
	return nil
}

// TrackerConfig maps the settings onto the issue tracker factory.
func (c *Config) TrackerConfig() github.TrackerConfig {
	return github.TrackerConfig{
		Repo:       c.Repo,
		Backend:    c.Backend,
		Token:      c.GitHubToken,
		AppID:      c.GitHubAppID,
		PrivateKey: c.GitHubPrivateKey,
		BaseURL:    c.GitHubBaseURL,
		RateLimit:  c.RateLimit,
		MaxRetries: c.MaxRetries,
	}
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
