// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// APIKeyEnv names the environment variable holding the Gemini credential.
const APIKeyEnv = "GOOGLE_API_KEY"

// ModeMock selects the offline mock generator when set in LLM_MODE.
const ModeMock = "MOCK"

// Response length slider bounds shown in the sidebar.
const (
	ResponseLengthMin     = 1
	ResponseLengthMax     = 500
	ResponseLengthDefault = 200
	ResponseLengthStep    = 10
)

// ConfigError is a fatal startup configuration problem.
type ConfigError struct {
	Key string
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

// ErrMissingAPIKey is returned (wrapped in a ConfigError) when the credential is absent.
var ErrMissingAPIKey = errors.New("API key not found. Please set the " + APIKeyEnv + " environment variable.")

// Is lets errors.Is match ConfigError values against ErrMissingAPIKey.
func (e *ConfigError) Is(target error) bool {
	return target == ErrMissingAPIKey && e.Key == APIKeyEnv
}

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	APIKey          string
	ModelName       string
	LLMMode         string
	UpstreamTimeout time.Duration
	Cache           CacheConfig
	SessionIdleTTL  time.Duration
	SweepInterval   time.Duration
	DBPath          string
	MetricsEnabled  bool
}

// CacheConfig controls the per-session answer cache.
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// LoadAPIKey reads the upstream credential using lookup (os.LookupEnv when nil).
func LoadAPIKey(lookup func(string) (string, bool)) (string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	key, ok := lookup(APIKeyEnv)
	if !ok || strings.TrimSpace(key) == "" {
		return "", &ConfigError{Key: APIKeyEnv, Msg: ErrMissingAPIKey.Error()}
	}
	return strings.TrimSpace(key), nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	key, err := LoadAPIKey(nil)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		APIKey:          key,
		ModelName:       getEnv("MODEL_NAME", "gemini-pro"),
		LLMMode:         strings.ToUpper(getEnv("LLM_MODE", "")),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 60*time.Second),
		Cache: CacheConfig{
			TTL:        getEnvDuration("CACHE_TTL", 300*time.Second),
			MaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 256),
		},
		SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", time.Minute),
		DBPath:         getEnv("DB_PATH", "./data/qa.db"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return &ConfigError{Key: APIKeyEnv, Msg: ErrMissingAPIKey.Error()}
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.ModelName == "" {
		return fmt.Errorf("MODEL_NAME cannot be empty")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be > 0")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// IsMock reports whether the offline generator was requested.
func (c *Config) IsMock() bool {
	return c.LLMMode == ModeMock
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("300").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
