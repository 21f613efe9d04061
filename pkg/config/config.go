package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cardvault/cardvault/pkg/observability"
	"github.com/cardvault/cardvault/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// AuthConfig holds session, lockout, and remember-me settings
type AuthConfig struct {
	// HeaderName carries the session header token on requests and
	// responses.
	HeaderName string `yaml:"header_name"`

	// Cookie names and scope.
	SessionCookieName    string `yaml:"session_cookie_name"`
	RememberMeCookieName string `yaml:"remember_me_cookie_name"`
	CookieDomain         string `yaml:"cookie_domain"`

	// Session and remember-me lifetimes.
	SessionTTL     time.Duration `yaml:"session_ttl"`
	RememberMeDays int           `yaml:"remember_me_days"`

	// Brute-force lockout tuning.
	FailureWindow    time.Duration `yaml:"failure_window"`
	LockoutThreshold int64         `yaml:"lockout_threshold"`
	LockoutDuration  time.Duration `yaml:"lockout_duration"`

	// Signing secrets. Never written back to config files.
	HeaderTokenSecret string `yaml:"-"`
	CookieTokenSecret string `yaml:"-"`
	RememberMeSecret  string `yaml:"-"`

	// TokenPurgeSchedule is a cron expression for sweeping expired
	// remember-me tokens out of user records.
	TokenPurgeSchedule string `yaml:"token_purge_schedule"`

	// RegistrationCacheSize bounds the in-process registration-code
	// lookup cache.
	RegistrationCacheSize int `yaml:"registration_cache_size"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`

	// FrontEndLogFile receives client-side log lines posted to the
	// logging endpoint. Empty means stdout.
	FrontEndLogFile string `yaml:"front_end_log_file"`
}

// LoadConfig loads configuration from an optional YAML file overlaid
// with environment variables. Environment always wins.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Server:        defaultServerConfig(),
		Storage:       storage.DefaultConfig(),
		Auth:          defaultAuthConfig(),
		Observability: defaultObservabilityConfig(),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := loadSecrets(&cfg.Auth); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            "8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

func defaultAuthConfig() AuthConfig {
	return AuthConfig{
		HeaderName:            "credit-cards-authentication",
		SessionCookieName:     "session",
		RememberMeCookieName:  "remember-me",
		SessionTTL:            20 * time.Minute,
		RememberMeDays:        30,
		FailureWindow:         1200 * time.Second,
		LockoutThreshold:      4,
		LockoutDuration:       24 * time.Hour,
		TokenPurgeSchedule:    "@hourly",
		RegistrationCacheSize: 128,
	}
}

func defaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.InfoLevel,
		MetricsEnabled: true,
	}
}

// applyEnv overlays CARDVAULT_* environment variables on the config.
func applyEnv(cfg *Config) {
	// Server
	cfg.Server.Host = getEnv("CARDVAULT_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("CARDVAULT_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("CARDVAULT_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("CARDVAULT_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("CARDVAULT_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("CARDVAULT_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.MaxBodyBytes = getEnvInt64("CARDVAULT_MAX_BODY_BYTES", cfg.Server.MaxBodyBytes)

	// Storage
	cfg.Storage.PostgresURL = getEnv("CARDVAULT_POSTGRES_URL", cfg.Storage.PostgresURL)
	cfg.Storage.PostgresMaxConns = getEnvInt("CARDVAULT_POSTGRES_MAX_CONNS", cfg.Storage.PostgresMaxConns)
	cfg.Storage.PostgresMinConns = getEnvInt("CARDVAULT_POSTGRES_MIN_CONNS", cfg.Storage.PostgresMinConns)
	cfg.Storage.PostgresTimeout = getEnvDuration("CARDVAULT_POSTGRES_TIMEOUT", cfg.Storage.PostgresTimeout)
	cfg.Storage.RedisURL = getEnv("CARDVAULT_REDIS_URL", cfg.Storage.RedisURL)
	cfg.Storage.RedisPassword = getEnv("CARDVAULT_REDIS_PASSWORD", cfg.Storage.RedisPassword)
	cfg.Storage.RedisDB = getEnvInt("CARDVAULT_REDIS_DB", cfg.Storage.RedisDB)
	cfg.Storage.RedisPoolSize = getEnvInt("CARDVAULT_REDIS_POOL_SIZE", cfg.Storage.RedisPoolSize)

	// Auth
	cfg.Auth.HeaderName = getEnv("CARDVAULT_AUTH_HEADER", cfg.Auth.HeaderName)
	cfg.Auth.SessionCookieName = getEnv("CARDVAULT_SESSION_COOKIE", cfg.Auth.SessionCookieName)
	cfg.Auth.RememberMeCookieName = getEnv("CARDVAULT_REMEMBER_ME_COOKIE", cfg.Auth.RememberMeCookieName)
	cfg.Auth.CookieDomain = getEnv("CARDVAULT_COOKIE_DOMAIN", cfg.Auth.CookieDomain)
	cfg.Auth.SessionTTL = getEnvDuration("CARDVAULT_SESSION_TTL", cfg.Auth.SessionTTL)
	cfg.Auth.RememberMeDays = getEnvInt("CARDVAULT_REMEMBER_ME_DAYS", cfg.Auth.RememberMeDays)
	cfg.Auth.FailureWindow = getEnvDuration("CARDVAULT_FAILURE_WINDOW", cfg.Auth.FailureWindow)
	cfg.Auth.LockoutThreshold = getEnvInt64("CARDVAULT_LOCKOUT_THRESHOLD", cfg.Auth.LockoutThreshold)
	cfg.Auth.LockoutDuration = getEnvDuration("CARDVAULT_LOCKOUT_DURATION", cfg.Auth.LockoutDuration)
	cfg.Auth.TokenPurgeSchedule = getEnv("CARDVAULT_TOKEN_PURGE_SCHEDULE", cfg.Auth.TokenPurgeSchedule)
	cfg.Auth.RegistrationCacheSize = getEnvInt("CARDVAULT_REGISTRATION_CACHE_SIZE", cfg.Auth.RegistrationCacheSize)

	// Observability
	if level := getEnv("CARDVAULT_LOG_LEVEL", ""); level != "" {
		cfg.Observability.LogLevel = observability.ParseLogLevel(level)
	}
	cfg.Observability.MetricsEnabled = getEnvBool("CARDVAULT_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.FrontEndLogFile = getEnv("CARDVAULT_FRONTEND_LOG_FILE", cfg.Observability.FrontEndLogFile)
}

// loadSecrets fills the three signing secrets. Each comes from its
// environment variable when set, or from a one-time key file named by
// the `<VAR>_FILE` variable; otherwise a random secret is generated,
// which invalidates outstanding sessions across restarts.
func loadSecrets(cfg *AuthConfig) error {
	var err error
	if cfg.HeaderTokenSecret, err = loadSecret("CARDVAULT_HEADER_TOKEN_SECRET"); err != nil {
		return err
	}
	if cfg.CookieTokenSecret, err = loadSecret("CARDVAULT_COOKIE_TOKEN_SECRET"); err != nil {
		return err
	}
	if cfg.RememberMeSecret, err = loadSecret("CARDVAULT_REMEMBER_ME_SECRET"); err != nil {
		return err
	}
	if cfg.HeaderTokenSecret == cfg.CookieTokenSecret {
		return fmt.Errorf("header and cookie token secrets must differ")
	}
	return nil
}

func loadSecret(envKey string) (string, error) {
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}
	if path := os.Getenv(envKey + "_FILE"); path != "" {
		return readKeyFile(path)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret for %s: %w", envKey, err)
	}
	return hex.EncodeToString(buf), nil
}

// readKeyFile loads a secret from a one-time key file. The file is
// deleted after a successful read so the secret only lives in process
// memory afterwards.
func readKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading key file %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("key file %s is empty", path)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("removing key file %s: %w", path, err)
	}
	return secret, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Auth.HeaderName == "" {
		return fmt.Errorf("auth header name is required")
	}
	if c.Auth.SessionCookieName == c.Auth.RememberMeCookieName {
		return fmt.Errorf("session and remember-me cookies must use different names")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.RememberMeDays <= 0 {
		return fmt.Errorf("remember-me lifetime must be positive")
	}
	if c.Auth.FailureWindow <= 0 {
		return fmt.Errorf("failure window must be positive")
	}
	if c.Auth.LockoutThreshold < 1 {
		return fmt.Errorf("lockout threshold must be at least 1")
	}
	if c.Auth.LockoutDuration <= 0 {
		return fmt.Errorf("lockout duration must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
// Bare integers are treated as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
