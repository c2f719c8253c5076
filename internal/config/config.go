package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized across the service.
const (
	EnvConfigPath         = "CONFIG_PATH"
	EnvDBConnection       = "DB_CONNECTION"
	EnvJWTSecret          = "JWT_SECRET"
	EnvJWTExpiry          = "JWT_EXPIRY"
	EnvCallbackSecret     = "CALLBACK_SECRET"
	EnvWorkflowWebhookURL = "WORKFLOW_WEBHOOK_URL"
	EnvPublicBaseURL      = "PUBLIC_BASE_URL"
	EnvAuthRateLimit      = "AUTH_RATE_LIMIT"
	EnvRedisAddr          = "REDIS_ADDR"
	EnvRedisPassword      = "REDIS_PASSWORD"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// WorkflowConfig holds external workflow dispatch settings.
type WorkflowConfig struct {
	WebhookURL     string `yaml:"webhook-url"`
	CallbackSecret string `yaml:"callback-secret"`
	PublicBaseURL  string `yaml:"public-base-url"`
}

// RateLimitConfig holds auth endpoint rate limit settings.
type RateLimitConfig struct {
	AuthPerSecond int    `yaml:"auth-per-second"`
	RedisAddr     string `yaml:"redis-addr"`
	RedisPassword string `yaml:"redis-password"`
}

// fileConfig maps the full YAML config file.
type fileConfig struct {
	DatabaseDSN string `yaml:"database-dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
}

// readFileConfig parses the YAML config file, tolerating a missing file.
func readFileConfig(configPath string) fileConfig {
	var cfg fileConfig
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		return cfg
	}
	_ = yaml.Unmarshal(data, &cfg)
	return cfg
}

// LoadDatabaseDSN reads the database DSN from env or the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 7 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file with env overrides.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	result := JWTConfig{Expiry: defaultJWTExpiry}
	if fromFile := readFileConfig(configPath).JWT; fromFile.Secret != "" || fromFile.Expiry > 0 {
		result = fromFile
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// defaultPublicBaseURL serves development setups where no public URL is set.
const defaultPublicBaseURL = "http://localhost:8318"

// LoadWorkflowConfig loads workflow dispatch settings with env overrides.
func LoadWorkflowConfig(configPath string) (WorkflowConfig, error) {
	result := readFileConfig(configPath).Workflow

	if url := strings.TrimSpace(os.Getenv(EnvWorkflowWebhookURL)); url != "" {
		result.WebhookURL = url
	}
	if secret := strings.TrimSpace(os.Getenv(EnvCallbackSecret)); secret != "" {
		result.CallbackSecret = secret
	}
	if base := strings.TrimSpace(os.Getenv(EnvPublicBaseURL)); base != "" {
		result.PublicBaseURL = base
	}

	if strings.TrimSpace(result.PublicBaseURL) == "" {
		result.PublicBaseURL = defaultPublicBaseURL
	}
	result.PublicBaseURL = strings.TrimRight(result.PublicBaseURL, "/")
	return result, nil
}

// defaultAuthRateLimit is the fallback per-second limit for auth endpoints.
const defaultAuthRateLimit = 5

// LoadRateLimitConfig loads rate limit settings with env overrides.
func LoadRateLimitConfig(configPath string) (RateLimitConfig, error) {
	result := readFileConfig(configPath).RateLimit

	if raw := strings.TrimSpace(os.Getenv(EnvAuthRateLimit)); raw != "" {
		if limit, errParse := strconv.Atoi(raw); errParse == nil && limit > 0 {
			result.AuthPerSecond = limit
		}
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		result.RedisAddr = addr
	}
	if password := strings.TrimSpace(os.Getenv(EnvRedisPassword)); password != "" {
		result.RedisPassword = password
	}

	if result.AuthPerSecond <= 0 {
		result.AuthPerSecond = defaultAuthRateLimit
	}
	return result, nil
}
