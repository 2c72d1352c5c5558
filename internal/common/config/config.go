// Package config provides configuration management for the login risk service
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Service identification
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
	Port        int    `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`

	// Storage. Empty URLs fall back to in-memory stores.
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`

	// Security settings
	JWTSecret string `mapstructure:"jwt_secret"`
	AdminRole string `mapstructure:"admin_role"`

	// Rate limiting on the evaluation routes
	EnableRateLimit   bool `mapstructure:"enable_rate_limit"`
	RateLimitRequests int  `mapstructure:"rate_limit_requests"`
	RateLimitWindow   int  `mapstructure:"rate_limit_window"`

	Tracing TracingConfig `mapstructure:"tracing"`
	Risk    RiskConfig    `mapstructure:"risk"`
}

// TracingConfig holds OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// RiskConfig holds the scoring engine settings
type RiskConfig struct {
	Model          ModelConfig   `mapstructure:"model"`
	Rules          RulesConfig   `mapstructure:"rules"`
	AttemptLogSize int           `mapstructure:"attempt_log_size"`
	RulesCacheTTL  int           `mapstructure:"rules_cache_ttl"` // seconds
	StoreBreaker   BreakerConfig `mapstructure:"store_breaker"`
}

// BreakerConfig configures the circuit breakers in front of Redis and Postgres
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	OpenTimeout      int `mapstructure:"open_timeout"` // seconds
}

// ModelConfig sizes the anomaly model sample buffer and retrain cadence
type ModelConfig struct {
	MaxSamples         int  `mapstructure:"max_samples"`
	RetrainThreshold   int  `mapstructure:"retrain_threshold"`
	MinTrainingSamples int  `mapstructure:"min_training_samples"`
	AsyncRetrain       bool `mapstructure:"async_retrain"`
}

// RulesConfig holds the initial decision thresholds, used until an
// administrator stores a rule set.
type RulesConfig struct {
	BlockEnabled       bool `mapstructure:"block_enabled"`
	BlockThreshold     int  `mapstructure:"block_threshold"`
	ChallengeEnabled   bool `mapstructure:"challenge_enabled"`
	ChallengeThreshold int  `mapstructure:"challenge_threshold"`
	AlertEnabled       bool `mapstructure:"alert_enabled"`
	AlertThreshold     int  `mapstructure:"alert_threshold"`
	AllowEnabled       bool `mapstructure:"allow_enabled"`
	AllowThreshold     int  `mapstructure:"allow_threshold"`
}

// Load reads configuration from file and environment variables
func Load(serviceName string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/loginrisk")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LOGINRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.ServiceName = serviceName

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8010)

	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")

	v.SetDefault("admin_role", "admin")

	v.SetDefault("enable_rate_limit", true)
	v.SetDefault("rate_limit_requests", 30)
	v.SetDefault("rate_limit_window", 60)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("risk.model.max_samples", 1000)
	v.SetDefault("risk.model.retrain_threshold", 50)
	v.SetDefault("risk.model.min_training_samples", 10)
	v.SetDefault("risk.model.async_retrain", true)

	v.SetDefault("risk.rules.block_enabled", true)
	v.SetDefault("risk.rules.block_threshold", 80)
	v.SetDefault("risk.rules.challenge_enabled", true)
	v.SetDefault("risk.rules.challenge_threshold", 60)
	v.SetDefault("risk.rules.alert_enabled", true)
	v.SetDefault("risk.rules.alert_threshold", 40)
	v.SetDefault("risk.rules.allow_enabled", true)
	v.SetDefault("risk.rules.allow_threshold", 0)

	v.SetDefault("risk.attempt_log_size", 5000)
	v.SetDefault("risk.rules_cache_ttl", 30)
	v.SetDefault("risk.store_breaker.failure_threshold", 5)
	v.SetDefault("risk.store_breaker.open_timeout", 30)
}

func bindEnvVars(v *viper.Viper) {
	envMappings := map[string]string{
		"database_url":     "DATABASE_URL",
		"redis_url":        "REDIS_URL",
		"environment":      "APP_ENV",
		"log_level":        "LOG_LEVEL",
		"port":             "PORT",
		"jwt_secret":       "JWT_SECRET",
		"tracing.enabled":  "TRACING_ENABLED",
		"tracing.endpoint": "OTEL_EXPORTER_OTLP_ENDPOINT",
	}

	for key, env := range envMappings {
		v.BindEnv(key, env)
	}
}

func validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if cfg.IsProduction() && cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required in production")
	}
	m := cfg.Risk.Model
	if m.MaxSamples < 1 {
		return fmt.Errorf("risk.model.max_samples must be positive")
	}
	if m.MinTrainingSamples < 1 || m.MinTrainingSamples > m.MaxSamples {
		return fmt.Errorf("risk.model.min_training_samples must be between 1 and max_samples")
	}
	if m.RetrainThreshold < 1 {
		return fmt.Errorf("risk.model.retrain_threshold must be positive")
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
