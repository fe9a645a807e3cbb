package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	Gateway   GatewayConfig
	Engine    EngineConfig
	Identity  IdentityConfig
	RateLimit RateLimitConfig
}

// GatewayConfig configures the payment gateway client. KeySecret is the
// server-held secret used both for gateway API auth and capture signature
// verification.
type GatewayConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// EngineConfig configures the external workflow engine client.
type EngineConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// IdentityConfig configures the identity provider client.
type IdentityConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RateLimitConfig selects the admission-control store.
type RateLimitConfig struct {
	Backend       string // memory | redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SweepInterval time.Duration
}

// Load reads configuration from environment variables and an optional .env
// file.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_SERVICE", "creditledger")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")

	v.SetDefault("DATABASE_TYPE", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "creditledger")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_SSLMODE", "disable")

	v.SetDefault("GATEWAY_BASE_URL", "https://api.razorpay.com")
	v.SetDefault("GATEWAY_TIMEOUT_SECONDS", 15)
	v.SetDefault("ENGINE_TIMEOUT_SECONDS", 120)
	v.SetDefault("IDENTITY_TIMEOUT_SECONDS", 10)

	v.SetDefault("RATE_LIMIT_BACKEND", "memory")
	v.SetDefault("RATE_LIMIT_REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_SWEEP_SECONDS", 60)

	return Config{
		AppName:     v.GetString("APP_SERVICE"),
		AppVersion:  v.GetString("APP_VERSION"),
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		HTTPAddr:    v.GetString("HTTP_ADDR"),

		DBType:     v.GetString("DATABASE_TYPE"),
		DBHost:     v.GetString("DATABASE_HOST"),
		DBPort:     v.GetString("DATABASE_PORT"),
		DBName:     v.GetString("DATABASE_NAME"),
		DBUser:     v.GetString("DATABASE_USER"),
		DBPassword: v.GetString("DATABASE_PASSWORD"),
		DBSSLMode:  v.GetString("DATABASE_SSLMODE"),

		Gateway: GatewayConfig{
			BaseURL:   strings.TrimSpace(v.GetString("GATEWAY_BASE_URL")),
			KeyID:     strings.TrimSpace(v.GetString("GATEWAY_KEY_ID")),
			KeySecret: strings.TrimSpace(v.GetString("GATEWAY_KEY_SECRET")),
			Timeout:   time.Duration(v.GetInt("GATEWAY_TIMEOUT_SECONDS")) * time.Second,
		},
		Engine: EngineConfig{
			BaseURL: strings.TrimSpace(v.GetString("ENGINE_BASE_URL")),
			APIKey:  strings.TrimSpace(v.GetString("ENGINE_API_KEY")),
			Timeout: time.Duration(v.GetInt("ENGINE_TIMEOUT_SECONDS")) * time.Second,
		},
		Identity: IdentityConfig{
			BaseURL: strings.TrimSpace(v.GetString("IDENTITY_BASE_URL")),
			Timeout: time.Duration(v.GetInt("IDENTITY_TIMEOUT_SECONDS")) * time.Second,
		},
		RateLimit: RateLimitConfig{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString("RATE_LIMIT_BACKEND"))),
			RedisAddr:     strings.TrimSpace(v.GetString("RATE_LIMIT_REDIS_ADDR")),
			RedisPassword: v.GetString("RATE_LIMIT_REDIS_PASSWORD"),
			RedisDB:       v.GetInt("RATE_LIMIT_REDIS_DB"),
			SweepInterval: time.Duration(v.GetInt("RATE_LIMIT_SWEEP_SECONDS")) * time.Second,
		},
	}
}
