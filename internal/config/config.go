package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Backend   BackendConfig
	Stripe    StripeConfig
	Booking   BookingConfig
	Drafts    DraftConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Security  SecurityConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration. An empty URL disables Postgres.
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds the secret used to verify access tokens issued by the backend
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// BackendConfig holds the reservation backend client configuration
type BackendConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
}

// StripeConfig holds payment gateway configuration
type StripeConfig struct {
	SecretKey         string // SECRET - never expose to client
	PublishableKey    string // Fallback when the backend config endpoint is unreachable
	APIURL            string // Optional override for stripe-mock
	ReturnURL         string // Where the gateway redirects after 3-D Secure
	MaxNetworkRetries int64
}

// BookingConfig holds the flow and retry settings
type BookingConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	ConfirmTimeout time.Duration // Upper bound for a detached confirm sequence
	FlowIdleTTL    time.Duration
	PruneSchedule  string // robfig/cron spec with seconds
}

// DraftConfig selects where recovery drafts live
type DraftConfig struct {
	Backend       string // memory, redis, postgres
	TTL           time.Duration
	PurgeSchedule string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig holds inbound rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSec float64
	Burst          int
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRequestLog bool
	EnableAuditLog   bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Backend: BackendConfig{
			BaseURL:        getEnv("BACKEND_BASE_URL", "http://localhost:8081"),
			Timeout:        time.Duration(getEnvAsInt("BACKEND_TIMEOUT_SECONDS", 30)) * time.Second,
			RequestsPerSec: getEnvAsFloat("BACKEND_REQUESTS_PER_SECOND", 0),
			Burst:          getEnvAsInt("BACKEND_BURST", 5),
		},
		Stripe: StripeConfig{
			SecretKey:         getEnv("STRIPE_SECRET_KEY", ""),
			PublishableKey:    getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			APIURL:            getEnv("STRIPE_API_URL", ""),
			ReturnURL:         getEnv("STRIPE_RETURN_URL", "http://localhost:3000/booking/return"),
			MaxNetworkRetries: int64(getEnvAsInt("STRIPE_MAX_NETWORK_RETRIES", 2)),
		},
		Booking: BookingConfig{
			MaxRetries:     getEnvAsInt("CONFIRM_MAX_RETRIES", 3),
			BaseDelay:      time.Duration(getEnvAsInt("CONFIRM_BASE_DELAY_MS", 2000)) * time.Millisecond,
			MaxDelay:       time.Duration(getEnvAsInt("CONFIRM_MAX_DELAY_MS", 15000)) * time.Millisecond,
			ConfirmTimeout: time.Duration(getEnvAsInt("CONFIRM_TIMEOUT_SECONDS", 120)) * time.Second,
			FlowIdleTTL:    time.Duration(getEnvAsInt("FLOW_IDLE_TTL_MINUTES", 60)) * time.Minute,
			PruneSchedule:  getEnv("FLOW_PRUNE_SCHEDULE", "0 */5 * * * *"),
		},
		Drafts: DraftConfig{
			Backend:       getEnv("DRAFT_STORE", "memory"),
			TTL:           time.Duration(getEnvAsInt("DRAFT_TTL_HOURS", 24)) * time.Hour,
			PurgeSchedule: getEnv("DRAFT_PURGE_SCHEDULE", "0 0 * * * *"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSec: getEnvAsFloat("RATE_LIMIT_REQUESTS_PER_SECOND", 5),
			Burst:          getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Security: SecurityConfig{
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
			EnableAuditLog:   getEnvAsBool("ENABLE_AUDIT_LOGGING", true),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}

	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}

	switch c.Drafts.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DRAFT_STORE=postgres")
		}
	default:
		return fmt.Errorf("invalid DRAFT_STORE: %s (must be 'memory', 'redis' or 'postgres')", c.Drafts.Backend)
	}

	if c.Booking.MaxRetries < 0 {
		return fmt.Errorf("CONFIRM_MAX_RETRIES must not be negative")
	}

	if c.Booking.BaseDelay <= 0 || c.Booking.MaxDelay < c.Booking.BaseDelay {
		return fmt.Errorf("CONFIRM_MAX_DELAY_MS must be at least CONFIRM_BASE_DELAY_MS")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %v", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
