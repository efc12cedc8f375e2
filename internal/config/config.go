// Package config loads the service configuration from the environment.
// Invalid configuration rejects startup; nothing is skipped silently.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/dermaglow/resolve/internal/models"
)

type Config struct {
	Server     ServerConfig
	Logger     LoggerConfig
	CORS       CORSConfig
	Storage    StorageConfig
	Redis      RedisConfig
	Queue      QueueConfig
	Monitoring MonitoringConfig
	Resolver   ResolverConfig
	Policies   []PolicyConfig
	Backends   map[string]string
	Defaults   map[string]json.RawMessage
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type LoggerConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// StorageConfig selects the task store and result cache backend
type StorageConfig struct {
	// Backend is "memory" or "redis"
	Backend string
}

type RedisConfig struct {
	Host               string
	Port               string
	Password           string
	Database           int
	PoolSize           int
	MinIdleConnections int
	MaxRetries         int
	DialTimeout        time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
}

type QueueConfig struct {
	Workers        int
	Capacity       int
	RetentionTTL   time.Duration
	GCInterval     time.Duration
	FallbackBudget time.Duration
}

type MonitoringConfig struct {
	BufferSize          int
	WindowSize          int
	WindowAge           time.Duration
	AggregationInterval time.Duration
	AlertThreshold      float64
	TrendDelta          float64
	EventLogSize        int
}

type ResolverConfig struct {
	CacheTTL time.Duration
}

// PolicyConfig is one entry of the SERVICE_POLICIES table
type PolicyConfig struct {
	ServiceType       string  `json:"-" validate:"required,min=1,max=128"`
	SyncLimitSeconds  float64 `json:"sync_limit_seconds" validate:"required,gt=0"`
	AsyncLimitSeconds float64 `json:"async_limit_seconds" validate:"required,gt=0,gtfield=SyncLimitSeconds"`
	FallbackStrategy  string  `json:"fallback_strategy" validate:"required,oneof=cached simplified default partial"`
}

// ToPolicy converts a config entry to the domain policy
func (p PolicyConfig) ToPolicy() models.ServiceTimeoutPolicy {
	return models.ServiceTimeoutPolicy{
		ServiceType:      p.ServiceType,
		SyncLimit:        time.Duration(p.SyncLimitSeconds * float64(time.Second)),
		AsyncLimit:       time.Duration(p.AsyncLimitSeconds * float64(time.Second)),
		FallbackStrategy: models.FallbackStrategyID(p.FallbackStrategy),
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "localhost"),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "X-Request-ID"}),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "memory"),
		},
		Redis: RedisConfig{
			Host:               getEnv("REDIS_HOST", "localhost"),
			Port:               getEnv("REDIS_PORT", "6379"),
			Password:           getEnv("REDIS_PASSWORD", ""),
			Database:           getEnvInt("REDIS_DATABASE", 0),
			PoolSize:           getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConnections: getEnvInt("REDIS_MIN_IDLE_CONNECTIONS", 2),
			MaxRetries:         getEnvInt("REDIS_MAX_RETRIES", 3),
			DialTimeout:        getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:        getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:       getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			IdleTimeout:        getEnvDuration("REDIS_IDLE_TIMEOUT", 5*time.Minute),
		},
		Queue: QueueConfig{
			Workers:        getEnvInt("QUEUE_WORKERS", 4),
			Capacity:       getEnvInt("QUEUE_CAPACITY", 256),
			RetentionTTL:   getEnvDuration("QUEUE_RETENTION_TTL", 30*time.Minute),
			GCInterval:     getEnvDuration("QUEUE_GC_INTERVAL", time.Minute),
			FallbackBudget: getEnvDuration("QUEUE_FALLBACK_BUDGET", 2*time.Second),
		},
		Monitoring: MonitoringConfig{
			BufferSize:          getEnvInt("MONITORING_BUFFER_SIZE", 4096),
			WindowSize:          getEnvInt("MONITORING_WINDOW_SIZE", 1000),
			WindowAge:           getEnvDuration("MONITORING_WINDOW_AGE", 5*time.Minute),
			AggregationInterval: getEnvDuration("MONITORING_AGGREGATION_INTERVAL", 10*time.Second),
			AlertThreshold:      getEnvFloat("MONITORING_ALERT_THRESHOLD", 0.25),
			TrendDelta:          getEnvFloat("MONITORING_TREND_DELTA", 0.05),
			EventLogSize:        getEnvInt("MONITORING_EVENT_LOG_SIZE", 2048),
		},
		Resolver: ResolverConfig{
			CacheTTL: getEnvDuration("RESOLVER_CACHE_TTL", 10*time.Minute),
		},
	}

	policies, err := parsePolicies(getEnv("SERVICE_POLICIES", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVICE_POLICIES: %w", err)
	}
	config.Policies = policies

	backends, err := parseBackends(getEnv("SERVICE_BACKENDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVICE_BACKENDS: %w", err)
	}
	config.Backends = backends

	if raw := getEnv("SERVICE_DEFAULT_RESULTS", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &config.Defaults); err != nil {
			return nil, fmt.Errorf("invalid SERVICE_DEFAULT_RESULTS: %w", err)
		}
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// parsePolicies decodes the SERVICE_POLICIES JSON table, keyed by service
// type. Any invalid entry rejects the whole table: misconfiguration must be
// visible at startup, not at request time.
func parsePolicies(raw string) ([]PolicyConfig, error) {
	if raw == "" {
		return nil, nil
	}

	var table map[string]PolicyConfig
	if err := json.Unmarshal([]byte(raw), &table); err != nil {
		return nil, err
	}

	validate := validator.New()
	policies := make([]PolicyConfig, 0, len(table))
	for serviceType, entry := range table {
		entry.ServiceType = serviceType
		if err := validate.Struct(entry); err != nil {
			return nil, fmt.Errorf("policy for %q: %w", serviceType, err)
		}
		policies = append(policies, entry)
	}
	return policies, nil
}

func parseBackends(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}

	var backends map[string]string
	if err := json.Unmarshal([]byte(raw), &backends); err != nil {
		return nil, err
	}
	for serviceType, url := range backends {
		if url == "" {
			return nil, fmt.Errorf("backend for %q has an empty url", serviceType)
		}
	}
	return backends, nil
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}

	switch c.Storage.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	if c.Storage.Backend == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("redis host is required for the redis backend")
	}

	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Server.Env) == "production"
}

func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Server.Env) == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
