package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"transcribe_gateway/internal/billing"
)

// Backend names for the pluggable stores
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort  string
	JWTSecret []byte
	LogLevel  string

	Database    DatabaseConfig
	Cache       CacheConfig
	Redis       RedisConfig
	Vault       VaultConfig
	Billing     BillingConfig
	JobGateway  JobGatewayConfig
	RateLimit   RateLimitConfig
	Settlement  SettlementConfig
	LoggingSink LoggingSinkConfig

	// ServiceKeys are the API keys accepted on the service endpoints
	ServiceKeys []ServiceKeyConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	TeamCacheSize int
	TeamCacheTTL  time.Duration

	// Credential handles handed out by the resolve endpoint
	HandleCacheSize int
	HandleTTL       time.Duration
}

// RedisConfig holds Redis connection settings. Redis is only dialed when
// some backend selects it.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// VaultConfig holds the credential encryption key
type VaultConfig struct {
	// EncryptionKey is a base64 32-byte key or a passphrase
	EncryptionKey string
}

// BillingConfig holds the values behind billing.Settings
type BillingConfig struct {
	FallbackCredential string  `yaml:"fallback_credential"`
	DefaultGuestLimit  float64 `yaml:"default_guest_limit"`
	GuestRatePerSecond float64 `yaml:"guest_rate_per_second"`

	// LedgerBackend is postgres, redis or memory
	LedgerBackend string `yaml:"ledger_backend"`

	// GuardBackend is postgres, redis or memory
	GuardBackend string        `yaml:"guard_backend"`
	GuardTTL     time.Duration `yaml:"guard_ttl"`
}

// JobGatewayConfig points at the transcription job service
type JobGatewayConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RateLimitConfig limits job submissions per user
type RateLimitConfig struct {
	SubmitPerMinute int `yaml:"submit_per_minute"`
}

// SettlementConfig configures the retry worker
type SettlementConfig struct {
	UseRedisQueue bool
	MaxRetries    int
	RetryBackoff  time.Duration
	BatchSize     int
}

// LoggingSinkConfig holds configuration for the S3 settlement audit sink
type LoggingSinkConfig struct {
	Enabled       bool          // Whether to archive settlements to S3
	BufferSize    int           // In-memory queue size
	FlushSize     int           // Flush to S3 after this many records
	FlushInterval time.Duration // Flush to S3 after this duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string // Pod identifier for multi-pod deployments
}

// ServiceKeyConfig is one service API key
type ServiceKeyConfig struct {
	Name  string `yaml:"name"`
	Key   string `yaml:"key"`
	Scope string `yaml:"scope"`
}

// UsesRedis reports whether any component needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Billing.LedgerBackend == BackendRedis ||
		c.Billing.GuardBackend == BackendRedis ||
		c.Settlement.UseRedisQueue ||
		c.RateLimit.SubmitPerMinute > 0
}

// BillingSettings returns the immutable settings for the resolver and settler
func (c *Config) BillingSettings() billing.Settings {
	return billing.Settings{
		FallbackCredential: c.Billing.FallbackCredential,
		DefaultGuestLimit:  c.Billing.DefaultGuestLimit,
		GuestRatePerSecond: c.Billing.GuestRatePerSecond,
	}
}

// Validate checks the config for required fields and consistency
func (c *Config) Validate() error {
	var errs []error

	// Teams, credentials and jobs always live in Postgres
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 bytes"))
	}
	if c.Vault.EncryptionKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY is required"))
	}
	if err := c.BillingSettings().Validate(); err != nil {
		errs = append(errs, err)
	}
	if !validBackend(c.Billing.LedgerBackend) {
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Billing.LedgerBackend))
	}
	if !validBackend(c.Billing.GuardBackend) {
		errs = append(errs, fmt.Errorf("unknown guard backend %q", c.Billing.GuardBackend))
	}
	if c.JobGateway.BaseURL == "" {
		errs = append(errs, errors.New("JOB_GATEWAY_URL is required"))
	}
	if c.LoggingSink.Enabled && c.LoggingSink.S3Bucket == "" {
		errs = append(errs, errors.New("LOGGING_SINK_S3_BUCKET is required when the sink is enabled"))
	}

	names := make(map[string]bool, len(c.ServiceKeys))
	for i, k := range c.ServiceKeys {
		if k.Name == "" || k.Key == "" {
			errs = append(errs, fmt.Errorf("service key[%d]: name and key are required", i))
			continue
		}
		if names[k.Name] {
			errs = append(errs, fmt.Errorf("duplicate service key name %q", k.Name))
		}
		names[k.Name] = true
	}

	return errors.Join(errs...)
}

func validBackend(b string) bool {
	return b == BackendPostgres || b == BackendRedis || b == BackendMemory
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

// parseServiceKeys reads "name:key[:scope]" entries separated by commas
func parseServiceKeys(raw string) []ServiceKeyConfig {
	var keys []ServiceKeyConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		k := ServiceKeyConfig{Name: parts[0]}
		if len(parts) > 1 {
			k.Key = parts[1]
		}
		if len(parts) > 2 {
			k.Scope = parts[2]
		}
		keys = append(keys, k)
	}
	return keys
}

// Load reads configuration from environment variables, then applies the
// YAML file named by CONFIG_FILE when set, then validates the result.
func Load() (*Config, error) {
	cfg := FromEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults
func FromEnv() *Config {
	return &Config{
		HTTPPort:  getEnvString("HTTP_PORT", "8080"),
		JWTSecret: []byte(os.Getenv("JWT_SECRET")),
		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			TeamCacheSize:   getEnvInt("CACHE_TEAM_SIZE", 1000),
			TeamCacheTTL:    getEnvDuration("CACHE_TEAM_TTL", 30*time.Second),
			HandleCacheSize: getEnvInt("CACHE_HANDLE_SIZE", 10000),
			HandleTTL:       getEnvDuration("CACHE_HANDLE_TTL", 2*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Vault: VaultConfig{
			EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		},
		Billing: BillingConfig{
			FallbackCredential: os.Getenv("GUEST_FALLBACK_CREDENTIAL"),
			DefaultGuestLimit:  getEnvFloat("DEFAULT_GUEST_LIMIT", billing.DefaultGuestLimit),
			GuestRatePerSecond: getEnvFloat("GUEST_RATE_PER_SECOND", billing.DefaultGuestRatePerSecond),
			LedgerBackend:      getEnvString("LEDGER_BACKEND", BackendPostgres),
			GuardBackend:       getEnvString("SETTLEMENT_GUARD_BACKEND", BackendPostgres),
			GuardTTL:           getEnvDuration("SETTLEMENT_GUARD_TTL", 0),
		},
		JobGateway: JobGatewayConfig{
			BaseURL:        os.Getenv("JOB_GATEWAY_URL"),
			RequestTimeout: getEnvDuration("JOB_GATEWAY_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			SubmitPerMinute: getEnvInt("RATE_LIMIT_SUBMIT_PER_MINUTE", 0),
		},
		Settlement: SettlementConfig{
			UseRedisQueue: getEnvBool("SETTLEMENT_QUEUE_REDIS", false),
			MaxRetries:    getEnvInt("SETTLEMENT_MAX_RETRIES", 5),
			RetryBackoff:  getEnvDuration("SETTLEMENT_RETRY_BACKOFF", time.Second),
			BatchSize:     getEnvInt("SETTLEMENT_BATCH_SIZE", 50),
		},
		LoggingSink: LoggingSinkConfig{
			Enabled:       getEnvBool("LOGGING_SINK_ENABLED", false),
			BufferSize:    getEnvInt("LOGGING_SINK_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("LOGGING_SINK_FLUSH_SIZE", 500),
			FlushInterval: getEnvDuration("LOGGING_SINK_FLUSH_INTERVAL", time.Minute),
			S3Bucket:      getEnvString("LOGGING_SINK_S3_BUCKET", ""),
			S3Region:      getEnvString("LOGGING_SINK_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("LOGGING_SINK_S3_PREFIX", "settlements/"),
			PodName:       getEnvString("POD_NAME", "gateway-0"),
		},
		ServiceKeys: parseServiceKeys(os.Getenv("SERVICE_API_KEYS")),
	}
}
