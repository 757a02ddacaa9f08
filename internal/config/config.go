package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Authz     AuthzConfig
	Events    EventsConfig
	WebSocket WebSocketConfig
	Worker    WorkerConfig
	Policy    PolicyConfig
	Tracing   TracingConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLSEnabled    bool
	TLSSkipVerify bool
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level           string
	Format          string
	SamplingEnabled bool
	SkipHealthLogs  bool
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret           string
	JWTIssuer           string
	AccessTokenDuration time.Duration

	// Keycloak realm tokens are accepted next to locally signed ones when
	// KeycloakJWKSURL is set.
	KeycloakJWKSURL         string
	KeycloakIssuer          string
	KeycloakAudience        string
	KeycloakOrgClaim        string
	KeycloakRefreshInterval time.Duration
}

// KeycloakEnabled reports whether realm tokens are accepted.
func (c AuthConfig) KeycloakEnabled() bool {
	return c.KeycloakJWKSURL != ""
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration
}

// AuthzConfig holds authorization engine settings.
type AuthzConfig struct {
	// CacheTTL bounds how long an effective set stays in Redis.
	CacheTTL time.Duration

	// DepartmentLocationVisibility lets department grants satisfy location checks.
	DepartmentLocationVisibility bool

	// FeatureRefreshInterval is how often the feature map is reloaded from the policy source.
	FeatureRefreshInterval time.Duration

	// FacilityRefreshInterval is how often locations and departments are reloaded.
	FacilityRefreshInterval time.Duration

	// InlineInvalidationLimit is the largest role membership invalidated
	// inside the request; larger ones go to the job queue.
	InlineInvalidationLimit int

	// ExpirySchedule is the cron spec of the expiry notifier.
	ExpirySchedule string
	ExpiryLookback time.Duration
}

// EventsConfig holds change event bus settings.
type EventsConfig struct {
	Channel          string
	Shards           int
	SubscriberBuffer int
}

// WebSocketConfig holds the subscription transport settings.
type WebSocketConfig struct {
	MaxConnectionsPerUser int
	AllowedOrigins        []string
}

// WorkerConfig holds background job settings.
type WorkerConfig struct {
	Enabled     bool
	Concurrency int
}

// PolicySource names where the policy document is read from.
type PolicySource string

const (
	PolicySourceEmbedded PolicySource = "embedded"
	PolicySourceFile     PolicySource = "file"
	PolicySourceS3       PolicySource = "s3"
	PolicySourceGit      PolicySource = "git"
)

// PolicyConfig locates the system role and feature map document.
type PolicyConfig struct {
	Source PolicySource
	Path   string

	S3Bucket        string
	S3Key           string
	S3Region        string
	S3Endpoint      string
	AccessKeyID     string
	SecretAccessKey string
	AssumeRoleARN   string
	ExternalID      string

	GitURL    string
	GitBranch string
	GitPath   string
	GitToken  string
}

// TracingConfig holds OpenTelemetry export settings.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "ehr-authz"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 1<<20),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "ehr"),
			Password:        getEnv("DB_PASSWORD", "secret"),
			Name:            getEnv("DB_NAME", "ehr_authz"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			TLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
			TLSSkipVerify: getEnvBool("REDIS_TLS_SKIP_VERIFY", false),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
			MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
		},
		Log: LogConfig{
			Level:           getEnv("LOG_LEVEL", "info"),
			Format:          getEnv("LOG_FORMAT", "json"),
			SamplingEnabled: getEnvBool("LOG_SAMPLING_ENABLED", false),
			SkipHealthLogs:  getEnvBool("LOG_SKIP_HEALTH", true),
		},
		Auth: AuthConfig{
			JWTSecret:           getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer:           getEnv("AUTH_JWT_ISSUER", "ehr-authz"),
			AccessTokenDuration: getEnvDuration("AUTH_ACCESS_TOKEN_DURATION", 15*time.Minute),

			KeycloakJWKSURL:         getEnv("KEYCLOAK_JWKS_URL", ""),
			KeycloakIssuer:          getEnv("KEYCLOAK_ISSUER", ""),
			KeycloakAudience:        getEnv("KEYCLOAK_AUDIENCE", ""),
			KeycloakOrgClaim:        getEnv("KEYCLOAK_ORG_CLAIM", "org_id"),
			KeycloakRefreshInterval: getEnvDuration("KEYCLOAK_JWKS_REFRESH_INTERVAL", time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 50),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 100),
			CleanupInterval:   getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", time.Minute),
		},
		Authz: AuthzConfig{
			CacheTTL:                     getEnvDuration("AUTHZ_CACHE_TTL", 5*time.Minute),
			DepartmentLocationVisibility: getEnvBool("AUTHZ_DEPARTMENT_LOCATION_VISIBILITY", false),
			FeatureRefreshInterval:       getEnvDuration("AUTHZ_FEATURE_REFRESH_INTERVAL", 5*time.Minute),
			FacilityRefreshInterval:      getEnvDuration("AUTHZ_FACILITY_REFRESH_INTERVAL", 5*time.Minute),
			InlineInvalidationLimit:      getEnvInt("AUTHZ_INLINE_INVALIDATION_LIMIT", 100),
			ExpirySchedule:               getEnv("AUTHZ_EXPIRY_SCHEDULE", "@every 1m"),
			ExpiryLookback:               getEnvDuration("AUTHZ_EXPIRY_LOOKBACK", 10*time.Minute),
		},
		Events: EventsConfig{
			Channel:          getEnv("EVENTS_CHANNEL", "authz:permission_changes"),
			Shards:           getEnvInt("EVENTS_SHARDS", 32),
			SubscriberBuffer: getEnvInt("EVENTS_SUBSCRIBER_BUFFER", 16),
		},
		WebSocket: WebSocketConfig{
			MaxConnectionsPerUser: getEnvInt("WS_MAX_CONNECTIONS_PER_USER", 10),
			AllowedOrigins:        getEnvSlice("WS_ALLOWED_ORIGINS", nil),
		},
		Worker: WorkerConfig{
			Enabled:     getEnvBool("WORKER_ENABLED", true),
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 5),
		},
		Policy: PolicyConfig{
			Source:          PolicySource(strings.ToLower(getEnv("POLICY_SOURCE", string(PolicySourceEmbedded)))),
			Path:            getEnv("POLICY_PATH", ""),
			S3Bucket:        getEnv("POLICY_S3_BUCKET", ""),
			S3Key:           getEnv("POLICY_S3_KEY", "policy.yaml"),
			S3Region:        getEnv("POLICY_S3_REGION", "us-east-1"),
			S3Endpoint:      getEnv("POLICY_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("POLICY_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("POLICY_S3_SECRET_ACCESS_KEY", ""),
			AssumeRoleARN:   getEnv("POLICY_S3_ASSUME_ROLE_ARN", ""),
			ExternalID:      getEnv("POLICY_S3_EXTERNAL_ID", ""),
			GitURL:          getEnv("POLICY_GIT_URL", ""),
			GitBranch:       getEnv("POLICY_GIT_BRANCH", ""),
			GitPath:         getEnv("POLICY_GIT_PATH", "policy.yaml"),
			GitToken:        getEnv("POLICY_GIT_TOKEN", ""),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	if err := c.validateAuthz(); err != nil {
		return err
	}
	if c.Auth.KeycloakEnabled() && c.Auth.KeycloakIssuer == "" {
		return fmt.Errorf("KEYCLOAK_ISSUER is required when KEYCLOAK_JWKS_URL is set")
	}
	return c.validatePolicy()
}

func (c *Config) validateLog() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}
	return nil
}

func (c *Config) validateAuthz() error {
	if c.Authz.CacheTTL <= 0 {
		return fmt.Errorf("AUTHZ_CACHE_TTL must be positive, got %v", c.Authz.CacheTTL)
	}
	if c.Authz.ExpirySchedule == "" {
		return fmt.Errorf("AUTHZ_EXPIRY_SCHEDULE is required")
	}
	if c.Events.Shards < 1 || c.Events.Shards > 1024 {
		return fmt.Errorf("EVENTS_SHARDS must be between 1 and 1024, got %d", c.Events.Shards)
	}
	if c.Events.SubscriberBuffer < 1 {
		return fmt.Errorf("EVENTS_SUBSCRIBER_BUFFER must be positive, got %d", c.Events.SubscriberBuffer)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1) {
		return fmt.Errorf("rate limit requires positive RATE_LIMIT_RPS and RATE_LIMIT_BURST")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0.0 and 1.0, got %f", c.Tracing.SampleRatio)
	}
	return nil
}

func (c *Config) validatePolicy() error {
	switch c.Policy.Source {
	case PolicySourceEmbedded:
	case PolicySourceFile:
		if c.Policy.Path == "" {
			return fmt.Errorf("POLICY_PATH is required when POLICY_SOURCE=file")
		}
	case PolicySourceS3:
		if c.Policy.S3Bucket == "" || c.Policy.S3Key == "" {
			return fmt.Errorf("POLICY_S3_BUCKET and POLICY_S3_KEY are required when POLICY_SOURCE=s3")
		}
	case PolicySourceGit:
		if c.Policy.GitURL == "" {
			return fmt.Errorf("POLICY_GIT_URL is required when POLICY_SOURCE=git")
		}
		if (c.Policy.AccessKeyID == "") != (c.Policy.SecretAccessKey == "") {
			return fmt.Errorf("POLICY_S3_ACCESS_KEY_ID and POLICY_S3_SECRET_ACCESS_KEY must be set together")
		}
	default:
		return fmt.Errorf("invalid POLICY_SOURCE: %s (must be embedded, file, s3, or git)", c.Policy.Source)
	}
	return nil
}

func (c *Config) validateProduction() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 characters in production")
	}
	if c.App.Debug {
		return fmt.Errorf("debug mode must be disabled in production")
	}
	if strings.EqualFold(c.Log.Level, "debug") {
		return fmt.Errorf("log level should not be 'debug' in production")
	}
	if c.Redis.Password == "" {
		return fmt.Errorf("redis password must be set in production")
	}
	if !c.Redis.TLSEnabled || c.Redis.TLSSkipVerify {
		return fmt.Errorf("redis TLS must be enabled and verified in production")
	}
	if len(c.WebSocket.AllowedOrigins) == 0 {
		return fmt.Errorf("WS_ALLOWED_ORIGINS must be set in production")
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if parts := splitAndTrim(value, ","); len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
