package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides
const EnvPrefix = "DELIVERY"

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Cashbox   CashboxConfig
	Consumer  ConsumerConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	// LockTimeout bounds how long a transaction waits for the cashbox row
	LockTimeout time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds the ops HTTP server configuration
type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// CashboxConfig holds ledger engine settings
type CashboxConfig struct {
	// MaxRetries bounds retries of a unit of work on transient contention
	MaxRetries           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// NotificationBuffer is the capacity of the async ledger event queue
	NotificationBuffer int
	RateCacheTTL       time.Duration
	PubSubChannel      string
	// DefaultCreatedBy is recorded on entries produced by the transition consumer
	DefaultCreatedBy string
}

// ConsumerConfig holds the order transition stream consumer settings
type ConsumerConfig struct {
	Enabled        bool
	Stream         string
	Group          string
	Name           string
	BatchSize      int
	Block          time.Duration
	IdempotencyTTL time.Duration
	// MaxDeliveries dead-letters a message after this many failed attempts
	MaxDeliveries int
	DeadLetter    string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	LogsEnabled       bool // Tee zap records into OTLP logs
	// Database tracing options
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration
	// Continuous profiling
	ProfilingEnabled bool
	PyroscopeURL     string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with DELIVERY_ prefix (e.g., DELIVERY_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			LockTimeout:     v.GetDuration("database.lock_timeout"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			Port:            v.GetString("http.port"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Cashbox: CashboxConfig{
			MaxRetries:           v.GetInt("cashbox.max_retries"),
			RetryInitialInterval: v.GetDuration("cashbox.retry_initial_interval"),
			RetryMaxInterval:     v.GetDuration("cashbox.retry_max_interval"),
			NotificationBuffer:   v.GetInt("cashbox.notification_buffer"),
			RateCacheTTL:         v.GetDuration("cashbox.rate_cache_ttl"),
			PubSubChannel:        v.GetString("cashbox.pubsub_channel"),
			DefaultCreatedBy:     v.GetString("cashbox.default_created_by"),
		},
		Consumer: ConsumerConfig{
			Enabled:        v.GetBool("consumer.enabled"),
			Stream:         v.GetString("consumer.stream"),
			Group:          v.GetString("consumer.group"),
			Name:           v.GetString("consumer.name"),
			BatchSize:      v.GetInt("consumer.batch_size"),
			Block:          v.GetDuration("consumer.block"),
			IdempotencyTTL: v.GetDuration("consumer.idempotency_ttl"),
			MaxDeliveries:  v.GetInt("consumer.max_deliveries"),
			DeadLetter:     v.GetString("consumer.dead_letter"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			PyroscopeURL:      v.GetString("telemetry.pyroscope_url"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "cashbox"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "delivery"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.LockTimeout == 0 {
		cfg.Database.LockTimeout = 5 * time.Second
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Cashbox.MaxRetries == 0 {
		cfg.Cashbox.MaxRetries = 5
	}
	if cfg.Cashbox.RetryInitialInterval == 0 {
		cfg.Cashbox.RetryInitialInterval = 20 * time.Millisecond
	}
	if cfg.Cashbox.RetryMaxInterval == 0 {
		cfg.Cashbox.RetryMaxInterval = 500 * time.Millisecond
	}
	if cfg.Cashbox.NotificationBuffer == 0 {
		cfg.Cashbox.NotificationBuffer = 1024
	}
	if cfg.Cashbox.RateCacheTTL == 0 {
		cfg.Cashbox.RateCacheTTL = 5 * time.Minute
	}
	if cfg.Cashbox.PubSubChannel == "" {
		cfg.Cashbox.PubSubChannel = "cashbox.ledger"
	}
	if cfg.Cashbox.DefaultCreatedBy == "" {
		cfg.Cashbox.DefaultCreatedBy = "system:order-lifecycle"
	}
	if cfg.Consumer.Stream == "" {
		cfg.Consumer.Stream = "orders.transitions"
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = "cashbox"
	}
	if cfg.Consumer.Name == "" {
		cfg.Consumer.Name = "cashbox-1"
	}
	if cfg.Consumer.BatchSize == 0 {
		cfg.Consumer.BatchSize = 16
	}
	if cfg.Consumer.Block == 0 {
		cfg.Consumer.Block = 5 * time.Second
	}
	if cfg.Consumer.IdempotencyTTL == 0 {
		cfg.Consumer.IdempotencyTTL = 72 * time.Hour
	}
	if cfg.Consumer.MaxDeliveries == 0 {
		cfg.Consumer.MaxDeliveries = 10
	}
	if cfg.Consumer.DeadLetter == "" {
		cfg.Consumer.DeadLetter = cfg.Consumer.Stream + ".dead"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "cashbox"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 30 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.PyroscopeURL == "" {
		cfg.Telemetry.PyroscopeURL = "http://localhost:4040"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Cashbox.MaxRetries < 0 {
		return fmt.Errorf("cashbox.max_retries cannot be negative")
	}
	if c.Cashbox.RetryMaxInterval < c.Cashbox.RetryInitialInterval {
		return fmt.Errorf("cashbox.retry_max_interval (%s) cannot be below cashbox.retry_initial_interval (%s)",
			c.Cashbox.RetryMaxInterval, c.Cashbox.RetryInitialInterval)
	}
	if c.Cashbox.NotificationBuffer < 1 {
		return fmt.Errorf("cashbox.notification_buffer must be positive")
	}
	if c.Consumer.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("consumer.enabled requires redis.enabled")
	}
	if c.Consumer.BatchSize < 1 {
		return fmt.Errorf("consumer.batch_size must be positive")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
