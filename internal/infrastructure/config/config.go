package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g. ORDERSYNC_REMOTE_BASE_URL
const EnvPrefix = "ORDERSYNC"

// Config holds the configuration of both the field agent and the reference store
type Config struct {
	App         AppConfig
	Log         LogConfig
	Queue       QueueConfig
	Remote      RemoteConfig
	Gateway     GatewayConfig
	Sync        SyncConfig
	Pricing     PricingConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	RemoteStore RemoteStoreConfig
	HTTP        HTTPConfig
	Telemetry   TelemetryConfig
}

// AppConfig holds process-wide settings
type AppConfig struct {
	Name       string
	Env        string
	DeviceID   string // identifies the field device in logs and remote requests
	ListenAddr string // agent local API
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level   string // debug, info, warn, error
	Format  string // json, console
	Output  string // stdout, stderr, or file path
	DBLevel string // gorm level: silent, error, warn, info
}

// QueueConfig holds the durable offline queue settings
type QueueConfig struct {
	Path string // sqlite file
}

// RemoteConfig holds the RPC client settings
type RemoteConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
}

// GatewayConfig holds stock commit path settings
type GatewayConfig struct {
	// ReprobeInterval is how long the sequential fallback stays selected
	// before the atomic capability is tried again
	ReprobeInterval time.Duration
}

// SyncConfig holds sync coordinator and trigger settings
type SyncConfig struct {
	ItemTimeout               time.Duration
	CronSchedule              string // empty disables scheduled sync
	ConnectivityCheckInterval time.Duration
	HistorySize               int
	SyncOnStart               bool
}

// PricingConfig holds pricing feed settings
type PricingConfig struct {
	CacheTTL time.Duration
}

// DatabaseConfig holds the reference store postgres connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// RemoteStoreConfig holds reference store server settings
type RemoteStoreConfig struct {
	ListenAddr     string
	AtomicEnabled  bool
	IdempotencyTTL time.Duration
	MigrationsPath string
}

// HTTPConfig holds HTTP server settings shared by both servers
type HTTPConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodySize  int64
	// RateLimit is the per-device request budget of the RPC server per RateWindow. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	MetricsInterval   time.Duration
	// DBTracing adds a span per SQL statement while Enabled is set
	DBTracing          bool
	SlowQueryThreshold time.Duration
	// Logs exports zap records over OTLP while Enabled is set
	Logs bool
}

// Load reads configuration. Priority, highest first:
//  1. environment variables with the ORDERSYNC_ prefix
//  2. a .env file in the working directory (or the file named by ORDERSYNC_ENV_FILE)
//  3. config.toml
//  4. built-in defaults
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ordersync")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Name:       v.GetString("app.name"),
			Env:        v.GetString("app.env"),
			DeviceID:   v.GetString("app.device_id"),
			ListenAddr: v.GetString("app.listen_addr"),
		},
		Log: LogConfig{
			Level:   v.GetString("log.level"),
			Format:  v.GetString("log.format"),
			Output:  v.GetString("log.output"),
			DBLevel: v.GetString("log.db_level"),
		},
		Queue: QueueConfig{
			Path: v.GetString("queue.path"),
		},
		Remote: RemoteConfig{
			BaseURL:       v.GetString("remote.base_url"),
			Timeout:       v.GetDuration("remote.timeout"),
			RetryCount:    v.GetInt("remote.retry_count"),
			RetryWaitTime: v.GetDuration("remote.retry_wait_time"),
		},
		Gateway: GatewayConfig{
			ReprobeInterval: v.GetDuration("gateway.reprobe_interval"),
		},
		Sync: SyncConfig{
			ItemTimeout:               v.GetDuration("sync.item_timeout"),
			CronSchedule:              v.GetString("sync.cron_schedule"),
			ConnectivityCheckInterval: v.GetDuration("sync.connectivity_check_interval"),
			HistorySize:               v.GetInt("sync.history_size"),
			SyncOnStart:               v.GetBool("sync.sync_on_start"),
		},
		Pricing: PricingConfig{
			CacheTTL: v.GetDuration("pricing.cache_ttl"),
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
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RemoteStore: RemoteStoreConfig{
			ListenAddr:     v.GetString("remote_store.listen_addr"),
			AtomicEnabled:  v.GetBool("remote_store.atomic_enabled"),
			IdempotencyTTL: v.GetDuration("remote_store.idempotency_ttl"),
			MigrationsPath: v.GetString("remote_store.migrations_path"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
			MaxBodySize:  v.GetInt64("http.max_body_size"),
			RateLimit:    v.GetInt("http.rate_limit"),
			RateWindow:   v.GetDuration("http.rate_window"),
		},
		Telemetry: TelemetryConfig{
			Enabled:            v.GetBool("telemetry.enabled"),
			CollectorEndpoint:  v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:      v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:        v.GetString("telemetry.service_name"),
			Insecure:           v.GetBool("telemetry.insecure"),
			MetricsInterval:    v.GetDuration("telemetry.metrics_interval"),
			DBTracing:          v.GetBool("telemetry.db_tracing"),
			SlowQueryThreshold: v.GetDuration("telemetry.slow_query_threshold"),
			Logs:               v.GetBool("telemetry.logs"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads .env without overriding variables already set in the process
func loadDotEnv() error {
	path := os.Getenv(EnvPrefix + "_ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ordersync")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.listen_addr", "127.0.0.1:8090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.db_level", "warn")

	v.SetDefault("queue.path", "ordersync-queue.db")

	v.SetDefault("remote.base_url", "http://localhost:8080")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("remote.retry_count", 2)
	v.SetDefault("remote.retry_wait_time", 500*time.Millisecond)

	v.SetDefault("gateway.reprobe_interval", 30*time.Minute)

	v.SetDefault("sync.item_timeout", 20*time.Second)
	v.SetDefault("sync.cron_schedule", "@every 5m")
	v.SetDefault("sync.connectivity_check_interval", 15*time.Second)
	v.SetDefault("sync.history_size", 20)
	v.SetDefault("sync.sync_on_start", true)

	v.SetDefault("pricing.cache_ttl", 10*time.Minute)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "ordersync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("remote_store.listen_addr", ":8080")
	v.SetDefault("remote_store.atomic_enabled", true)
	v.SetDefault("remote_store.idempotency_ttl", 72*time.Hour)
	v.SetDefault("remote_store.migrations_path", "migrations")

	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.max_body_size", 1<<20)
	v.SetDefault("http.rate_limit", 600)
	v.SetDefault("http.rate_window", time.Minute)

	v.SetDefault("telemetry.collector_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sampling_ratio", 1.0)
	v.SetDefault("telemetry.service_name", "ordersync")
	v.SetDefault("telemetry.metrics_interval", 30*time.Second)
	v.SetDefault("telemetry.db_tracing", true)
	v.SetDefault("telemetry.slow_query_threshold", 200*time.Millisecond)
	v.SetDefault("telemetry.logs", true)
}

func (c *Config) validate() error {
	if c.Queue.Path == "" {
		return fmt.Errorf("queue.path is required")
	}
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("remote.base_url must be an absolute URL, got %q", c.Remote.BaseURL)
	}
	if c.Remote.RetryCount < 0 {
		return fmt.Errorf("remote.retry_count cannot be negative")
	}
	if c.Sync.ItemTimeout <= 0 {
		return fmt.Errorf("sync.item_timeout must be positive")
	}
	if c.Sync.ConnectivityCheckInterval < 0 {
		return fmt.Errorf("sync.connectivity_check_interval cannot be negative")
	}
	if c.Sync.HistorySize <= 0 {
		return fmt.Errorf("sync.history_size must be positive")
	}
	if c.Sync.CronSchedule != "" {
		if _, err := cron.ParseStandard(c.Sync.CronSchedule); err != nil {
			return fmt.Errorf("sync.cron_schedule %q: %w", c.Sync.CronSchedule, err)
		}
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit cannot be negative")
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateWindow <= 0 {
		return fmt.Errorf("http.rate_window must be positive when http.rate_limit is set")
	}
	if c.App.Env == "production" {
		if c.App.DeviceID == "" {
			return fmt.Errorf("app.device_id is required in production")
		}
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// DSN returns the postgres connection string with escaped credentials
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

// Addr returns the redis host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
