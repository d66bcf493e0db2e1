package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers understood by the link repository factory.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

// Click sinks understood by the redirect path.
const (
	ClickSinkLocal = "local"
	ClickSinkNATS  = "nats"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Log        LogConfig        `mapstructure:"log"`
	Shortener  ShortenerConfig  `mapstructure:"shortener"`
	Store      StoreConfig      `mapstructure:"store"`
	Clicks     ClicksConfig     `mapstructure:"clicks"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

type AppConfig struct {
	Env         string   `mapstructure:"env"`
	Addr        string   `mapstructure:"addr"`
	BaseURL     string   `mapstructure:"base_url"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// IsDevelopment reports whether the service runs outside production.
func (c AppConfig) IsDevelopment() bool {
	return c.Env != "production"
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type ShortenerConfig struct {
	CodeLength   int     `mapstructure:"code_length"`
	MaxAttempts  int     `mapstructure:"max_attempts"`
	BloomSize    uint    `mapstructure:"bloom_size"`
	BloomFPRate  float64 `mapstructure:"bloom_fp_rate"`
	DefaultLimit int     `mapstructure:"default_limit"`
	MaxLimit     int     `mapstructure:"max_limit"`
	QRSize       int     `mapstructure:"qr_size"`
}

type StoreConfig struct {
	Driver   string        `mapstructure:"driver"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// Cache enables the Redis cache-aside layer in front of the store.
	Cache bool `mapstructure:"cache"`
}

type ClicksConfig struct {
	Sink           string        `mapstructure:"sink"`
	QueueSize      int           `mapstructure:"queue_size"`
	Workers        int           `mapstructure:"workers"`
	DedupRetention time.Duration `mapstructure:"dedup_retention"`
	PruneInterval  time.Duration `mapstructure:"prune_interval"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return load(v)
}

// LoadFile reads configuration from an explicit YAML file, still honouring env overrides.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.App.BaseURL = strings.TrimRight(cfg.App.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.base_url", "http://localhost:8080")
	v.SetDefault("app.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")

	v.SetDefault("shortener.code_length", 7)
	v.SetDefault("shortener.max_attempts", 5)
	v.SetDefault("shortener.bloom_size", 1_000_000)
	v.SetDefault("shortener.bloom_fp_rate", 0.001)
	v.SetDefault("shortener.default_limit", 100)
	v.SetDefault("shortener.max_limit", 500)
	v.SetDefault("shortener.qr_size", 256)

	v.SetDefault("store.driver", StoreDriverPostgres)
	v.SetDefault("store.timeout", 3*time.Second)
	v.SetDefault("store.cache", false)
	v.SetDefault("store.cache_ttl", time.Hour)

	v.SetDefault("clicks.sink", ClickSinkLocal)
	v.SetDefault("clicks.queue_size", 1024)
	v.SetDefault("clicks.workers", 4)
	v.SetDefault("clicks.dedup_retention", 24*time.Hour)
	v.SetDefault("clicks.prune_interval", 10*time.Minute)

	v.SetDefault("sqlite.path", "shortlink.db")

	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.port", 9090)
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.env", "APP_ENV")
	v.BindEnv("app.addr", "APP_ADDR")
	v.BindEnv("app.base_url", "APP_BASE_URL")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.encoding", "LOG_ENCODING")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("clicks.sink", "CLICK_SINK")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	v.BindEnv("sqlite.path", "SQLITE_PATH")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")

	v.BindEnv("prometheus.port", "PROM_PORT")
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Clicks.Sink {
	case ClickSinkLocal, ClickSinkNATS:
	default:
		return fmt.Errorf("config: unknown click sink %q", c.Clicks.Sink)
	}
	if c.Shortener.CodeLength < 6 || c.Shortener.CodeLength > 16 {
		return fmt.Errorf("config: shortener.code_length must be between 6 and 16, got %d", c.Shortener.CodeLength)
	}
	if c.Shortener.MaxAttempts < 1 {
		return fmt.Errorf("config: shortener.max_attempts must be positive")
	}
	if c.App.BaseURL == "" {
		return errors.New("config: app.base_url is required")
	}
	if c.Store.Timeout <= 0 {
		return errors.New("config: store.timeout must be positive")
	}
	return nil
}
