/*
config.go - Server configuration

PURPOSE:
  Loads the settings of the reconciliation server from defaults, an
  optional config file and RECON_* environment variables, in that order
  of precedence (environment wins).

KEYS:
  http.port               Listen port (default 8080)
  http.allowed_origins    CORS origins
  store.driver            sqlite | postgres
  store.sqlite_path       Database file, ":memory:" for throwaway demos
  store.postgres_dsn      Back-office connection string
  cache.redis_addr        Empty disables the shared result cache
  cache.redis_password
  cache.redis_db
  cache.ttl               Lifetime of shared drill-down results
  sessions.idle_timeout   Drill-down sessions unused this long are evicted
  sessions.sweep_interval How often the sweeper looks for idle sessions
  source.retry_after      Hint sent with 503 responses
  log.level               zerolog level name
  log.pretty              Console writer instead of JSON

ENVIRONMENT:
  Dots become underscores: cache.redis_addr is RECON_CACHE_REDIS_ADDR.
  A .env file in the working directory is loaded first when present.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "RECON"

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Store    StoreConfig    `mapstructure:"store"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Source   SourceConfig   `mapstructure:"source"`
	Log      LogConfig      `mapstructure:"log"`
}

type HTTPConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type SessionsConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SourceConfig struct {
	RetryAfter time.Duration `mapstructure:"retry_after"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func (c Config) Address() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}

// NewViper returns a viper instance carrying every default and the
// environment binding. Callers may bind CLI flags into it before Load.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "reconciliation.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("sessions.idle_timeout", 30*time.Minute)
	v.SetDefault("sessions.sweep_interval", time.Minute)
	v.SetDefault("source.retry_after", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration with a fresh viper instance.
func Load(path string) (*Config, error) {
	return LoadWith(NewViper(), path)
}

// LoadWith reads path (when not empty) into v and decodes the result.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("sessions.sweep_interval must be positive")
	}
	return nil
}
