package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ad-eligibility-engine/internal/engine"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Store struct {
		Backend string `mapstructure:"backend"` // "postgres" | "redis"
	} `mapstructure:"store"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Redis struct {
		Addr           string `mapstructure:"addr"`
		Password       string `mapstructure:"password"`
		DB             int    `mapstructure:"db"`
		Key            string `mapstructure:"key"`
		RetentionHours int    `mapstructure:"retention_hours"`
	} `mapstructure:"redis"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Eligibility struct {
		Mode           string   `mapstructure:"mode"`
		Workers        int      `mapstructure:"workers"`
		HistoryHours   int      `mapstructure:"history_hours"`
		RefreshSeconds int      `mapstructure:"refresh_seconds"`
		DisabledRules  []string `mapstructure:"disabled_rules"`
	} `mapstructure:"eligibility"`
}

// Load reads configs/application.yaml (optional) and APP_* environment overrides,
// e.g. APP_POSTGRES_HOST or APP_ELIGIBILITY_MODE.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("store.backend", "postgres")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.db_name", "ads")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 2)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "ad_events")
	v.SetDefault("redis.retention_hours", 0)
	v.SetDefault("listener.channel", "ad_events_changed")
	v.SetDefault("listener.reconnect_seconds", 5)
	v.SetDefault("eligibility.mode", "accumulate")
	v.SetDefault("eligibility.workers", 0)
	v.SetDefault("eligibility.history_hours", 0)
	v.SetDefault("eligibility.refresh_seconds", 30)
	v.SetDefault("eligibility.disabled_rules", []string{})
}

func validate(c *Config) error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case "postgres", "redis":
	default:
		return fmt.Errorf("store.backend must be postgres or redis, got %q", c.Store.Backend)
	}
	if _, err := engine.ParseMode(c.Eligibility.Mode); err != nil {
		return fmt.Errorf("eligibility.mode: %w", err)
	}
	if c.Eligibility.HistoryHours < 0 {
		return fmt.Errorf("eligibility.history_hours must not be negative, got %d", c.Eligibility.HistoryHours)
	}
	if c.Redis.RetentionHours < 0 {
		return fmt.Errorf("redis.retention_hours must not be negative, got %d", c.Redis.RetentionHours)
	}
	if on := engine.EnabledUnboundedRules(c.Eligibility.DisabledRules); len(on) > 0 {
		if c.Eligibility.HistoryHours > 0 {
			return fmt.Errorf("eligibility.history_hours must be 0 while rules %v are enabled", on)
		}
		if c.Store.Backend == "redis" && c.Redis.RetentionHours > 0 {
			return fmt.Errorf("redis.retention_hours must be 0 while rules %v are enabled", on)
		}
	}
	if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
		return fmt.Errorf("postgres.port must be between 1 and 65535, got %d", c.Postgres.Port)
	}
	if c.Postgres.MaxOpenConns <= 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns < 0 || c.Postgres.MaxIdleConns > c.Postgres.MaxOpenConns {
		c.Postgres.MaxIdleConns = c.Postgres.MaxOpenConns
	}
	if c.Listener.ReconnectSeconds <= 0 {
		c.Listener.ReconnectSeconds = 5
	}
	if c.Eligibility.RefreshSeconds <= 0 {
		c.Eligibility.RefreshSeconds = 30
	}
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration {
	return time.Duration(c.Listener.ReconnectSeconds) * time.Second
}

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Eligibility.RefreshSeconds) * time.Second
}

func (c Config) History() time.Duration { return time.Duration(c.Eligibility.HistoryHours) * time.Hour }

// Retention is how long the redis store keeps events. 0 keeps everything.
func (c Config) Retention() time.Duration { return time.Duration(c.Redis.RetentionHours) * time.Hour }

// Mode is the validated evaluation mode.
func (c Config) Mode() engine.Mode {
	m, _ := engine.ParseMode(c.Eligibility.Mode)
	return m
}
