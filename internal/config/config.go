// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Games    GamesConfig    `mapstructure:"games"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds cache connection configuration.
type RedisConfig struct {
	Host string        `mapstructure:"host"`
	Port int           `mapstructure:"port"`
	DB   int           `mapstructure:"db"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// WebhookConfig holds outcome notification configuration.
type WebhookConfig struct {
	Targets       []string      `mapstructure:"targets"`
	Secret        string        `mapstructure:"secret"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffStep   time.Duration `mapstructure:"backoff_step"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	Retention     time.Duration `mapstructure:"retention"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []string `mapstructure:"ids"`
}

// GamesConfig holds per-game default settings.
type GamesConfig struct {
	NumberPick NumberPickConfig `mapstructure:"number_pick"`
	Quiz       QuizConfig       `mapstructure:"quiz"`
}

// NumberPickConfig holds defaults for number-pick sessions.
type NumberPickConfig struct {
	RangeMin              int `mapstructure:"range_min"`
	RangeMax              int `mapstructure:"range_max"`
	SelectionPhaseSeconds int `mapstructure:"selection_phase_seconds"`
	JoinPhaseSeconds      int `mapstructure:"join_phase_seconds"`
	MinCapacity           int `mapstructure:"min_capacity"`
	MaxCapacity           int `mapstructure:"max_capacity"`
}

// QuizConfig holds defaults for quiz sessions.
type QuizConfig struct {
	QuestionCount      int `mapstructure:"question_count"`
	SecondsPerQuestion int `mapstructure:"seconds_per_question"`
	JoinPhaseSeconds   int `mapstructure:"join_phase_seconds"`
	MinCapacity        int `mapstructure:"min_capacity"`
	MaxCapacity        int `mapstructure:"max_capacity"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Addr returns the Redis host:port address.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// Environment variables use underscore separator and uppercase
	// e.g., SERVER_ADDR, DATABASE_HOST, WEBHOOK_SECRET
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gameengine")
	v.SetDefault("database.name", "gameengine")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "5s")

	// Webhook defaults
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.backoff_step", "2s")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.sweep_schedule", "@every 5m")
	v.SetDefault("webhook.retention", "168h")

	// Game defaults
	v.SetDefault("games.number_pick.range_min", 1)
	v.SetDefault("games.number_pick.range_max", 100)
	v.SetDefault("games.number_pick.selection_phase_seconds", 60)
	v.SetDefault("games.number_pick.join_phase_seconds", 120)
	v.SetDefault("games.number_pick.min_capacity", 2)
	v.SetDefault("games.number_pick.max_capacity", 50)
	v.SetDefault("games.quiz.question_count", 5)
	v.SetDefault("games.quiz.seconds_per_question", 15)
	v.SetDefault("games.quiz.join_phase_seconds", 120)
	v.SetDefault("games.quiz.min_capacity", 1)
	v.SetDefault("games.quiz.max_capacity", 50)
}

// IsAdmin checks if a caller ID is in the admin list.
func (c *Config) IsAdmin(callerID string) bool {
	for _, id := range c.Admin.IDs {
		if id == callerID {
			return true
		}
	}
	return false
}
