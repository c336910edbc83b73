package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Match    MatchConfig
	Collab   CollabConfig
	JWT      JWTConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// PostgresConfig configures the optional match-history archive. The service
// runs without it when Host is empty.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type MatchConfig struct {
	// RequestTTL is how long a request may stay queued before the sweeper
	// times it out.
	RequestTTL time.Duration
	// RetentionGrace is added to RequestTTL for the stored record's expiry;
	// records are never deleted explicitly.
	RetentionGrace time.Duration
	SweepInterval  time.Duration
	// StreamMarkerTTL bounds how long a dead instance can hold a request's
	// stream slot. Refreshed on every heartbeat.
	StreamMarkerTTL   time.Duration
	HeartbeatInterval time.Duration
}

type CollabConfig struct {
	BaseURL string
	Timeout time.Duration
}

type JWTConfig struct {
	AccessSecret string
}

type LoggingConfig struct {
	Level string
}

// Load loads configuration from environment variables or .env file
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	// Try to read from .env file, but don't fail if it doesn't exist
	_ = viper.ReadInConfig()

	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8083)
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("MATCH_REQUEST_TTL", "30s")
	viper.SetDefault("MATCH_RETENTION_GRACE", "5m")
	viper.SetDefault("MATCH_SWEEP_INTERVAL", "1s")
	viper.SetDefault("MATCH_STREAM_MARKER_TTL", "15s")
	viper.SetDefault("MATCH_HEARTBEAT_INTERVAL", "1s")
	viper.SetDefault("COLLAB_TIMEOUT", "3s")
	viper.SetDefault("LOG_LEVEL", "info")

	config := &Config{
		Server: ServerConfig{
			Host:         viper.GetString("SERVER_HOST"),
			Port:         viper.GetInt("SERVER_PORT"),
			Env:          viper.GetString("ENV"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetInt("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			DBName:   viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSL_MODE"),
		},
		Match: MatchConfig{
			RequestTTL:        viper.GetDuration("MATCH_REQUEST_TTL"),
			RetentionGrace:    viper.GetDuration("MATCH_RETENTION_GRACE"),
			SweepInterval:     viper.GetDuration("MATCH_SWEEP_INTERVAL"),
			StreamMarkerTTL:   viper.GetDuration("MATCH_STREAM_MARKER_TTL"),
			HeartbeatInterval: viper.GetDuration("MATCH_HEARTBEAT_INTERVAL"),
		},
		Collab: CollabConfig{
			BaseURL: viper.GetString("COLLAB_SERVICE_URL"),
			Timeout: viper.GetDuration("COLLAB_TIMEOUT"),
		},
		JWT: JWTConfig{
			AccessSecret: viper.GetString("JWT_ACCESS_SECRET"),
		},
		Logging: LoggingConfig{
			Level: viper.GetString("LOG_LEVEL"),
		},
	}

	// Validate critical configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates critical configuration values
func (c *Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if c.Collab.BaseURL == "" {
		return fmt.Errorf("collab service URL is required")
	}
	if c.JWT.AccessSecret == "" {
		return fmt.Errorf("JWT access secret is required")
	}
	if len(c.JWT.AccessSecret) < 32 {
		return fmt.Errorf("JWT access secret must be at least 32 characters")
	}
	if c.Match.RequestTTL <= 0 {
		return fmt.Errorf("match request TTL must be positive")
	}
	if c.Match.SweepInterval <= 0 {
		return fmt.Errorf("match sweep interval must be positive")
	}
	return nil
}

// HistoryEnabled reports whether the optional Postgres archive is configured.
func (c *Config) HistoryEnabled() bool {
	return c.Postgres.Host != ""
}

// GetDSN returns PostgreSQL connection string
func (c *PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// GetAddr returns Redis address
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
