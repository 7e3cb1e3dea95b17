package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"

	FeedPostgres = "postgres"
	FeedRedis    = "redis"
	FeedSupabase = "supabase"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string
	SupabaseURL string
	SupabaseKey string
	JWTSecret   string
	JWTAudience string

	Backend    string
	ChangeFeed string

	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	FetchTimeout         time.Duration
	RoleCacheTTL         time.Duration
	RefreshDebounce      time.Duration
	DBMaxConns           int

	LogLevel  string
	LogFormat string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		SupabaseURL: os.Getenv("SUPABASE_URL"),
		SupabaseKey: os.Getenv("SUPABASE_KEY"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTAudience: getEnv("JWT_AUDIENCE", "authenticated"),
		Backend:     getEnv("BACKEND", BackendPostgres),
		ChangeFeed:  getEnv("CHANGE_FEED", FeedPostgres),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "console"),
	}

	var err error
	if cfg.ReconnectBaseDelay, err = getDuration("RECONNECT_BASE_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getDuration("FETCH_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.RoleCacheTTL, err = getDuration("ROLE_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshDebounce, err = getDuration("REFRESH_DEBOUNCE", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.MaxReconnectAttempts, err = getInt("MAX_RECONNECT_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.DBMaxConns, err = getInt("DB_MAX_CONNS", 10); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields for the selected backend and change feed.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	switch c.Backend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case BackendSupabase:
		if err := c.requireSupabase(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid BACKEND %q", c.Backend)
	}

	switch c.ChangeFeed {
	case FeedPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres change feed")
		}
	case FeedRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required")
		}
	case FeedSupabase:
		if err := c.requireSupabase(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid CHANGE_FEED %q", c.ChangeFeed)
	}

	if c.ReconnectBaseDelay <= 0 {
		return errors.New("RECONNECT_BASE_DELAY must be positive")
	}
	if c.MaxReconnectAttempts < 1 {
		return errors.New("MAX_RECONNECT_ATTEMPTS must be at least 1")
	}
	if c.DBMaxConns < 1 {
		return errors.New("DB_MAX_CONNS must be at least 1")
	}
	return nil
}

func (c *Config) requireSupabase() error {
	if c.SupabaseURL == "" {
		return errors.New("SUPABASE_URL is required")
	}
	if c.SupabaseKey == "" {
		return errors.New("SUPABASE_KEY is required")
	}
	return nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return n, nil
}
