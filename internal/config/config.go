package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/xsync/xsync/internal/cloudsql"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Database DatabaseConfig
	Twitter  TwitterConfig
	Relay    RelayConfig
	Sync     SyncConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig selects and sizes the durable store. Without DATABASE_URL a
// Cloud SQL socket DSN is built when INSTANCE_CONNECTION_NAME is set, and a
// local SQLite file is used otherwise.
type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MigrationsDir  string
}

// TwitterConfig carries API credentials. Bearer auth is used unless the full set
// of OAuth 1.0a user credentials is present.
type TwitterConfig struct {
	BaseURL      string
	BearerToken  string
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// HasUserAuth reports whether OAuth 1.0a user-context signing is configured.
func (t TwitterConfig) HasUserAuth() bool {
	return t.APIKey != "" && t.APISecret != "" && t.AccessToken != "" && t.AccessSecret != ""
}

// RelayConfig configures the external event relay. An empty URL disables
// publishing; interactions are then persisted as unpublished.
type RelayConfig struct {
	URL            string
	PublicKey      string
	PublishTimeout time.Duration
}

// SyncConfig tunes the collection engine.
type SyncConfig struct {
	PageDelay       time.Duration
	MaxResults      int
	PostLookback    time.Duration
	AdhocLookback   time.Duration
	ConcurrentPosts int
	AccountsFile    string
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultDatabaseURL    = "sqlite://data/xsync.db"
	defaultMaxConnections = 10
	defaultMigrationsDir  = "./migrations"

	defaultTwitterBaseURL = "https://api.twitter.com"

	defaultPublishTimeout = 10 * time.Second

	defaultPageDelay       = time.Second
	defaultMaxResults      = 100
	defaultPostLookback    = 7 * 24 * time.Hour
	defaultAdhocLookback   = 7 * 24 * time.Hour
	defaultConcurrentPosts = 3
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			URL:            os.Getenv("DATABASE_URL"),
			MaxConnections: defaultMaxConnections,
			MigrationsDir:  getEnv("MIGRATIONS_DIR", defaultMigrationsDir),
		},
		Twitter: TwitterConfig{
			BaseURL:      getEnv("TWITTER_BASE_URL", defaultTwitterBaseURL),
			BearerToken:  os.Getenv("TWITTER_BEARER_TOKEN"),
			APIKey:       os.Getenv("TWITTER_API_KEY"),
			APISecret:    os.Getenv("TWITTER_API_SECRET"),
			AccessToken:  os.Getenv("TWITTER_ACCESS_TOKEN"),
			AccessSecret: os.Getenv("TWITTER_ACCESS_SECRET"),
		},
		Relay: RelayConfig{
			URL:            os.Getenv("RELAY_URL"),
			PublicKey:      os.Getenv("RELAY_PUBKEY"),
			PublishTimeout: defaultPublishTimeout,
		},
		Sync: SyncConfig{
			PageDelay:       defaultPageDelay,
			MaxResults:      defaultMaxResults,
			PostLookback:    defaultPostLookback,
			AdhocLookback:   defaultAdhocLookback,
			ConcurrentPosts: defaultConcurrentPosts,
			AccountsFile:    os.Getenv("ACCOUNTS_FILE"),
		},
	}

	if cfg.Database.URL == "" {
		dsn, ok, err := cloudsql.SocketDSN()
		if err != nil {
			return Config{}, fmt.Errorf("invalid Cloud SQL settings: %w", err)
		}
		cfg.Database.URL = defaultDatabaseURL
		if ok {
			cfg.Database.URL = dsn
		}
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if v := os.Getenv("DB_MAX_CONNECTIONS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DB_MAX_CONNECTIONS: %w", err)
		}
		cfg.Database.MaxConnections = n
	}

	if v := os.Getenv("PUBLISH_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil || d == 0 {
			return Config{}, fmt.Errorf("invalid PUBLISH_TIMEOUT_SECONDS: must be a positive integer")
		}
		cfg.Relay.PublishTimeout = d
	}

	if v := os.Getenv("SYNC_PAGE_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return Config{}, fmt.Errorf("invalid SYNC_PAGE_DELAY_MS: must be a non-negative integer")
		}
		cfg.Sync.PageDelay = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("SYNC_MAX_RESULTS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil || n < 5 || n > 100 {
			return Config{}, fmt.Errorf("invalid SYNC_MAX_RESULTS: must be between 5 and 100")
		}
		cfg.Sync.MaxResults = n
	}

	if v := os.Getenv("SYNC_POST_LOOKBACK_HOURS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SYNC_POST_LOOKBACK_HOURS: %w", err)
		}
		cfg.Sync.PostLookback = time.Duration(n) * time.Hour
	}

	if v := os.Getenv("SYNC_ADHOC_LOOKBACK_HOURS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SYNC_ADHOC_LOOKBACK_HOURS: %w", err)
		}
		cfg.Sync.AdhocLookback = time.Duration(n) * time.Hour
	}

	if v := os.Getenv("SYNC_CONCURRENT_POSTS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SYNC_CONCURRENT_POSTS: %w", err)
		}
		cfg.Sync.ConcurrentPosts = n
	}

	return cfg, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
