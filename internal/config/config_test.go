package config

import (
	"os"
	"testing"
	"time"

	"log/slog"
)

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != defaultPort {
		t.Errorf("expected default port %q, got %q", defaultPort, cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != defaultReadTimeout {
		t.Errorf("expected default read timeout %v, got %v", defaultReadTimeout, cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != defaultWriteTimeout {
		t.Errorf("expected default write timeout %v, got %v", defaultWriteTimeout, cfg.Server.WriteTimeout)
	}
	if cfg.Server.ShutdownTimeout != defaultShutdownTimeout {
		t.Errorf("expected default shutdown timeout %v, got %v", defaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	}
	if cfg.Logging.Level != slog.LevelInfo {
		t.Errorf("expected default log level %v, got %v", slog.LevelInfo, cfg.Logging.Level)
	}
	if cfg.Logging.Format != defaultLogFormat {
		t.Errorf("expected default log format %q, got %q", defaultLogFormat, cfg.Logging.Format)
	}
	if cfg.Database.URL != defaultDatabaseURL {
		t.Errorf("expected default database URL %q, got %q", defaultDatabaseURL, cfg.Database.URL)
	}
	if cfg.Relay.URL != "" {
		t.Errorf("expected publishing disabled by default, got relay %q", cfg.Relay.URL)
	}
	if cfg.Relay.PublishTimeout != defaultPublishTimeout {
		t.Errorf("expected default publish timeout %v, got %v", defaultPublishTimeout, cfg.Relay.PublishTimeout)
	}
	if cfg.Sync.PageDelay != defaultPageDelay {
		t.Errorf("expected default page delay %v, got %v", defaultPageDelay, cfg.Sync.PageDelay)
	}
	if cfg.Sync.MaxResults != defaultMaxResults {
		t.Errorf("expected default max results %d, got %d", defaultMaxResults, cfg.Sync.MaxResults)
	}
	if cfg.Twitter.HasUserAuth() {
		t.Error("expected no user auth without credentials")
	}
}

func TestLoadWithOverrides(t *testing.T) {
	clearConfigEnv(t)

	overrides := map[string]string{
		"SERVER_PORT":                     "9090",
		"SERVER_READ_TIMEOUT_SECONDS":     "30",
		"SERVER_WRITE_TIMEOUT_SECONDS":    "45",
		"SERVER_SHUTDOWN_TIMEOUT_SECONDS": "15",
		"LOG_LEVEL":                       "debug",
		"LOG_FORMAT":                      "text",
		"DATABASE_URL":                    "postgres://xsync@localhost/xsync?sslmode=disable",
		"PUBLISH_TIMEOUT_SECONDS":         "3",
		"SYNC_PAGE_DELAY_MS":              "250",
		"SYNC_MAX_RESULTS":                "50",
		"SYNC_CONCURRENT_POSTS":           "8",
		"RELAY_URL":                       "wss://relay.example.com",
	}
	for key, value := range overrides {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != overrides["SERVER_PORT"] {
		t.Errorf("expected overridden port %q, got %q", overrides["SERVER_PORT"], cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected read timeout %v, got %v", 30*time.Second, cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 45*time.Second {
		t.Errorf("expected write timeout %v, got %v", 45*time.Second, cfg.Server.WriteTimeout)
	}
	if cfg.Server.ShutdownTimeout != 15*time.Second {
		t.Errorf("expected shutdown timeout %v, got %v", 15*time.Second, cfg.Server.ShutdownTimeout)
	}
	if cfg.Logging.Level != slog.LevelDebug {
		t.Errorf("expected log level %v, got %v", slog.LevelDebug, cfg.Logging.Level)
	}
	if cfg.Logging.Format != overrides["LOG_FORMAT"] {
		t.Errorf("expected log format %q, got %q", overrides["LOG_FORMAT"], cfg.Logging.Format)
	}
	if cfg.Database.URL != overrides["DATABASE_URL"] {
		t.Errorf("expected database URL %q, got %q", overrides["DATABASE_URL"], cfg.Database.URL)
	}
	if cfg.Relay.PublishTimeout != 3*time.Second {
		t.Errorf("expected publish timeout %v, got %v", 3*time.Second, cfg.Relay.PublishTimeout)
	}
	if cfg.Relay.URL != overrides["RELAY_URL"] {
		t.Errorf("expected relay URL %q, got %q", overrides["RELAY_URL"], cfg.Relay.URL)
	}
	if cfg.Sync.PageDelay != 250*time.Millisecond {
		t.Errorf("expected page delay %v, got %v", 250*time.Millisecond, cfg.Sync.PageDelay)
	}
	if cfg.Sync.MaxResults != 50 {
		t.Errorf("expected max results 50, got %d", cfg.Sync.MaxResults)
	}
	if cfg.Sync.ConcurrentPosts != 8 {
		t.Errorf("expected concurrent posts 8, got %d", cfg.Sync.ConcurrentPosts)
	}
}

func TestLoadPartialOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT_SECONDS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("expected overridden read timeout %v, got %v", 5*time.Second, cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != defaultWriteTimeout {
		t.Errorf("expected default write timeout %v, got %v", defaultWriteTimeout, cfg.Server.WriteTimeout)
	}
}

func TestLoadWithInvalidValues(t *testing.T) {
	tests := map[string]string{
		"SERVER_READ_TIMEOUT_SECONDS":     "-1",
		"SERVER_WRITE_TIMEOUT_SECONDS":    "abc",
		"SERVER_SHUTDOWN_TIMEOUT_SECONDS": "3.5",
		"LOG_LEVEL":                       "verbose",
		"LOG_FORMAT":                      "xml",
		"PUBLISH_TIMEOUT_SECONDS":         "0",
		"SYNC_PAGE_DELAY_MS":              "-5",
		"SYNC_MAX_RESULTS":                "500",
		"SYNC_CONCURRENT_POSTS":           "0",
		"DB_MAX_CONNECTIONS":              "none",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(key, value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error when %s=%q", key, value)
			}
		})
	}
}

func TestParseLogLevelAliases(t *testing.T) {
	tests := map[string]slog.Level{
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
	}

	for input, expected := range tests {
		level, err := parseLogLevel(input)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", input, err)
		}

		if level != expected {
			t.Errorf("parseLogLevel(%q) = %v, want %v", input, level, expected)
		}
	}
}

func TestParseSecondsRejectsInvalidInput(t *testing.T) {
	cases := []string{"-1", "abc"}

	for _, input := range cases {
		if _, err := parseSeconds(input); err == nil {
			t.Fatalf("expected error for input %q", input)
		}
	}
}

func TestLoadDoesNotPersistEnvBetweenRuns(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("SERVER_READ_TIMEOUT_SECONDS", "5")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.Unsetenv("SERVER_READ_TIMEOUT_SECONDS"); err != nil {
		t.Fatalf("failed to unset env: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.ReadTimeout != defaultReadTimeout {
		t.Errorf("expected default read timeout after reset, got %v", cfg.Server.ReadTimeout)
	}
}

func TestLoadCloudSQLFallback(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("INSTANCE_CONNECTION_NAME", "proj:eu:db")
	t.Setenv("DB_USER", "sync")
	t.Setenv("DB_NAME", "xsync")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := "host=/cloudsql/proj:eu:db user=sync dbname=xsync sslmode=disable"
	if cfg.Database.URL != want {
		t.Errorf("expected Cloud SQL DSN %q, got %q", want, cfg.Database.URL)
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/xsync")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Database.URL != "postgres://localhost/xsync" {
		t.Errorf("expected DATABASE_URL to win, got %q", cfg.Database.URL)
	}

	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_USER", "")
	if _, err := Load(); err == nil {
		t.Error("expected error for incomplete Cloud SQL settings")
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SERVER_PORT",
		"SERVER_READ_TIMEOUT_SECONDS",
		"SERVER_WRITE_TIMEOUT_SECONDS",
		"SERVER_SHUTDOWN_TIMEOUT_SECONDS",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"PORT",
		"DATABASE_URL",
		"DB_MAX_CONNECTIONS",
		"MIGRATIONS_DIR",
		"TWITTER_BEARER_TOKEN",
		"TWITTER_API_KEY",
		"TWITTER_API_SECRET",
		"TWITTER_ACCESS_TOKEN",
		"TWITTER_ACCESS_SECRET",
		"RELAY_URL",
		"PUBLISH_TIMEOUT_SECONDS",
		"SYNC_PAGE_DELAY_MS",
		"SYNC_MAX_RESULTS",
		"SYNC_POST_LOOKBACK_HOURS",
		"SYNC_ADHOC_LOOKBACK_HOURS",
		"SYNC_CONCURRENT_POSTS",
		"ACCOUNTS_FILE",
		"INSTANCE_CONNECTION_NAME",
		"DB_USER",
		"DB_PASSWORD",
		"DB_NAME",
	}

	for _, key := range keys {
		t.Setenv(key, "")
	}
}
