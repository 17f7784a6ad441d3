package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the vinsight client core.
type Config struct {
	Backend   Backend         `yaml:"backend"`
	Storage   Storage         `yaml:"storage"`
	Server    Server          `yaml:"server"`
	Quotes    QuotesConfig    `yaml:"quotes"`
	Watchlist WatchlistConfig `yaml:"watchlist"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Logging   Logging         `yaml:"logging"`
}

// Backend describes the dashboard REST API and the session used against it.
type Backend struct {
	BaseURL         string `yaml:"base_url"`
	SessionCookie   string `yaml:"session_cookie"`
	SessionToken    string `yaml:"session_token"`
	TimeoutSec      int    `yaml:"timeout_sec"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Storage holds paths for local persistence. Driver selects the guest
// local-storage backend: "sqlite" or "file".
type Storage struct {
	Driver           string `yaml:"driver"`
	SQLitePath       string `yaml:"sqlite_path"`
	LocalStoragePath string `yaml:"local_storage_path"`
	DataDir          string `yaml:"data_dir"`
}

// Server holds listener configuration for the display-facing surfaces.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// QuotesConfig controls the realtime quote scheduler.
type QuotesConfig struct {
	Source            string `yaml:"source"` // "backend" or "alpaca"
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	Archive           bool   `yaml:"archive"`
}

// WatchlistConfig controls how the manager loads lists.
type WatchlistConfig struct {
	LoadAttempts int `yaml:"load_attempts"`
	RetryBaseMs  int `yaml:"retry_base_ms"`
}

// Alpaca holds credentials for the optional direct market-data source.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Timeout returns the backend HTTP timeout.
func (b Backend) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

// RequestTimeout returns the per-poll request timeout.
func (q QuotesConfig) RequestTimeout() time.Duration {
	return time.Duration(q.RequestTimeoutSec) * time.Second
}

// RetryBase returns the initial backoff for list loading.
func (w WatchlistConfig) RetryBase() time.Duration {
	return time.Duration(w.RetryBaseMs) * time.Millisecond
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when a field is absent from the
// YAML file.
func Default() *Config {
	return &Config{
		Backend: Backend{
			BaseURL:         "http://localhost:8000",
			SessionCookie:   "session",
			TimeoutSec:      15,
			RateLimitPerMin: 0,
		},
		Storage: Storage{
			Driver:           "sqlite",
			SQLitePath:       "vinsight.db",
			LocalStoragePath: "vinsight-local.json",
			DataDir:          "data",
		},
		Server: Server{
			Host:     "127.0.0.1",
			Port:     8090,
			GRPCPort: 50061,
		},
		Quotes: QuotesConfig{
			Source:            "backend",
			RequestTimeoutSec: 10,
		},
		Watchlist: WatchlistConfig{
			LoadAttempts: 3,
			RetryBaseMs:  500,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML configuration file at the given path on top of
// Default, then applies environment variable overrides. A .env file in the
// working directory, when present, is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// FromEnv returns Default with .env and environment overrides applied. It is
// used when no configuration file exists.
func FromEnv() *Config {
	_ = godotenv.Load()
	cfg := Default()
	applyEnvOverrides(cfg)
	return cfg
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VINSIGHT_API_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("VINSIGHT_SESSION"); v != "" {
		cfg.Backend.SessionToken = v
	}

	if v := os.Getenv("LOCAL_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOCAL_STORAGE_PATH"); v != "" {
		cfg.Storage.LocalStoragePath = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("QUOTE_SOURCE"); v != "" {
		cfg.Quotes.Source = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars, the names the SDK itself reads.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
