package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// APIConfig holds settings for the Notification API collaborator.
type APIConfig struct {
	// BaseURL is the root URL of the notification backend.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// RequestTimeoutSec bounds every HTTP request, including polls.
	RequestTimeoutSec int `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec"`

	// FetchLimit caps the number of records requested per full poll.
	FetchLimit int `mapstructure:"fetch_limit" yaml:"fetch_limit"`
}

// EngineConfig holds the synchronization engine knobs.
type EngineConfig struct {
	// PollIntervalSec is the base pull interval; it doubles while the
	// push channel is healthy.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// PollJitter spreads poll timers by +/- this ratio (0.0-1.0).
	PollJitter float64 `mapstructure:"poll_jitter" yaml:"poll_jitter"`

	// FullRefreshEvery forces a full (pruning) poll every N cycles.
	FullRefreshEvery int `mapstructure:"full_refresh_every" yaml:"full_refresh_every"`

	// MaxRetries limits consecutive push reconnect attempts; 0 means unlimited.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// RetryDelayMs is the first reconnect delay; later attempts back off
	// exponentially up to MaxRetryDelayMs.
	RetryDelayMs    int `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	MaxRetryDelayMs int `mapstructure:"max_retry_delay_ms" yaml:"max_retry_delay_ms"`

	// CacheSize is the maximum number of records kept in memory.
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`

	// CacheTTLSec is how long a full refresh keeps listings fresh.
	CacheTTLSec int `mapstructure:"cache_ttl_sec" yaml:"cache_ttl_sec"`

	// RollbackOnFailure restores optimistic changes when a mutation fails.
	RollbackOnFailure bool `mapstructure:"rollback_on_failure" yaml:"rollback_on_failure"`
}

// PushConfig holds settings for the persistent push channel.
type PushConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// NetworkConfig controls connectivity probing.
type NetworkConfig struct {
	// ProbeIntervalSec is how often reachability of the API host is
	// checked; 0 disables probing.
	ProbeIntervalSec int `mapstructure:"probe_interval_sec" yaml:"probe_interval_sec"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// DevServerConfig holds settings for the local development backend.
type DevServerConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	DBPath    string `mapstructure:"db_path" yaml:"db_path"`
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Push      PushConfig      `mapstructure:"push" yaml:"push"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Display   DisplayConfig   `mapstructure:"display" yaml:"display"`
	DevServer DevServerConfig `mapstructure:"devserver" yaml:"devserver"`
}

// envPrefix namespaces environment overrides, e.g. ASSETDASH_API_BASE_URL.
const envPrefix = "ASSETDASH"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/assetdash/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "assetdash", "config.yaml")
}

// DefaultDataDir returns the directory used for logs and the dev database.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "assetdash")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			BaseURL:           "http://127.0.0.1:8090",
			RequestTimeoutSec: 15,
			FetchLimit:        200,
		},
		Engine: EngineConfig{
			PollIntervalSec:   30,
			PollJitter:        0.1,
			FullRefreshEvery:  10,
			MaxRetries:        0,
			RetryDelayMs:      1000,
			MaxRetryDelayMs:   30000,
			CacheSize:         500,
			CacheTTLSec:       60,
			RollbackOnFailure: true,
		},
		Push: PushConfig{
			Enabled:  true,
			Endpoint: "ws://127.0.0.1:8090/ws",
		},
		Network: NetworkConfig{
			ProbeIntervalSec: 10,
		},
		Display: DisplayConfig{
			Theme: "default",
		},
		DevServer: DevServerConfig{
			Addr:   "127.0.0.1:8090",
			DBPath: filepath.Join(DefaultDataDir(), "devserver.db"),
		},
	}
}

// setDefaults mirrors defaultAppConfig into v so that environment
// variables and partial files resolve against the same values.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.request_timeout_sec", d.API.RequestTimeoutSec)
	v.SetDefault("api.fetch_limit", d.API.FetchLimit)
	v.SetDefault("engine.poll_interval_sec", d.Engine.PollIntervalSec)
	v.SetDefault("engine.poll_jitter", d.Engine.PollJitter)
	v.SetDefault("engine.full_refresh_every", d.Engine.FullRefreshEvery)
	v.SetDefault("engine.max_retries", d.Engine.MaxRetries)
	v.SetDefault("engine.retry_delay_ms", d.Engine.RetryDelayMs)
	v.SetDefault("engine.max_retry_delay_ms", d.Engine.MaxRetryDelayMs)
	v.SetDefault("engine.cache_size", d.Engine.CacheSize)
	v.SetDefault("engine.cache_ttl_sec", d.Engine.CacheTTLSec)
	v.SetDefault("engine.rollback_on_failure", d.Engine.RollbackOnFailure)
	v.SetDefault("push.enabled", d.Push.Enabled)
	v.SetDefault("push.endpoint", d.Push.Endpoint)
	v.SetDefault("network.probe_interval_sec", d.Network.ProbeIntervalSec)
	v.SetDefault("display.theme", d.Display.Theme)
	v.SetDefault("devserver.addr", d.DevServer.Addr)
	v.SetDefault("devserver.db_path", d.DevServer.DBPath)
	v.SetDefault("devserver.jwt_secret", d.DevServer.JWTSecret)
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// layered under ASSETDASH_* environment variables (a .env file in the
// working directory is loaded first). A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize replaces out-of-range values with defaults.
func (c *AppConfig) normalize() {
	d := defaultAppConfig()
	if c.API.RequestTimeoutSec <= 0 {
		c.API.RequestTimeoutSec = d.API.RequestTimeoutSec
	}
	if c.API.FetchLimit <= 0 {
		c.API.FetchLimit = d.API.FetchLimit
	}
	if c.Engine.PollIntervalSec <= 0 {
		c.Engine.PollIntervalSec = d.Engine.PollIntervalSec
	}
	if c.Engine.PollJitter < 0 {
		c.Engine.PollJitter = 0
	} else if c.Engine.PollJitter > 1 {
		c.Engine.PollJitter = 1
	}
	if c.Engine.FullRefreshEvery <= 0 {
		c.Engine.FullRefreshEvery = d.Engine.FullRefreshEvery
	}
	if c.Engine.MaxRetries < 0 {
		c.Engine.MaxRetries = 0
	}
	if c.Engine.RetryDelayMs <= 0 {
		c.Engine.RetryDelayMs = d.Engine.RetryDelayMs
	}
	if c.Engine.MaxRetryDelayMs < c.Engine.RetryDelayMs {
		c.Engine.MaxRetryDelayMs = c.Engine.RetryDelayMs
	}
	if c.Engine.CacheSize <= 0 {
		c.Engine.CacheSize = d.Engine.CacheSize
	}
	if c.Engine.CacheTTLSec < 0 {
		c.Engine.CacheTTLSec = 0
	}
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", cfg.API)
	v.Set("engine", cfg.Engine)
	v.Set("push", cfg.Push)
	v.Set("network", cfg.Network)
	v.Set("display", cfg.Display)
	v.Set("devserver", cfg.DevServer)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
