// Package config loads kiosksync runtime configuration.
//
// Values are layered: built-in defaults, then an optional config file
// (TOML, YAML or JSON), then KIOSK_* environment variables. A .env file in
// the working directory is loaded into the environment first.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kimhsiao/kiosksync/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g. KIOSK_SYNC_BASE_URL.
const EnvPrefix = "KIOSK"

// Reachability modes.
const (
	ReachabilityHTTP   = "http"
	ReachabilityManual = "manual"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// EncryptionKeyAuto makes kiosksync generate and keep a machine-bound key
// under the data directory instead of reading one from configuration.
const EncryptionKeyAuto = "auto"

// Config captures all runtime configuration for kiosksync.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Reachability ReachabilityConfig `mapstructure:"reachability"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Server       ServerConfig       `mapstructure:"server"`
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string `mapstructure:"env"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// SyncConfig controls the drain loop and delivery.
type SyncConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	PeriodicInterval  time.Duration `mapstructure:"periodic_interval"`
	RetryClientErrors bool          `mapstructure:"retry_client_errors"`
}

// ReachabilityConfig selects how connectivity is observed.
type ReachabilityConfig struct {
	Mode         string        `mapstructure:"mode"`
	ProbeURL     string        `mapstructure:"probe_url"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	WatchFile    string        `mapstructure:"watch_file"`
}

// StorageConfig selects the slot backend and at-rest encryption.
type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

// ServerConfig configures the local control API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".kiosksync"
	}
	return filepath.Join(home, ".kiosksync")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("app.data_dir", DefaultDataDir())
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_file", "")

	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.base_url", "")
	v.SetDefault("sync.request_timeout", 15*time.Second)
	v.SetDefault("sync.periodic_interval", time.Duration(0))
	v.SetDefault("sync.retry_client_errors", true)

	v.SetDefault("reachability.mode", ReachabilityHTTP)
	v.SetDefault("reachability.probe_url", "https://clients3.google.com/generate_204")
	v.SetDefault("reachability.probe_timeout", 5*time.Second)
	v.SetDefault("reachability.poll_interval", 10*time.Second)
	v.SetDefault("reachability.watch_file", "")

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.encryption_key", "")

	v.SetDefault("server.addr", "127.0.0.1:8765")
}

// Default returns the built-in configuration without reading files or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		// defaults are static; a failure here is a programming error
		panic(err)
	}
	return cfg
}

// Load reads configuration. When path is empty, kiosksync.{toml,yaml,json}
// is searched in the working directory and ~/.kiosksync; a missing file is
// not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kiosksync")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, errors.Wrap(errors.ErrConfig, "read config file", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfig, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	var problems []string

	if c.Sync.MaxRetries < 1 {
		problems = append(problems, fmt.Sprintf("sync.max_retries must be >= 1, got %d", c.Sync.MaxRetries))
	}
	if c.Sync.RequestTimeout < 0 {
		problems = append(problems, "sync.request_timeout must not be negative")
	}
	if c.Sync.PeriodicInterval < 0 {
		problems = append(problems, "sync.periodic_interval must not be negative")
	}

	switch c.Reachability.Mode {
	case ReachabilityHTTP:
		if c.Reachability.ProbeURL == "" {
			problems = append(problems, "reachability.probe_url is required in http mode")
		}
	case ReachabilityManual:
	default:
		problems = append(problems, fmt.Sprintf("unknown reachability.mode %q", c.Reachability.Mode))
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.App.DataDir == "" {
			problems = append(problems, "app.data_dir is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Storage.EncryptionKey == EncryptionKeyAuto && c.App.DataDir == "" {
		problems = append(problems, "app.data_dir is required for storage.encryption_key = auto")
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}
