// Package config loads medsync settings from defaults, an optional config
// file, a .env file and MEDSYNC_ environment variables, in increasing
// order of precedence.
//
// Keys are dotted (sync.interval); the matching environment variable
// replaces dots with underscores (MEDSYNC_SYNC_INTERVAL).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/medsync/medsync/internal/remote"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MEDSYNC"

type Config struct {
	Local  LocalConfig  `mapstructure:"local"`
	Remote RemoteConfig `mapstructure:"remote"`
	Sync   SyncConfig   `mapstructure:"sync"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Log    LogConfig    `mapstructure:"log"`

	// File is the config file that was read, empty if none.
	File string `mapstructure:"-"`
}

type LocalConfig struct {
	Path string `mapstructure:"path"`
}

type RemoteConfig struct {
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// Options converts the section into remote.Open options.
func (c RemoteConfig) Options() remote.Config {
	return remote.Config{
		Driver:   c.Driver,
		URL:      c.URL,
		Database: c.Database,
		MaxConns: c.MaxConns,
		MinConns: c.MinConns,
	}
}

type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	RecordTimeout time.Duration `mapstructure:"record_timeout"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("local.path", filepath.Join(".medsync", "local.db"))

	v.SetDefault("remote.driver", "")
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.database", "")
	v.SetDefault("remote.max_conns", 10)
	v.SetDefault("remote.min_conns", 1)

	v.SetDefault("sync.interval", "30s")
	v.SetDefault("sync.probe_interval", "15s")
	v.SetDefault("sync.probe_timeout", "5s")
	v.SetDefault("sync.record_timeout", "10s")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads the configuration. An explicit file must exist; without one,
// medsync.{yaml,toml,json} is looked up in the working directory and then
// in $HOME/.config/medsync, and its absence is not an error.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("medsync")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "medsync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	return cfg, nil
}

// Validate checks settings every command needs.
func (c *Config) Validate() error {
	if c.Local.Path == "" {
		return fmt.Errorf("local.path is required")
	}

	switch c.Remote.Driver {
	case "", remote.DriverPostgres, remote.DriverLibSQL, remote.DriverCouchDB, remote.DriverMemory:
	default:
		return fmt.Errorf("remote.driver must be %q, %q, %q or %q, got %q",
			remote.DriverPostgres, remote.DriverLibSQL, remote.DriverCouchDB, remote.DriverMemory, c.Remote.Driver)
	}
	if c.Remote.MaxConns < 0 || c.Remote.MinConns < 0 || c.Remote.MinConns > c.Remote.MaxConns {
		return fmt.Errorf("remote.min_conns (%d) and remote.max_conns (%d) must satisfy 0 <= min <= max",
			c.Remote.MinConns, c.Remote.MaxConns)
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{"sync.interval", c.Sync.Interval},
		{"sync.probe_interval", c.Sync.ProbeInterval},
		{"sync.probe_timeout", c.Sync.ProbeTimeout},
		{"sync.record_timeout", c.Sync.RecordTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.d)
		}
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be \"json\" or \"console\", got %q", c.Log.Format)
	}
	return nil
}

// ValidateRemote checks the settings needed to reach the remote store.
func (c *Config) ValidateRemote() error {
	if c.Remote.Driver == "" {
		return fmt.Errorf("remote.driver is required to sync")
	}
	if c.Remote.URL == "" && c.Remote.Driver != remote.DriverMemory {
		return fmt.Errorf("remote.url is required for the %s driver", c.Remote.Driver)
	}
	if c.Remote.Driver == remote.DriverCouchDB && c.Remote.Database == "" {
		return fmt.Errorf("remote.database is required for the couchdb driver")
	}
	return nil
}
