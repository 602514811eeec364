package config

// Package config provides a reusable loader for the xlnd daemon's
// environment-driven configuration. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0

import (
	"github.com/spf13/viper"

	"synnergy-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified runtime configuration for an xlnd process,
// sourced entirely from XLN_* environment variables.
type Config struct {
	TickMS           int    `mapstructure:"tick_ms" json:"tick_ms"`
	SnapshotInterval uint64 `mapstructure:"snapshot_interval" json:"snapshot_interval"`
	StorageType      string `mapstructure:"storage_type" json:"storage_type"` // "memory" | "leveldb"
	StoragePath      string `mapstructure:"storage_path" json:"storage_path"`
	LogLevel         string `mapstructure:"log_level" json:"log_level"`
	EnableMetrics    bool   `mapstructure:"enable_metrics" json:"enable_metrics"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// setDefaults mirrors the zero-config single-process deployment the
// daemon falls back to when no environment variable is set.
func setDefaults(v *viper.Viper) {
	v.SetDefault("tick_ms", 100)
	v.SetDefault("snapshot_interval", 1000)
	v.SetDefault("storage_type", "memory")
	v.SetDefault("storage_path", "./xln-data")
	v.SetDefault("log_level", "info")
	v.SetDefault("enable_metrics", false)
}

// Load builds Config entirely from the environment plus defaults; env
// is currently unused, reserved for a future per-env config file
// overlay.
func Load(env string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("xln")
	for _, key := range []string{"tick_ms", "snapshot_interval", "storage_type", "storage_path", "log_level", "enable_metrics"} {
		if err := v.BindEnv(key); err != nil {
			return nil, utils.Wrap(err, "bind env "+key)
		}
	}
	v.AutomaticEnv()

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the XLN_ENV environment
// variable to select a deployment profile, currently a no-op hook
// reserved for future per-profile overrides.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("XLN_ENV", ""))
}
