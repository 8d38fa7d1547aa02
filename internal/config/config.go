// Package config loads mfstools' run-time configuration with Viper:
// defaults, an optional config file, and environment variable
// overrides, in that precedence order.
//
// Grounded on the teacher's internal/device/dmg.go (LoadDMGConfig) —
// the same SetDefault/AddConfigPath/SetEnvPrefix/ReadInConfig shape,
// generalized from APFS DMG-offset detection to the backup/restore
// thresholding and compression defaults SPEC_FULL's ambient stack
// calls for.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// RunConfig holds the defaults backup/restore/info fall back to when a
// flag isn't given explicitly on the command line.
type RunConfig struct {
	Threshold        uint32 `mapstructure:"threshold"`
	CompressionLevel uint32 `mapstructure:"compression_level"`
	StreamTotal      bool   `mapstructure:"stream_total"`
	ThreshTotal      bool   `mapstructure:"thresh_total"`
	Balance          bool   `mapstructure:"balance"`
	OutputFormat     string `mapstructure:"output_format"`
	Verbose          bool   `mapstructure:"verbose"`
}

// Load reads mfstools-config.yaml from the current directory, the
// user's $HOME/.mfstools, or /etc/mfstools, falling back to built-in
// defaults, with MFSTOOLS_-prefixed environment variables taking
// precedence over either.
func Load() (*RunConfig, error) {
	viper.SetConfigName("mfstools-config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.mfstools")
	viper.AddConfigPath("/etc/mfstools")

	viper.SetDefault("threshold", uint32(2000))
	viper.SetDefault("compression_level", uint32(6))
	viper.SetDefault("stream_total", false)
	viper.SetDefault("thresh_total", false)
	viper.SetDefault("balance", false)
	viper.SetDefault("output_format", "table")
	viper.SetDefault("verbose", false)

	viper.SetEnvPrefix("MFSTOOLS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg RunConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}
