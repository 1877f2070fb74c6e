// Package config loads the coordinator's settings from a poe.yaml/poe.toml
// file and POE_*-prefixed environment variables, mirroring the viper setup
// in the example corpus's own config packages.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is every setting the coordinator, analyzer, and differ need.
type Config struct {
	OutputDir      string        `mapstructure:"outputDir"`
	Always         bool          `mapstructure:"always"`
	SamplerEnabled bool          `mapstructure:"samplerEnabled"`
	SamplerHz      int           `mapstructure:"samplerHz"`
	RedactAllow    []string      `mapstructure:"redactAllow"`
	RedactDeny     []string      `mapstructure:"redactDeny"`
	RulesDir       string        `mapstructure:"rulesDir"`
	StoreBatchSize int           `mapstructure:"storeBatchSize"`
	StoreBatchWait time.Duration `mapstructure:"storeBatchWait"`
	StdioTailBytes int           `mapstructure:"stdioTailBytes"`
}

// Load reads configuration from an optional poe.yaml/poe.toml in dir,
// layered under built-in defaults and over-ridable via POE_* environment
// variables (e.g. POE_ALWAYS=1, POE_SAMPLERHZ=199).
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("poe")
	v.AddConfigPath(dir)
	v.AddConfigPath(".")

	v.SetDefault("outputDir", ".")
	v.SetDefault("always", false)
	v.SetDefault("samplerEnabled", true)
	v.SetDefault("samplerHz", 99)
	v.SetDefault("rulesDir", "")
	v.SetDefault("storeBatchSize", 200)
	v.SetDefault("storeBatchWait", 50*time.Millisecond)
	v.SetDefault("stdioTailBytes", 1<<20)

	v.SetEnvPrefix("POE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: reading poe config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Default returns the result of Load("."), falling back to the built-in
// defaults when Load fails.
func Default() *Config {
	cfg, _ := Load(".")
	if cfg != nil {
		return cfg
	}
	return &Config{
		OutputDir: ".", SamplerEnabled: true, SamplerHz: 99,
		StoreBatchSize: 200, StoreBatchWait: 50 * time.Millisecond, StdioTailBytes: 1 << 20,
	}
}
