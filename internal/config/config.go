// Package config loads server and CLI settings from defaults, an optional
// config file, and TRAZO_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config carries every tunable the CLI and the API server read.
type Config struct {
	// ListenAddr is the HTTP bind address for the serve command.
	ListenAddr string `mapstructure:"listen_addr"`

	// DataDir is the root under which the draft cache lives.
	DataDir string `mapstructure:"data_dir"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// CompressionThreshold is the payload size in bytes above which evidence
	// binaries are compressed. Zero selects the built-in default.
	CompressionThreshold int `mapstructure:"compression_threshold"`
}

// Load reads configuration. path may be empty, in which case only defaults and
// environment variables apply; a named file that cannot be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("data_dir", ".")
	v.SetDefault("log_level", "info")
	v.SetDefault("compression_threshold", 0)

	v.SetEnvPrefix("TRAZO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the rest of the program cannot act on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("compression_threshold must not be negative")
	}
	return nil
}

// Logger builds a logrus logger honoring the configured level.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	return log
}
