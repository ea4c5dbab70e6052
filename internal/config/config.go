// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads pmscope settings from defaults, an optional YAML file
// and PMSCOPE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (PMSCOPE_SERIAL_PORT, ...)
const EnvPrefix = "PMSCOPE"

// BridgeConfig describes the WebSocket bridge connection
type BridgeConfig struct {
	URL                string `mapstructure:"url" yaml:"url"`
	Username           string `mapstructure:"username" yaml:"username"`
	InsecureSkipVerify bool   `mapstructure:"insecureSkipVerify" yaml:"insecureSkipVerify"`
}

// FramingConfig controls the live read loop
type FramingConfig struct {
	Gap          time.Duration `mapstructure:"gap" yaml:"gap"`
	PollInterval time.Duration `mapstructure:"pollInterval" yaml:"pollInterval"`
	ReadSize     int           `mapstructure:"readSize" yaml:"readSize"`
}

// LumberjackConfig configures a size-rotated file
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize" yaml:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge" yaml:"maxAge"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// LoggingConfig configures the operational logger
type LoggingConfig struct {
	Level  string           `mapstructure:"level" yaml:"level"`
	Format string           `mapstructure:"format" yaml:"format"`
	File   LumberjackConfig `mapstructure:"file" yaml:"file"`
}

// CaptureConfig configures the raw frame log
type CaptureConfig struct {
	Enable bool             `mapstructure:"enable" yaml:"enable"`
	File   LumberjackConfig `mapstructure:"file" yaml:"file"`
}

// CSVSinkConfig configures the decoded CSV output
type CSVSinkConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// HTTPSinkConfig configures snapshot posting
type HTTPSinkConfig struct {
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	Format       string        `mapstructure:"format" yaml:"format"` // json or cbor
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries      int           `mapstructure:"retries" yaml:"retries"`
	// RateLimit caps posts per second (0 = unlimited). Changes inside the
	// limit are coalesced; the newest one is posted on shutdown.
	RateLimit    float64       `mapstructure:"rateLimit" yaml:"rateLimit"`
	Burst        int           `mapstructure:"burst" yaml:"burst"`
	OnlyVariants []string      `mapstructure:"onlyVariants" yaml:"onlyVariants"`
}

// SQLiteSinkConfig configures snapshot history storage
type SQLiteSinkConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SinksConfig groups the snapshot consumers. Empty paths disable a sink.
type SinksConfig struct {
	CSV    CSVSinkConfig    `mapstructure:"csv" yaml:"csv"`
	HTTP   HTTPSinkConfig   `mapstructure:"http" yaml:"http"`
	SQLite SQLiteSinkConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

// HTTPConfig configures the status API
type HTTPConfig struct {
	Enable       bool          `mapstructure:"enable" yaml:"enable"`
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout"`
	HistorySize  int           `mapstructure:"historySize" yaml:"historySize"`
}

// MetricsConfig configures the Prometheus endpoint on the status API
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable" yaml:"enable"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// Config is the complete pmscope configuration
type Config struct {
	Serial  PortOptions   `mapstructure:"serial" yaml:"serial"`
	Bridge  BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	Framing FramingConfig `mapstructure:"framing" yaml:"framing"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Sinks   SinksConfig   `mapstructure:"sinks" yaml:"sinks"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// Load reads configuration from path, or from PMSCOPE_CONFIG, or from
// pmscope.yaml in the working directory or ~/.config/pmscope. A missing file
// is only an error when a path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/pmscope")
		}
		v.SetConfigName("pmscope")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment is set
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults are static and always decode
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baudRate", 9600)
	v.SetDefault("serial.dataBits", 8)
	v.SetDefault("serial.stopBits", 1)
	v.SetDefault("serial.parity", "N")

	v.SetDefault("bridge.url", "")
	v.SetDefault("bridge.username", "")
	v.SetDefault("bridge.insecureSkipVerify", false)

	v.SetDefault("framing.gap", "50ms")
	v.SetDefault("framing.pollInterval", "5ms")
	v.SetDefault("framing.readSize", 1024)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("capture.enable", false)
	v.SetDefault("capture.file.filename", "projecta_log.txt")
	v.SetDefault("capture.file.maxSize", 100)
	v.SetDefault("capture.file.maxBackups", 10)
	v.SetDefault("capture.file.maxAge", 0)
	v.SetDefault("capture.file.compress", false)

	v.SetDefault("sinks.csv.path", "")
	v.SetDefault("sinks.http.endpoint", "")
	v.SetDefault("sinks.http.format", "json")
	v.SetDefault("sinks.http.timeout", "5s")
	v.SetDefault("sinks.http.retries", 3)
	v.SetDefault("sinks.http.rateLimit", 0)
	v.SetDefault("sinks.http.burst", 1)
	v.SetDefault("sinks.http.onlyVariants", []string{})
	v.SetDefault("sinks.sqlite.path", "")

	v.SetDefault("http.enable", false)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")
	v.SetDefault("http.historySize", 600)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	if _, err := c.Serial.Normalize(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if c.Framing.Gap <= 0 {
		return fmt.Errorf("framing.gap must be positive, got %v", c.Framing.Gap)
	}
	if c.Framing.PollInterval <= 0 {
		return fmt.Errorf("framing.pollInterval must be positive, got %v", c.Framing.PollInterval)
	}
	if c.Framing.PollInterval >= c.Framing.Gap {
		return fmt.Errorf("framing.pollInterval (%v) must be shorter than framing.gap (%v)",
			c.Framing.PollInterval, c.Framing.Gap)
	}
	if c.Framing.ReadSize <= 0 {
		return fmt.Errorf("framing.readSize must be positive, got %d", c.Framing.ReadSize)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q: expected debug, info, warn or error", c.Logging.Level)
	}
	switch strings.ToLower(c.Sinks.HTTP.Format) {
	case "json", "cbor":
	default:
		return fmt.Errorf("sinks.http.format %q: expected json or cbor", c.Sinks.HTTP.Format)
	}
	if c.Sinks.HTTP.RateLimit < 0 {
		return fmt.Errorf("sinks.http.rateLimit must not be negative")
	}
	for _, name := range c.Sinks.HTTP.OnlyVariants {
		switch strings.ToUpper(name) {
		case "PMDCS", "TELEMETRY":
		default:
			return fmt.Errorf("sinks.http.onlyVariants: unknown variant %q", name)
		}
	}
	return nil
}
