// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 50*time.Millisecond, cfg.Framing.Gap)
	assert.Equal(t, 5*time.Millisecond, cfg.Framing.PollInterval)
	assert.Equal(t, 1024, cfg.Framing.ReadSize)
	assert.Equal(t, "json", cfg.Sinks.HTTP.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.Bridge.Username)
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pmscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serial:
  port: /dev/ttyUSB1
framing:
  gap: 80ms
sinks:
  http:
    endpoint: http://192.168.1.10:8000/projecta
    format: cbor
    onlyVariants: [TELEMETRY]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 80*time.Millisecond, cfg.Framing.Gap)
	assert.Equal(t, "cbor", cfg.Sinks.HTTP.Format)
	assert.Equal(t, []string{"TELEMETRY"}, cfg.Sinks.HTTP.OnlyVariants)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PMSCOPE_CONFIG", "")
	t.Setenv("PMSCOPE_SERIAL_BAUDRATE", "19200")
	t.Setenv("PMSCOPE_LOGGING_LEVEL", "debug")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 19200, cfg.Serial.BaudRate)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero gap", func(c *Config) { c.Framing.Gap = 0 }},
		{"poll not shorter than gap", func(c *Config) { c.Framing.PollInterval = c.Framing.Gap }},
		{"zero read size", func(c *Config) { c.Framing.ReadSize = 0 }},
		{"bad format", func(c *Config) { c.Sinks.HTTP.Format = "xml" }},
		{"negative rate", func(c *Config) { c.Sinks.HTTP.RateLimit = -1 }},
		{"bad variant", func(c *Config) { c.Sinks.HTTP.OnlyVariants = []string{"BOGUS"} }},
		{"bad parity", func(c *Config) { c.Serial.Parity = "X" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPortOptions_Normalize(t *testing.T) {
	opts, err := PortOptions{Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"}, opts)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)

	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)
}
