// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/config"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/logging"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Configuration flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "pmscope",
	Short: "Projecta PM RS-485 Telemetry Analyzer",
	Long: `pmscope - A CLI tool for capturing and decoding Projecta power-management
telemetry from the RS-485 bus between the PM controller and its display.

The bus carries no delimiters or checksums: frames are separated by silence
(50 ms by default) and identified by length alone (44, 94 or 102 bytes).

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

Offline commands (decode, scan, chart) read captures written by raw_log or
monitor, one "YYYYMMDDTHHMMSS | HEX BYTES" line per frame.

Settings are read from pmscope.yaml (or --config) and PMSCOPE_* environment
variables; flags override both. For WebSocket authentication, the password is
read from the PMSCOPE_PASSWORD environment variable, or prompted interactively
if not set.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Configuration flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./pmscope.yaml or ~/.config/pmscope/pmscope.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and applies any flags given explicitly
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Serial.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Serial.BaudRate = baudRate
	}
	if flags.Changed("url") {
		cfg.Bridge.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Bridge.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Bridge.InsecureSkipVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the operational logger for a command
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return logger, nil
}
