// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tdmalink/internal/config"
	"github.com/Thermoquad/tdmalink/internal/logging"
)

var (
	configPath string

	// Host link flags
	portName string
	baudRate int

	// WebSocket host link flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Radio module flags
	radioPort string
	radioBaud int

	// Loaded in PersistentPreRunE
	cfg    config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tdmalink",
	Short: "TDMA packet radio link",
	Long: `tdmalink - A time-division packet radio link between one coordinator and
several peripherals.

The coordinator announces one slot per peripheral, collects its burst, asks for
missing packets and forwards the reassembled burst to its host. Peripherals
buffer host messages and only transmit in their own slot.

Host link modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

The radio module is attached with --radio-port (RYLR896 family AT modules).

For WebSocket authentication, the password is read from the TDMALINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")

	// Host link flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Host serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Host baud rate (serial only)")

	// WebSocket host link flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Host WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Radio flags, defaults come from the configuration file
	rootCmd.PersistentFlags().StringVar(&radioPort, "radio-port", "", "Radio module serial port (overrides link.radio_port)")
	rootCmd.PersistentFlags().IntVar(&radioBaud, "radio-baud", 0, "Radio module baud rate (overrides link.radio_baud)")
}

// loadConfig reads --config and applies the flags that override it
func loadConfig(cmd *cobra.Command, args []string) error {
	logger = logging.Init(cmd.Name())

	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("radio-port") {
		c.Link.RadioPort = radioPort
	}
	if flags.Changed("radio-baud") {
		c.Link.RadioBaud = radioBaud
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = c
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
