// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/Thermoquad/tdmalink/pkg/radio/rylr"
)

var discoveryTimeout int

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find attached radio modules",
	Long: `Probe serial ports for RYLR896 family radio modules.

Each port is opened at the radio baud rate and asked for AT, then for its
firmware version, address, network id and band. With --radio-port only that
port is probed, otherwise every port the system reports.

Examples:
  # Probe all serial ports
  tdmalink discovery

  # Probe one port at 57600 baud
  tdmalink discovery --radio-port /dev/ttyUSB1 --radio-baud 57600

Exit codes:
  0 - Discovery successful (at least one module found)
  1 - Discovery failed (no module answered)
  2 - Port enumeration error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 1, "Per-command timeout in seconds")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ports := []string{cfg.Link.RadioPort}
	if cfg.Link.RadioPort == "" {
		var err error
		ports, err = serial.GetPortsList()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Port enumeration error: %v\n", err)
			os.Exit(2)
		}
	}

	fmt.Printf("TDMA Link - Radio Discovery\n")
	fmt.Printf("Baud: %d\n", cfg.Link.RadioBaud)
	fmt.Printf("Timeout: %d seconds per command\n\n", discoveryTimeout)

	found := 0
	for _, name := range ports {
		fmt.Printf("Probing %s... ", name)
		m, err := rylr.Open(name, cfg.Link.RadioBaud,
			rylr.WithCommandTimeout(time.Duration(discoveryTimeout)*time.Second),
			rylr.WithLogger(logger))
		if err != nil {
			fmt.Printf("OPEN FAILED: %v\n", err)
			continue
		}
		info, err := m.Probe()
		_ = m.Close()
		if err != nil {
			fmt.Printf("no module (%v)\n", err)
			continue
		}

		found++
		fmt.Printf("found\n")
		fmt.Printf("  Firmware: %s\n", info.Version)
		fmt.Printf("  Address: %d\n", info.Address)
		fmt.Printf("  Network ID: %d\n", info.NetworkID)
		fmt.Printf("  Band: %d Hz\n", info.Band)
	}

	// Summary
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Ports probed: %d\n", len(ports))
	fmt.Printf("Modules found: %d\n", found)

	if found == 0 {
		fmt.Printf("No modules discovered. Check wiring, power and --radio-baud.\n")
		os.Exit(1)
	}
	return nil
}
