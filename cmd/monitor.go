// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tdmalink/internal/mqttpub"
	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch burst reports published by a coordinator",
	Long: `Subscribe to the burst reports a coordinator publishes over MQTT and track
link health with statistics.

Reported events:
  - Lost packets that could not be recovered
  - Retransmission requests and recovered packets
  - Aborted bursts and framing errors
  - Silent and skipped peripherals

By default, only problems are displayed. Use --show-all to display every burst.

The broker comes from --mqtt-broker or report.mqtt_broker, the topic from
report.mqtt_topic. The password is read from TDMALINK_MQTT_PASSWORD.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "MQTT broker to subscribe to (overrides report.mqtt_broker)")
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all bursts (not just problems)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	broker := cfg.Report.MQTTBroker
	if mqttBroker != "" {
		broker = mqttBroker
	}
	if broker == "" {
		return errors.New("no MQTT broker: set --mqtt-broker or report.mqtt_broker")
	}

	if useTUI {
		return runMonitorTUI(broker)
	}
	return runMonitorText(broker)
}

// runMonitorTUI shows reports on the dashboard
func runMonitorTUI(broker string) error {
	p := tea.NewProgram(newDashboard("TDMALINK - MONITOR", broker, cfg.Link.Slaves, showAll), tea.WithAltScreen())
	reporter := dashboardReporter{program: p}

	sub, err := mqttpub.Subscribe(mqttOptions(broker), reporter.Report, logger)
	if err != nil {
		return err
	}
	defer sub.Close()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runMonitorText prints problem reports as they arrive
func runMonitorText(broker string) error {
	fmt.Printf("TDMA Link - Monitor\n")
	fmt.Printf("Broker: %s  Topic: %s\n", broker, cfg.Report.MQTTTopic)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All bursts\n")
	} else {
		fmt.Printf("Mode: Problems only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	reports := make(chan tdma.BurstReport, 64)
	sub, err := mqttpub.Subscribe(mqttOptions(broker), func(r tdma.BurstReport) {
		select {
		case reports <- r:
		default:
			logger.Warn().Int("slave", r.Slave).Msg("monitor falling behind, report dropped")
		}
	}, logger)
	if err != nil {
		return err
	}
	defer sub.Close()

	stats := tdma.NewStatistics()
	statsTicker := time.NewTicker(time.Duration(max(statsInterval, 1)) * time.Second)
	defer statsTicker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	for {
		select {
		case r := <-reports:
			stats.Report(r)
			printReport(r, showAll)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case <-sig:
			fmt.Println()
			fmt.Print(stats.String())
			return nil
		}
	}
}

// printReport prints one burst report in highlighted format
func printReport(r tdma.BurstReport, all bool) {
	timestamp := r.Time.Format("15:04:05.000")
	if r.Time.IsZero() {
		timestamp = time.Now().Format("15:04:05.000")
	}
	if r.Synced {
		fmt.Printf("[%s] \033[1;36mSYNC:\033[0m countdown broadcast\n", timestamp)
	}

	switch {
	case r.Skipped:
		if all {
			fmt.Printf("[%s] slave %d skipped (backing off)\n", timestamp, r.Slave)
		}
	case r.Inactive:
		fmt.Printf("[%s] \033[1;33mINACTIVE:\033[0m slave %d did not answer\n", timestamp, r.Slave)
	case r.Aborted:
		fmt.Printf("[%s] \033[1;31mABORTED:\033[0m slave %d\n", timestamp, r.Slave)
		fmt.Printf("  Framing errors: %d, origin mismatches: %d\n\n", r.FramingErrors, r.Mismatches)
	case len(r.Lost) > 0:
		fmt.Printf("[%s] \033[1;31mLOST:\033[0m slave %d, %d of %d packets\n", timestamp, r.Slave, len(r.Lost), r.Expected)
		fmt.Printf("  Missing: %v\n", r.Lost)
		fmt.Printf("  Requests: %d, recovered: %d, rssi: %d\n\n", r.Requests, r.Recovered, r.RSSI)
	case r.Recovered > 0:
		fmt.Printf("[%s] \033[1;32mRECOVERED:\033[0m slave %d, %d packets in %d requests\n", timestamp, r.Slave, r.Recovered, r.Requests)
	case all && r.Zero:
		fmt.Printf("[%s] slave %d: nothing to send\n", timestamp, r.Slave)
	case all:
		fmt.Printf("[%s] slave %d: %d packets in %s (rssi %d)\n", timestamp, r.Slave, r.Expected, r.Duration, r.RSSI)
	}
}
