// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

var coordStatsInterval int

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the coordinator (slot master)",
	Long: `Run the coordinator role on the attached radio.

Each peripheral is announced in turn. Its burst is collected, missing packets
are requested again within the slot, and the reassembled burst is written to
the host link in sequence order. A host message ending in SYNC$ triggers the
SYNC3 / SYNC2 / SYNC1 countdown after the current slot.

With neither --port nor --url the host is stdin/stdout.`,
	RunE: runCoordinator,
}

func init() {
	rootCmd.AddCommand(coordinatorCmd)
	coordinatorCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides report.metrics_addr)")
	coordinatorCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "Publish burst reports to this MQTT broker (overrides report.mqtt_broker)")
	coordinatorCmd.Flags().IntVar(&coordStatsInterval, "stats-interval", 30, "Statistics log interval in seconds (0 disables)")
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	radio, err := OpenRadio()
	if err != nil {
		return err
	}
	defer radio.Close()

	host, hostInfo, err := OpenHostLink(true)
	if err != nil {
		return err
	}
	defer host.Close()

	stats := tdma.NewStatistics()
	sinks, err := newReportSinks(stats)
	if err != nil {
		return err
	}
	defer sinks.Close()

	engine, err := cfg.CoordinatorEngine(logger)
	if err != nil {
		return err
	}
	engine.Reporter = sinks

	coord, err := tdma.NewCoordinator(radio, host, engine)
	if err != nil {
		return err
	}

	logger.Info().
		Str("host", hostInfo).
		Str("radio", cfg.Link.RadioPort).
		Int("slaves", engine.Slaves).
		Str("header", engine.Codec.Name()).
		Str("encoding", engine.HostEncoding.String()).
		Msg("coordinator started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := coord.ListenHost(host); err != nil {
			logger.Warn().Err(err).Msg("host input closed")
		}
	}()
	go logStatistics(ctx, stats, coordStatsInterval)

	err = coord.Run(ctx)
	fmt.Fprint(os.Stderr, stats.String())
	for _, st := range coord.Registry().Snapshot() {
		ev := logger.Info().Int("slave", st.ID).Bool("active", st.Active).Int("misses", st.Misses).Int8("rssi", st.LastRSSI)
		if !st.LastSeen.IsZero() {
			ev = ev.Time("last_seen", st.LastSeen)
		}
		ev.Msg("peripheral state")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// logStatistics prints the statistics summary to stderr every interval seconds
func logStatistics(ctx context.Context, stats *tdma.Statistics, interval int) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintln(os.Stderr)
			fmt.Fprint(os.Stderr, stats.String())
		}
	}
}
