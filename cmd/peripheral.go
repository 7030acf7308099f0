// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tdmalink/internal/gpiopin"
	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

var (
	peripheralID int
	syncPinName  string
)

var peripheralCmd = &cobra.Command{
	Use:   "peripheral",
	Short: "Run a peripheral (slot responder)",
	Long: `Run the peripheral role on the attached radio.

Host messages are buffered, one '$' terminated message per packet, and sent
only when the coordinator announces this peripheral's slot. Retransmission
requests replay the last burst. A received SYNC<n> pulses the sync pin low
n intervals later.

With neither --port nor --url the host is stdin.`,
	RunE: runPeripheral,
}

func init() {
	rootCmd.AddCommand(peripheralCmd)
	peripheralCmd.Flags().IntVar(&peripheralID, "id", 0, "Peripheral id (overrides peripheral.id)")
	peripheralCmd.Flags().StringVar(&syncPinName, "sync-pin", "", "GPIO for the sync output, e.g. GPIO17 (overrides peripheral.sync_pin)")
}

func runPeripheral(cmd *cobra.Command, args []string) error {
	id := cfg.Peripheral.ID
	if cmd.Flags().Changed("id") {
		id = peripheralID
	}
	pinName := cfg.Peripheral.SyncPin
	if syncPinName != "" {
		pinName = syncPinName
	}

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

	engine, err := cfg.PeripheralEngine(id, logger)
	if err != nil {
		return err
	}
	p, err := tdma.NewPeripheral(radio, engine)
	if err != nil {
		return err
	}
	pump := p.AttachHost(host)

	if pinName != "" {
		pin, err := gpiopin.Open(pinName)
		if err != nil {
			return err
		}
		if err := p.AttachSyncPin(pin); err != nil {
			return err
		}
		logger.Info().Str("pin", pin.Name()).Msg("sync output enabled")
	}

	logger.Info().Int("id", id).Str("host", hostInfo).Str("radio", cfg.Link.RadioPort).Msg("peripheral started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-pump.Done()
		if err := pump.Err(); err != nil {
			logger.Warn().Err(err).Msg("host input closed")
		}
	}()

	err = p.Run(ctx)
	c := p.Counters()
	logger.Info().
		Uint64("bursts", c.Bursts).
		Uint64("sent", c.PacketsSent).
		Uint64("zero", c.ZeroSent).
		Uint64("retransmitted", c.Retransmitted).
		Uint64("dropped", c.Dropped).
		Uint64("resets", c.Resets).
		Msg("peripheral stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
