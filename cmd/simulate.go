// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tdmalink/pkg/radio/airsim"
	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

var (
	simSlaves    int
	simLoss      float64
	simSeed      int64
	simRate      float64
	simDuration  time.Duration
	simSyncEvery time.Duration
	simAirtime   time.Duration
	simShowHost  bool
	simShowAll   bool
	simTUI       bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a coordinator and peripherals over a simulated channel",
	Long: `Run one coordinator and --slaves peripherals in process over an in-memory
radio channel with optional random packet loss.

Each peripheral is fed synthetic host messages at --rate messages per second.
Burst outcomes are shown on a terminal UI, or as periodic statistics with
--tui=false. Use --show-host to print the coordinator's host output.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().IntVar(&simSlaves, "slaves", 0, "Number of peripherals (overrides link.slaves)")
	simulateCmd.Flags().Float64Var(&simLoss, "loss", 0.05, "Probability that a delivery is lost")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "Loss generator seed (0 picks one)")
	simulateCmd.Flags().Float64Var(&simRate, "rate", 5, "Host messages per second per peripheral")
	simulateCmd.Flags().DurationVar(&simDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	simulateCmd.Flags().DurationVar(&simSyncEvery, "sync-every", 0, "Request a sync countdown at this interval (0 disables)")
	simulateCmd.Flags().DurationVar(&simAirtime, "airtime", 0, "Simulated airtime per byte")
	simulateCmd.Flags().BoolVar(&simShowHost, "show-host", false, "Print the coordinator host output (text mode)")
	simulateCmd.Flags().BoolVar(&simShowAll, "show-all", false, "Log every burst, not only losses")
	simulateCmd.Flags().BoolVar(&simTUI, "tui", true, "Use terminal UI (false for text mode)")
	simulateCmd.Flags().IntVar(&coordStatsInterval, "stats-interval", 30, "Statistics log interval in seconds, text mode (0 disables)")
	simulateCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides report.metrics_addr)")
	simulateCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "Publish burst reports to this MQTT broker (overrides report.mqtt_broker)")
}

// simLogPin stands in for a sync GPIO and logs its edges
type simLogPin struct {
	id  int
	log zerolog.Logger
}

func (p simLogPin) Set(high bool) error {
	p.log.Debug().Int("id", p.id).Bool("high", high).Msg("sync pin")
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	slaves := cfg.Link.Slaves
	if simSlaves > 0 {
		slaves = simSlaves
	}
	seed := simSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if simLoss < 0 || simLoss >= 1 {
		return fmt.Errorf("--loss must be in [0, 1), got %g", simLoss)
	}

	// The TUI owns the terminal, so engine logs are silenced there.
	engineLog := logger
	if simTUI {
		engineLog = zerolog.Nop()
	}

	medium := airsim.NewMedium(airsim.WithLoss(simLoss), airsim.WithSeed(seed), airsim.WithAirtime(simAirtime))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if simDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, simDuration)
		defer cancel()
	}

	var host io.Writer = io.Discard
	if simShowHost && !simTUI {
		host = os.Stdout
	}

	stats := tdma.NewStatistics()
	var program *tea.Program
	var extra []tdma.Reporter
	if simTUI {
		program = tea.NewProgram(newDashboard("TDMALINK - SIMULATION",
			fmt.Sprintf("airsim loss %.0f%% seed %d", simLoss*100, seed), slaves, simShowAll), tea.WithAltScreen())
		extra = append(extra, dashboardReporter{program: program})
	}
	sinks, err := newReportSinks(stats, extra...)
	if err != nil {
		return err
	}
	defer sinks.Close()

	engine, err := cfg.CoordinatorEngine(engineLog)
	if err != nil {
		return err
	}
	engine.Slaves = slaves
	engine.Reporter = sinks
	coord, err := tdma.NewCoordinator(medium.Attach("coordinator"), host, engine)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	peripherals := make([]*tdma.Peripheral, 0, slaves)
	for id := 1; id <= slaves; id++ {
		pcfg, err := cfg.PeripheralEngine(id, engineLog)
		if err != nil {
			return err
		}
		p, err := tdma.NewPeripheral(medium.Attach(fmt.Sprintf("peripheral-%d", id)), pcfg)
		if err != nil {
			return err
		}
		if err := p.AttachSyncPin(simLogPin{id: id, log: engineLog}); err != nil {
			return err
		}
		peripherals = append(peripherals, p)
		r, w := io.Pipe()
		p.AttachHost(r)

		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = p.Run(ctx)
			r.Close()
		}()
		go func() {
			defer wg.Done()
			defer w.Close()
			generateTraffic(ctx, w, id, simRate, seed+int64(id))
		}()
	}

	if simSyncEvery > 0 {
		go func() {
			ticker := time.NewTicker(simSyncEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					coord.RequestSync()
				}
			}
		}()
	}

	if !simTUI {
		logger.Info().Int("slaves", slaves).Float64("loss", simLoss).Int64("seed", seed).Msg("simulation started")
		go logStatistics(ctx, stats, coordStatsInterval)
		err = coord.Run(ctx)
		wg.Wait()
		countOverflows(stats, peripherals)
		fmt.Fprint(os.Stderr, stats.String())
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}

	go func() {
		err := coord.Run(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
		program.Send(finishedMsg{err: err})
	}()
	_, err = program.Run()
	stop()
	wg.Wait()
	countOverflows(stats, peripherals)
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// generateTraffic writes '$' terminated messages of random length to w at
// roughly rate per second until ctx ends.
func generateTraffic(ctx context.Context, w io.Writer, id int, rate float64, seed int64) {
	if rate <= 0 {
		<-ctx.Done()
		return
	}
	rng := rand.New(rand.NewSource(seed))
	interval := time.Duration(float64(time.Second) / rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		msg := fmt.Appendf(nil, "s%d-%d", id, n)
		for range rng.Intn(24) {
			msg = append(msg, byte('a'+rng.Intn(26)))
		}
		msg = append(msg, tdma.HostTerminator)
		if _, err := w.Write(msg); err != nil {
			return
		}
	}
}

func countOverflows(stats *tdma.Statistics, peripherals []*tdma.Peripheral) {
	for _, p := range peripherals {
		if dropped := p.Counters().Dropped; dropped > 0 {
			stats.AddStoreOverflows(dropped)
			logger.Warn().Int("id", p.ID()).Uint64("dropped", dropped).Msg("host messages dropped, store full")
		}
	}
}
