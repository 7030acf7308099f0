// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Phase is a coordinator scheduler state
type Phase int32

const (
	PhaseAnnounce Phase = iota
	PhaseCollect
	PhaseReconcile
	PhaseFlush
	PhaseSync
	PhaseAdvance
)

func (p Phase) String() string {
	switch p {
	case PhaseAnnounce:
		return "announce"
	case PhaseCollect:
		return "collect"
	case PhaseReconcile:
		return "reconcile"
	case PhaseFlush:
		return "flush"
	case PhaseSync:
		return "sync"
	case PhaseAdvance:
		return "advance"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// CoordinatorConfig configures the slot scheduler. Zero values take defaults.
type CoordinatorConfig struct {
	Slaves           int
	Codec            FieldCodec
	Capacity         int
	ReceiveTimeout   time.Duration
	PollInterval     time.Duration
	AnnounceRetries  int
	RetransmitRounds int
	StaleAfter       int
	Backoff          BackoffConfig
	SyncInterval     time.Duration

	HostEncoding  HostEncoding
	IncludeHeader bool // keep the radio header in flushed packets
	ReportLost    bool // write "missing packet <n> " for lost packets

	Clock    Clock
	Reporter Reporter
	Log      zerolog.Logger
}

// DefaultCoordinatorConfig returns the default link timing
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Slaves:           DefaultSlaveCount,
		Codec:            DigitCodec{},
		Capacity:         DefaultCapacity,
		ReceiveTimeout:   DefaultReceiveTimeout,
		PollInterval:     DefaultPollInterval,
		AnnounceRetries:  DefaultAnnounceRetries,
		RetransmitRounds: DefaultRetransmitRounds,
		StaleAfter:       DefaultStaleAfter,
		Backoff:          DefaultBackoff,
		SyncInterval:     DefaultSyncInterval,
		Clock:            SystemClock{},
		Log:              zerolog.Nop(),
	}
}

func (cfg *CoordinatorConfig) fill() {
	def := DefaultCoordinatorConfig()
	if cfg.Slaves == 0 {
		cfg.Slaves = def.Slaves
	}
	if cfg.Codec == nil {
		cfg.Codec = def.Codec
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.ReceiveTimeout == 0 {
		cfg.ReceiveTimeout = def.ReceiveTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.AnnounceRetries == 0 {
		cfg.AnnounceRetries = def.AnnounceRetries
	}
	if cfg.RetransmitRounds == 0 {
		cfg.RetransmitRounds = def.RetransmitRounds
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = def.Backoff
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
}

func (cfg *CoordinatorConfig) validate() error {
	if cfg.Slaves < 1 || cfg.Slaves > cfg.Codec.Max() {
		return fmt.Errorf("invalid slave count %d (valid 1-%d for %s header)", cfg.Slaves, cfg.Codec.Max(), cfg.Codec.Name())
	}
	if cfg.Capacity < 1 || cfg.Capacity > MaxCapacity || cfg.Capacity > cfg.Codec.Max() {
		return fmt.Errorf("invalid capacity %d", cfg.Capacity)
	}
	if cfg.ReceiveTimeout < 0 || cfg.AnnounceRetries < 0 || cfg.RetransmitRounds < 0 {
		return errors.New("timeouts and retry bounds must not be negative")
	}
	return nil
}

// Coordinator is the master role: it owns the slot schedule, collects each
// peripheral's burst, reconciles losses and drains bursts to the host link.
type Coordinator struct {
	cfg      CoordinatorConfig
	radio    Radio
	store    *PacketStore
	registry *Registry
	rx       Receiver
	dist     Distributor
	drainer  hostDrainer
	log      zerolog.Logger

	current  int
	heard    bool // a packet from the slot owner arrived this slot
	phase    atomic.Int32
	syncFlag atomic.Bool
}

// NewCoordinator creates a coordinator writing drained bursts to host.
// A nil host discards them.
func NewCoordinator(radio Radio, host io.Writer, cfg CoordinatorConfig) (*Coordinator, error) {
	cfg.fill()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	store, err := NewPacketStore(cfg.Capacity)
	if err != nil {
		return nil, err
	}
	if host == nil {
		host = io.Discard
	}

	c := &Coordinator{
		cfg:      cfg,
		radio:    radio,
		store:    store,
		registry: NewRegistry(cfg.Slaves, cfg.StaleAfter, cfg.Backoff, cfg.Clock),
		rx:       Receiver{Radio: radio, Clock: cfg.Clock, PollInterval: cfg.PollInterval},
		dist:     Distributor{Radio: radio, Clock: cfg.Clock, Interval: cfg.SyncInterval, Log: cfg.Log},
		drainer:  hostDrainer{w: host, log: cfg.Log},
		log:      cfg.Log,
		current:  1,
	}
	c.phase.Store(int32(PhaseAnnounce))
	return c, nil
}

// Store returns the coordinator's packet store
func (c *Coordinator) Store() *PacketStore { return c.store }

// Registry returns the peripheral registry
func (c *Coordinator) Registry() *Registry { return c.registry }

// Current returns the peripheral whose slot runs next
func (c *Coordinator) Current() int { return c.current }

// Phase returns the scheduler state. Safe to call from any goroutine.
func (c *Coordinator) Phase() Phase { return Phase(c.phase.Load()) }

func (c *Coordinator) setPhase(p Phase) { c.phase.Store(int32(p)) }

// RequestSync raises the sync flag. The countdown runs after the current
// slot's flush.
func (c *Coordinator) RequestSync() {
	c.syncFlag.Store(true)
}

// ListenHost reads the host input until it fails and raises the sync flag on
// every SYNC$ tail. A clean EOF returns nil.
func (c *Coordinator) ListenHost(r io.Reader) error {
	var det SyncDetector
	buf := make([]byte, hostChunkSize)
	for {
		n, err := r.Read(buf)
		det.Scan(buf[:n], func() {
			c.log.Info().Msg("sync requested by host")
			c.RequestSync()
		})
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Run cycles through the slots until ctx is cancelled
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.drainer.Wait()
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		report, err := c.RunCycle(ctx)
		if err != nil {
			return err
		}
		if !report.Skipped {
			skipped = 0
			continue
		}
		// Every peripheral is backing off; idle for one receive window.
		if skipped++; skipped >= c.cfg.Slaves {
			c.cfg.Clock.Sleep(c.cfg.ReceiveTimeout)
		}
	}
}

// Wait blocks until the last flushed burst has been written to the host
func (c *Coordinator) Wait() {
	c.drainer.Wait()
}

// RunCycle runs one slot for the current peripheral and advances to the next.
// Only cancellation of ctx is returned as an error; link failures end up in
// the report.
func (c *Coordinator) RunCycle(ctx context.Context) (BurstReport, error) {
	id := c.current
	start := c.cfg.Clock.Now()
	report := BurstReport{Slave: id, Time: start}

	if c.registry.Due(id) {
		c.slot(id, &report)
	} else {
		report.Skipped = true
	}

	if c.syncFlag.Swap(false) {
		c.setPhase(PhaseSync)
		sent, err := c.dist.Broadcast(ctx)
		if err != nil {
			return report, err
		}
		report.Synced = true
		c.log.Info().Int("sent", sent).Msg("sync countdown broadcast")
	}

	c.setPhase(PhaseAdvance)
	c.current = id%c.cfg.Slaves + 1
	report.Duration = c.cfg.Clock.Now().Sub(start)
	if c.cfg.Reporter != nil {
		c.cfg.Reporter.Report(report)
	}
	c.setPhase(PhaseAnnounce)
	return report, nil
}

type collectOutcome int

const (
	collectNothing collectOutcome = iota
	collectBurst
	collectZero
	collectAborted
)

func (c *Coordinator) slot(id int, report *BurstReport) {
	announce, err := SlotAnnounce(c.cfg.Codec, id)
	if err != nil {
		c.log.Error().Err(err).Int("slave", id).Msg("cannot build slot announce")
		report.Aborted = true
		return
	}

	c.heard = false
	outcome := collectNothing
	for attempt := 1; attempt <= c.cfg.AnnounceRetries && outcome == collectNothing; attempt++ {
		c.setPhase(PhaseAnnounce)
		if err := c.radio.Send(announce); err != nil {
			c.log.Warn().Err(err).Int("slave", id).Int("attempt", attempt).Msg("slot announce failed")
			continue
		}
		c.setPhase(PhaseCollect)
		outcome = c.collect(id, report)
	}

	switch outcome {
	case collectNothing:
		st := c.registry.Missed(id)
		report.Inactive = true
		ev := c.log.Warn().Int("slave", id).Int("misses", st.Misses)
		if st.Stale(c.cfg.StaleAfter) {
			ev = ev.Time("retry_at", st.RetryAt)
		}
		ev.Msg("peripheral inactive")
		return
	case collectZero, collectAborted:
		c.credit(id, report)
		return
	}

	c.reconcile(id, report)
	c.credit(id, report)
	c.flush(id, report)
}

// credit marks the slot owner seen only if one of its own packets arrived.
// Traffic from other origins does not keep a silent peripheral active.
func (c *Coordinator) credit(id int, report *BurstReport) {
	if c.heard {
		c.registry.Seen(id, report.RSSI)
		return
	}
	st := c.registry.Missed(id)
	c.log.Warn().Int("slave", id).Int("misses", st.Misses).Int("mismatches", report.Mismatches).Msg("no packet from slot owner")
}

// collect receives one burst into the store
func (c *Coordinator) collect(id int, report *BurstReport) collectOutcome {
	codec := c.cfg.Codec
	total := 0

	for {
		frame, err := c.rx.Receive(c.cfg.ReceiveTimeout)
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				c.log.Warn().Err(err).Int("slave", id).Msg("receive failed")
			}
			if total == 0 {
				return collectNothing
			}
			break
		}
		report.RSSI = frame.RSSI

		h, _, perr := ParseHeader(codec, frame.Data)
		if total == 0 {
			// The first packet latches the burst size.
			if perr != nil {
				c.framing(report, FramingMalformedHeader, id, 0, perr)
				report.Aborted = true
				return collectAborted
			}
			c.checkOrigin(report, id, h)
			if h.Seq == 0 && h.Total == 0 {
				report.Zero = true
				return collectZero
			}
			if h.Seq < 1 || h.Seq > h.Total {
				c.framing(report, FramingIndexRange, id, h.Seq, ErrIndexOutOfRange)
				report.Aborted = true
				return collectAborted
			}
			if err := c.store.BeginBurst(h.Total); err != nil {
				c.framing(report, FramingBurstTooLarge, id, h.Seq, err)
				report.Aborted = true
				return collectAborted
			}
			total = h.Total
			report.Expected = total
		} else {
			if perr != nil {
				c.framing(report, FramingMalformedHeader, id, 0, perr)
				continue
			}
			c.checkOrigin(report, id, h)
			if h.Total != total {
				c.framing(report, FramingTotalMismatch, id, h.Seq, fmt.Errorf("total %d, latched %d", h.Total, total))
				continue
			}
		}

		if err := c.store.Store(h.Seq, frame.Data); err != nil {
			c.framing(report, FramingIndexRange, id, h.Seq, err)
			continue
		}
		if h.Seq == total {
			break
		}
	}

	report.Received = total - c.countMissing()
	return collectBurst
}

// reconcile requests missing packets within the slot
func (c *Coordinator) reconcile(id int, report *BurstReport) {
	c.setPhase(PhaseReconcile)
	codec := c.cfg.Codec

	for round := 1; round <= c.cfg.RetransmitRounds; round++ {
		req, count, err := BuildRequest(codec, id, c.store.MissingIndices())
		if err != nil {
			c.log.Error().Err(err).Int("slave", id).Msg("cannot build retransmission request")
			break
		}
		if count == 0 {
			break
		}
		report.Requests++
		c.log.Debug().Int("slave", id).Int("round", round).Int("missing", count).Msg("requesting retransmission")
		if err := c.radio.Send(req); err != nil {
			c.log.Warn().Err(err).Int("slave", id).Msg("retransmission request failed")
			continue
		}

		for i := 0; i < count; i++ {
			frame, err := c.rx.Receive(c.cfg.ReceiveTimeout)
			if err != nil {
				break
			}
			report.RSSI = frame.RSSI
			h, _, perr := ParseHeader(codec, frame.Data)
			if perr != nil {
				c.framing(report, FramingMalformedHeader, id, 0, perr)
				continue
			}
			c.checkOrigin(report, id, h)
			if h.Total != report.Expected {
				c.framing(report, FramingTotalMismatch, id, h.Seq, fmt.Errorf("total %d, latched %d", h.Total, report.Expected))
				continue
			}
			if err := c.store.Store(h.Seq, frame.Data); err != nil {
				c.framing(report, FramingIndexRange, id, h.Seq, err)
			}
		}
	}

	report.Lost = c.store.Missing()
	report.Recovered = report.Expected - len(report.Lost) - report.Received
}

// flush swaps the levels and drains the completed burst to the host
func (c *Coordinator) flush(id int, report *BurstReport) {
	c.setPhase(PhaseFlush)

	c.drainer.Wait()
	c.store.SwapLevels()
	level := c.store.TxLevel()

	for _, seq := range report.Lost {
		c.log.Warn().Int("slave", id).Int("seq", seq).Int("total", report.Expected).Msg("packet lost")
	}
	c.drainer.Start(c.hostChunks(level))
}

func (c *Coordinator) hostChunks(level Level) iter.Seq[[]byte] {
	headerSize := HeaderSize(c.cfg.Codec)
	enc := c.cfg.HostEncoding
	return func(yield func([]byte) bool) {
		for d := range c.store.Drain(level) {
			var chunk []byte
			if d.Missing {
				if !c.cfg.ReportLost {
					continue
				}
				chunk = fmt.Appendf(nil, "missing packet %d ", d.Seq)
			} else {
				payload := d.Data
				if !c.cfg.IncludeHeader {
					payload = payload[headerSize:]
				}
				out, err := enc.Encode(payload)
				if err != nil {
					c.log.Debug().Err(err).Int("seq", d.Seq).Str("encoding", enc.String()).Msg("payload passed through unencoded")
					out = payload
				}
				chunk = out
			}
			if !yield(chunk) {
				return
			}
		}
	}
}

func (c *Coordinator) countMissing() int {
	n := 0
	for range c.store.MissingIndices() {
		n++
	}
	return n
}

func (c *Coordinator) framing(report *BurstReport, kind FramingKind, id, seq int, err error) {
	report.FramingErrors++
	fe := &FramingError{Kind: kind, Slave: id, Seq: seq, Err: err}
	c.log.Warn().Err(fe).Int("slave", id).Int("seq", seq).Str("phase", c.Phase().String()).Msg("framing error")
}

func (c *Coordinator) checkOrigin(report *BurstReport, id int, h Header) {
	if h.Origin == id {
		c.heard = true
		return
	}
	report.Mismatches++
	c.log.Warn().Int("slave", id).Int("origin", h.Origin).Int("seq", h.Seq).Msg("packet origin does not match slot")
}
