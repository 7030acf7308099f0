// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PeripheralConfig configures the slot responder. Zero values take defaults.
type PeripheralConfig struct {
	ID             int
	Codec          FieldCodec
	Capacity       int
	ReceiveTimeout time.Duration
	PollInterval   time.Duration
	ResetAfter     time.Duration
	BaseFrequency  uint32
	SyncInterval   time.Duration

	Clock Clock
	Log   zerolog.Logger
}

// PeripheralCounters summarises the responder's activity
type PeripheralCounters struct {
	Bursts        uint64
	PacketsSent   uint64
	ZeroSent      uint64
	Retransmitted uint64
	SendErrors    uint64
	SyncArmed     uint64
	Resets        uint64
	Dropped       uint64
}

// Peripheral is the slave role: it buffers host messages and transmits them
// only in its own slot.
type Peripheral struct {
	cfg    PeripheralConfig
	radio  Radio
	store  *PacketStore
	framer *HostFramer
	rx     Receiver
	log    zerolog.Logger

	pump      *HostPump
	syncOut   *SyncOutput
	lastHeard time.Time

	mu       sync.Mutex
	counters PeripheralCounters
}

// NewPeripheral creates a responder for cfg.ID
func NewPeripheral(radio Radio, cfg PeripheralConfig) (*Peripheral, error) {
	if cfg.Codec == nil {
		cfg.Codec = DigitCodec{}
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.ReceiveTimeout == 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ResetAfter == 0 {
		cfg.ResetAfter = DefaultResetAfter
	}
	if cfg.BaseFrequency == 0 {
		cfg.BaseFrequency = DefaultBaseFrequency
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.ID < 1 || cfg.ID > cfg.Codec.Max() {
		return nil, fmt.Errorf("invalid peripheral id %d", cfg.ID)
	}
	if cfg.Capacity > cfg.Codec.Max() {
		return nil, fmt.Errorf("capacity %d exceeds %s header range", cfg.Capacity, cfg.Codec.Name())
	}

	store, err := NewPacketStore(cfg.Capacity)
	if err != nil {
		return nil, err
	}

	p := &Peripheral{
		cfg:       cfg,
		radio:     radio,
		store:     store,
		log:       cfg.Log.With().Int("id", cfg.ID).Logger(),
		lastHeard: cfg.Clock.Now(),
	}
	p.framer = NewHostFramer(store, MaxPacketSize-HeaderSize(cfg.Codec), p.log)
	p.framer.OnDrop(func() {
		p.mu.Lock()
		p.counters.Dropped++
		p.mu.Unlock()
	})
	p.rx = Receiver{Radio: radio, Clock: cfg.Clock, PollInterval: cfg.PollInterval, Idle: p.Poll}
	return p, nil
}

// ID returns the peripheral id
func (p *Peripheral) ID() int { return p.cfg.ID }

// Store returns the host packet store
func (p *Peripheral) Store() *PacketStore { return p.store }

// Host returns the writer that frames host bytes into the store. It must only
// be written from the goroutine running the peripheral; use AttachHost for a
// concurrent source.
func (p *Peripheral) Host() io.Writer { return p.framer }

// AttachHost starts pumping r into the store. Bytes are moved during receive
// waits and between burst transmissions.
func (p *Peripheral) AttachHost(r io.Reader) *HostPump {
	p.pump = NewHostPump(r, p.framer)
	return p.pump
}

// AttachSyncPin drives pin from received countdown packets
func (p *Peripheral) AttachSyncPin(pin SyncPin) error {
	out, err := NewSyncOutput(pin, p.cfg.Clock, p.cfg.SyncInterval, p.log)
	if err != nil {
		return fmt.Errorf("sync pin: %w", err)
	}
	p.syncOut = out
	return nil
}

// Counters returns a copy of the activity counters
func (p *Peripheral) Counters() PeripheralCounters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

func (p *Peripheral) count(fn func(*PeripheralCounters)) {
	p.mu.Lock()
	fn(&p.counters)
	p.mu.Unlock()
}

// Poll moves pending host input into the store. It is the idle step run
// while the radio waits and never while a radio operation is in flight.
func (p *Peripheral) Poll() {
	if p.pump != nil {
		p.pump.Poll()
	}
}

// Run answers slots until ctx is cancelled
func (p *Peripheral) Run(ctx context.Context) error {
	defer func() {
		if p.syncOut != nil {
			p.syncOut.Stop()
		}
		if p.pump != nil {
			p.pump.Close()
		}
	}()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.Step(); err != nil && !errors.Is(err, ErrTimeout) {
			p.log.Warn().Err(err).Msg("radio error")
		}
	}
}

// Step waits one receive window and handles whatever arrives. It returns the
// kind of packet handled, or ErrTimeout when nothing arrived.
func (p *Peripheral) Step() (Kind, error) {
	frame, err := p.rx.Receive(p.cfg.ReceiveTimeout)
	if err != nil {
		if !errors.Is(err, ErrTimeout) {
			// A failing radio returns at once; wait out the window.
			p.cfg.Clock.Sleep(p.cfg.ReceiveTimeout)
		}
		p.checkSilence()
		return KindOther, err
	}
	p.lastHeard = p.cfg.Clock.Now()

	m := Classify(p.cfg.Codec, frame.Data)
	switch m.Kind {
	case KindSlot:
		if m.Origin != p.cfg.ID {
			return KindOther, nil
		}
		return m.Kind, p.transmitBurst()
	case KindRetransmit:
		if m.Origin != p.cfg.ID {
			return KindOther, nil
		}
		limit := p.store.Count(p.store.TxLevel())
		return m.Kind, p.replay(ParseIndices(p.cfg.Codec, m.Payload, limit))
	case KindSync:
		n, ok := ParseSync(frame.Data)
		if !ok {
			return KindOther, nil
		}
		p.count(func(c *PeripheralCounters) { c.SyncArmed++ })
		if p.syncOut != nil {
			p.syncOut.Arm(n)
		}
		p.log.Debug().Int("countdown", n).Msg("sync armed")
		return m.Kind, nil
	}
	return KindOther, nil
}

// transmitBurst rotates the store and sends the now-transmit level, or the
// zero marker when nothing was buffered.
func (p *Peripheral) transmitBurst() error {
	p.Poll()
	total := p.store.Rotate()
	p.count(func(c *PeripheralCounters) { c.Bursts++ })

	if total == 0 {
		zero, err := ZeroMarker(p.cfg.Codec, p.cfg.ID)
		if err != nil {
			return err
		}
		if err := p.radio.Send(zero); err != nil {
			p.count(func(c *PeripheralCounters) { c.SendErrors++ })
			return fmt.Errorf("send zero marker: %w", err)
		}
		p.count(func(c *PeripheralCounters) { c.ZeroSent++ })
		return nil
	}

	var firstErr error
	for seq := 1; seq <= total; seq++ {
		if err := p.sendPacket(seq, total); err != nil && firstErr == nil {
			firstErr = err
		}
		p.Poll()
	}
	p.log.Debug().Int("total", total).Msg("burst sent")
	return firstErr
}

// replay resends the requested packets of the transmit level
func (p *Peripheral) replay(indices []int) error {
	total := p.store.Count(p.store.TxLevel())
	var firstErr error
	for _, seq := range indices {
		if err := p.sendPacket(seq, total); err != nil && firstErr == nil {
			firstErr = err
			continue
		}
		p.count(func(c *PeripheralCounters) { c.Retransmitted++ })
		p.Poll()
	}
	p.log.Debug().Ints("seq", indices).Msg("packets retransmitted")
	return firstErr
}

func (p *Peripheral) sendPacket(seq, total int) error {
	data, err := p.store.Packet(p.store.TxLevel(), seq)
	if err != nil {
		return err
	}
	pkt, err := BuildPacket(p.cfg.Codec, Header{Origin: p.cfg.ID, Seq: seq, Total: total}, data)
	if err != nil {
		return err
	}
	if err := p.radio.Send(pkt); err != nil {
		p.count(func(c *PeripheralCounters) { c.SendErrors++ })
		return fmt.Errorf("send packet %d/%d: %w", seq, total, err)
	}
	p.count(func(c *PeripheralCounters) { c.PacketsSent++ })
	return nil
}

// checkSilence resets the radio to the base channel after a long silence
func (p *Peripheral) checkSilence() {
	now := p.cfg.Clock.Now()
	if now.Sub(p.lastHeard) < p.cfg.ResetAfter {
		return
	}
	p.lastHeard = now
	p.count(func(c *PeripheralCounters) { c.Resets++ })
	p.log.Warn().Dur("silence", p.cfg.ResetAfter).Uint32("frequency", p.cfg.BaseFrequency).Msg("no traffic, resetting radio")
	if err := p.radio.ResetHardware(); err != nil {
		p.log.Error().Err(err).Msg("radio reset failed")
		return
	}
	if err := p.radio.SetFrequency(p.cfg.BaseFrequency); err != nil {
		p.log.Error().Err(err).Msg("radio frequency reset failed")
	}
}
