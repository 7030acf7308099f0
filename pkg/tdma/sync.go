// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SyncSteps is the length of the countdown broadcast
const SyncSteps = 3

// SyncPacket builds "SYNC<n>"
func SyncPacket(n int) []byte {
	return strconv.AppendInt([]byte(SyncTag), int64(n), 10)
}

// SyncCountdown returns the broadcast sequence SYNC3, SYNC2, SYNC1
func SyncCountdown() [][]byte {
	out := make([][]byte, 0, SyncSteps)
	for n := SyncSteps; n >= 1; n-- {
		out = append(out, SyncPacket(n))
	}
	return out
}

// ParseSync extracts the countdown numeral from "SYNC<n>". Any positive
// decimal n is accepted.
func ParseSync(pkt []byte) (int, bool) {
	if len(pkt) <= len(SyncTag) || string(pkt[:len(SyncTag)]) != SyncTag {
		return 0, false
	}
	n, err := strconv.Atoi(string(pkt[len(SyncTag):]))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Distributor broadcasts the sync countdown from the coordinator
type Distributor struct {
	Radio    Radio
	Clock    Clock
	Interval time.Duration
	Log      zerolog.Logger
}

// Broadcast sends SYNC3, SYNC2 and SYNC1, each on its own tick, then waits one
// more tick so the channel is idle before slot scheduling resumes. A failed
// send is logged and the countdown continues. It returns the number of packets
// put on air.
func (d *Distributor) Broadcast(ctx context.Context) (int, error) {
	clk := d.Clock
	if clk == nil {
		clk = SystemClock{}
	}
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	wait := func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			return nil
		}
	}

	sent := 0
	for _, pkt := range SyncCountdown() {
		if err := wait(); err != nil {
			return sent, err
		}
		if err := d.Radio.Send(pkt); err != nil {
			d.Log.Warn().Err(err).Str("packet", string(pkt)).Msg("sync send failed")
			continue
		}
		sent++
	}
	if err := wait(); err != nil {
		return sent, err
	}
	return sent, nil
}

// SyncPin is the peripheral's sync output line
type SyncPin interface {
	Set(high bool) error
}

// SyncOutput drives the sync pin from received countdown packets. Arm(n)
// schedules a falling edge n intervals later and the rising edge one interval
// after that.
type SyncOutput struct {
	mu       sync.Mutex
	pin      SyncPin
	clock    Clock
	interval time.Duration
	log      zerolog.Logger
	timer    Timer
	gen      uint64
}

// NewSyncOutput drives pin high and returns an idle output
func NewSyncOutput(pin SyncPin, clock Clock, interval time.Duration, log zerolog.Logger) (*SyncOutput, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if err := pin.Set(true); err != nil {
		return nil, err
	}
	return &SyncOutput{pin: pin, clock: clock, interval: interval, log: log}, nil
}

// Arm (re)starts the edge timer for countdown value n
func (o *SyncOutput) Arm(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.gen++
	gen := o.gen
	o.timer = o.clock.AfterFunc(time.Duration(n)*o.interval, func() { o.fire(gen, false) })
}

func (o *SyncOutput) fire(gen uint64, high bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	if err := o.pin.Set(high); err != nil {
		o.log.Warn().Err(err).Bool("high", high).Msg("sync pin write failed")
	}
	if high {
		o.timer = nil
		return
	}
	o.timer = o.clock.AfterFunc(o.interval, func() { o.fire(gen, true) })
}

// Stop cancels a pending edge and leaves the pin as it is
func (o *SyncOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}
