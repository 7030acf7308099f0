// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"errors"
	"sync"
	"time"
)

//////////////////////////////////////////////////////////////
// Fake clock
//////////////////////////////////////////////////////////////

// fakeClock only moves when Sleep or Advance is called. Timers fire from
// Advance on the calling goroutine, outside the clock lock.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers chan *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		tickers: make(chan *fakeTicker, 8),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) { c.Advance(d) }

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTimer
	kept := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(now):
			due = append(due, t)
		default:
			kept = append(kept, t)
		}
	}
	c.timers = kept
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// NewTicker returns a ticker driven by the test through tick
func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	t := &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{})}
	c.tickers <- t
	return t
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() { t.once.Do(func() { close(t.stopped) }) }

// tick delivers one tick; it blocks until the owner is waiting for it and
// reports false once the ticker is stopped.
func (t *fakeTicker) tick() bool {
	select {
	case t.c <- time.Time{}:
		return true
	case <-t.stopped:
		return false
	}
}

// autoTickClock is a Clock whose tickers fire as soon as they are read
type autoTickClock struct {
	*fakeClock
}

func (c autoTickClock) NewTicker(d time.Duration) Ticker {
	ch := make(chan time.Time, 16)
	for range 16 {
		ch <- time.Time{}
	}
	return &bufferedTicker{c: ch}
}

type bufferedTicker struct{ c chan time.Time }

func (t *bufferedTicker) C() <-chan time.Time { return t.c }
func (t *bufferedTicker) Stop()               {}

//////////////////////////////////////////////////////////////
// Mock radio
//////////////////////////////////////////////////////////////

var errRadio = errors.New("radio fault")

// mockRadio records every transmission and serves queued packets. respond,
// when set, is called for each sent packet and its result is queued for
// reception, which lets a test script the far end of the link.
type mockRadio struct {
	mu      sync.Mutex
	sent    [][]byte
	inbox   [][]byte
	rssi    int8
	respond func(pkt []byte) [][]byte
	sendErr func(pkt []byte) error
	resets  int
	freq    uint32
	onSend  func(pkt []byte)
	rxErr   error // returned by BeginReceive
}

func (r *mockRadio) Send(pkt []byte) error {
	r.mu.Lock()
	if r.sendErr != nil {
		if err := r.sendErr(pkt); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	r.sent = append(r.sent, append([]byte(nil), pkt...))
	respond, onSend := r.respond, r.onSend
	r.mu.Unlock()

	if onSend != nil {
		onSend(pkt)
	}
	if respond != nil {
		replies := respond(pkt)
		r.mu.Lock()
		r.inbox = append(r.inbox, replies...)
		r.mu.Unlock()
	}
	return nil
}

func (r *mockRadio) BeginReceive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rxErr
}

func (r *mockRadio) PollReceived() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inbox) > 0
}

func (r *mockRadio) ReadReceived(max int) ([]byte, int8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inbox) == 0 {
		return nil, 0, errors.New("empty")
	}
	pkt := r.inbox[0]
	r.inbox = r.inbox[1:]
	if len(pkt) > max {
		pkt = pkt[:max]
	}
	return pkt, r.rssi, nil
}

func (r *mockRadio) ResetHardware() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	r.inbox = nil
	return nil
}

func (r *mockRadio) SetFrequency(hz uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freq = hz
	return nil
}

func (r *mockRadio) inject(pkts ...[]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbox = append(r.inbox, pkts...)
}

func (r *mockRadio) sentStrings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, p := range r.sent {
		out[i] = string(p)
	}
	return out
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

// dataPacket frames a digit-codec packet
func dataPacket(origin, seq, total int, payload string) []byte {
	pkt, err := BuildPacket(DigitCodec{}, Header{Origin: origin, Seq: seq, Total: total}, []byte(payload))
	if err != nil {
		panic(err)
	}
	return pkt
}

type recordPin struct {
	mu     sync.Mutex
	levels []bool
}

func (p *recordPin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, high)
	return nil
}

func (p *recordPin) history() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.levels...)
}

// syncBuffer is a bytes.Buffer safe for the drain goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
