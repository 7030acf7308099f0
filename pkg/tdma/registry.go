// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffConfig shapes the re-probe delay of stale peripherals
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DefaultBackoff doubles from DefaultIdleInitial up to DefaultIdleMax
var DefaultBackoff = BackoffConfig{
	InitialDelay: DefaultIdleInitial,
	Multiplier:   2,
	MaxDelay:     DefaultIdleMax,
}

// NextBackoffDelay returns the delay for back-off attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// SlaveState is the registry entry of one peripheral
type SlaveState struct {
	ID       int
	Active   bool
	Misses   int // consecutive slots without a packet
	RetryAt  time.Time
	LastSeen time.Time
	LastRSSI int8
}

// Stale reports whether the peripheral is in back-off
func (s SlaveState) Stale(staleAfter int) bool {
	return s.Misses >= staleAfter
}

// Registry tracks peripheral liveness for the coordinator. A peripheral that
// misses a slot is marked inactive; after staleAfter consecutive misses its
// slot is skipped until a back-off delay elapses, then it is probed again.
type Registry struct {
	mu         sync.Mutex
	slaves     []SlaveState
	staleAfter int
	backoff    BackoffConfig
	clock      Clock
	rng        *rand.Rand
}

// NewRegistry creates entries for peripherals 1..n, all initially active
func NewRegistry(n, staleAfter int, backoff BackoffConfig, clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	if staleAfter < 1 {
		staleAfter = DefaultStaleAfter
	}
	r := &Registry{
		slaves:     make([]SlaveState, n),
		staleAfter: staleAfter,
		backoff:    backoff,
		clock:      clock,
		rng:        rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
	for i := range r.slaves {
		r.slaves[i] = SlaveState{ID: i + 1, Active: true}
	}
	return r
}

// Len returns the number of peripherals
func (r *Registry) Len() int {
	return len(r.slaves)
}

// Due reports whether peripheral id should be announced this cycle
func (r *Registry) Due(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(id)
	if s == nil {
		return false
	}
	if !s.Stale(r.staleAfter) {
		return true
	}
	return !r.clock.Now().Before(s.RetryAt)
}

// Seen records a packet from peripheral id and reactivates it
func (r *Registry) Seen(id int, rssi int8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(id)
	if s == nil {
		return
	}
	s.Active = true
	s.Misses = 0
	s.RetryAt = time.Time{}
	s.LastSeen = r.clock.Now()
	s.LastRSSI = rssi
}

// Missed records an unanswered slot. It returns the updated entry.
func (r *Registry) Missed(id int) SlaveState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(id)
	if s == nil {
		return SlaveState{}
	}
	s.Active = false
	s.Misses++
	if s.Stale(r.staleAfter) {
		attempt := s.Misses - r.staleAfter + 1
		s.RetryAt = r.clock.Now().Add(NextBackoffDelay(r.backoff, attempt, r.rng))
	}
	return *s
}

// State returns a copy of the entry for id
func (r *Registry) State(id int) (SlaveState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(id)
	if s == nil {
		return SlaveState{}, false
	}
	return *s, true
}

// Snapshot copies all entries
func (r *Registry) Snapshot() []SlaveState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SlaveState, len(r.slaves))
	copy(out, r.slaves)
	return out
}

func (r *Registry) entry(id int) *SlaveState {
	if id < 1 || id > len(r.slaves) {
		return nil
	}
	return &r.slaves[id-1]
}
