// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"fmt"
	"iter"
	"slices"
	"sync"
)

// Level names one of the two packet store levels
type Level int

const (
	LevelA Level = iota
	LevelB
)

// Other returns the opposite level
func (l Level) Other() Level {
	if l == LevelA {
		return LevelB
	}
	return LevelA
}

func (l Level) String() string {
	if l == LevelA {
		return "A"
	}
	return "B"
}

type slot struct {
	data     [MaxPacketSize]byte
	n        int
	awaiting bool
}

// Drained is one packet yielded by Drain
type Drained struct {
	Seq     int
	Data    []byte
	Missing bool
}

// PacketStore is a two-level packet buffer. One level receives while the
// other is drained; SwapLevels exchanges their roles.
//
// The mutex is the critical section between the host-link producer and the
// radio state machine. It is held for single-slot operations and the swap.
type PacketStore struct {
	mu       sync.Mutex
	capacity int
	levels   [2][]slot
	counts   [2]int
	rx       Level
}

// NewPacketStore allocates a store holding capacity packets per level
func NewPacketStore(capacity int) (*PacketStore, error) {
	if capacity < 1 || capacity > MaxCapacity {
		return nil, fmt.Errorf("invalid store capacity %d (valid 1-%d)", capacity, MaxCapacity)
	}
	s := &PacketStore{capacity: capacity, rx: LevelA}
	s.levels[LevelA] = make([]slot, capacity)
	s.levels[LevelB] = make([]slot, capacity)
	return s, nil
}

// Capacity returns the number of packet slots per level
func (s *PacketStore) Capacity() int {
	return s.capacity
}

// RxLevel returns the level currently receiving
func (s *PacketStore) RxLevel() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rx
}

// TxLevel returns the level currently draining
func (s *PacketStore) TxLevel() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rx.Other()
}

// Count returns the number of packets expected (or buffered) in a level
func (s *PacketStore) Count(l Level) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[l]
}

// BeginBurst clears the receive level and marks the first total slots as
// awaiting. A burst larger than the capacity is rejected before anything
// changes.
func (s *PacketStore) BeginBurst(total int) error {
	if total < 0 || total > s.capacity {
		return fmt.Errorf("%w: %d (capacity %d)", ErrBurstTooLarge, total, s.capacity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl := s.levels[s.rx]
	for i := range lvl {
		lvl[i].n = 0
		lvl[i].awaiting = i < total
	}
	s.counts[s.rx] = total
	return nil
}

// Store writes a received packet into slot seq (1-based) of the receive level
// and clears its awaiting marker.
func (s *PacketStore) Store(seq int, data []byte) error {
	if len(data) > MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(data))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < 1 || seq > s.counts[s.rx] {
		return fmt.Errorf("%w: %d (burst of %d)", ErrIndexOutOfRange, seq, s.counts[s.rx])
	}
	sl := &s.levels[s.rx][seq-1]
	sl.n = copy(sl.data[:], data)
	sl.awaiting = false
	return nil
}

// MissingIndices yields, in order, the sequence indices of the receive level
// still awaiting a packet. The sequence is evaluated lazily and can be ranged
// over again.
func (s *PacketStore) MissingIndices() iter.Seq[int] {
	return func(yield func(int) bool) {
		s.mu.Lock()
		lvl, total := s.rx, s.counts[s.rx]
		s.mu.Unlock()
		for i := 0; i < total; i++ {
			s.mu.Lock()
			awaiting := s.levels[lvl][i].awaiting
			s.mu.Unlock()
			if awaiting && !yield(i+1) {
				return
			}
		}
	}
}

// Missing collects MissingIndices
func (s *PacketStore) Missing() []int {
	return slices.Collect(s.MissingIndices())
}

// SwapLevels exchanges the receive and transmit roles. It must not be called
// while a retransmission is outstanding.
func (s *PacketStore) SwapLevels() {
	s.mu.Lock()
	s.rx = s.rx.Other()
	s.mu.Unlock()
}

// Drain yields the packets of a level in index order. Slots still awaiting
// are yielded with Missing set and no data.
func (s *PacketStore) Drain(l Level) iter.Seq[Drained] {
	return func(yield func(Drained) bool) {
		s.mu.Lock()
		total := s.counts[l]
		s.mu.Unlock()
		for i := 0; i < total; i++ {
			s.mu.Lock()
			sl := &s.levels[l][i]
			d := Drained{Seq: i + 1, Missing: sl.awaiting}
			if !sl.awaiting {
				d.Data = slices.Clone(sl.data[:sl.n])
			}
			s.mu.Unlock()
			if !yield(d) {
				return
			}
		}
	}
}

// Append buffers a host payload in the next free slot of the receive level and
// returns its sequence index.
func (s *PacketStore) Append(payload []byte) (int, error) {
	if len(payload) > MaxPacketSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(payload))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.counts[s.rx]
	if n >= s.capacity {
		return 0, ErrStoreFull
	}
	sl := &s.levels[s.rx][n]
	sl.n = copy(sl.data[:], payload)
	sl.awaiting = false
	s.counts[s.rx] = n + 1
	return n + 1, nil
}

// Rotate swaps the levels and empties the new receive level in one critical
// section. It returns the number of packets now waiting in the transmit level.
func (s *PacketStore) Rotate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rx = s.rx.Other()
	s.counts[s.rx] = 0
	return s.counts[s.rx.Other()]
}

// Packet returns a copy of packet seq (1-based) from a level
func (s *PacketStore) Packet(l Level, seq int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < 1 || seq > s.counts[l] {
		return nil, fmt.Errorf("%w: %d (level holds %d)", ErrIndexOutOfRange, seq, s.counts[l])
	}
	sl := &s.levels[l][seq-1]
	if sl.awaiting {
		return nil, fmt.Errorf("%w: %d still awaiting", ErrIndexOutOfRange, seq)
	}
	return slices.Clone(sl.data[:sl.n]), nil
}
