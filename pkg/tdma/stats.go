// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// SlaveStatistics holds the per-peripheral counters
type SlaveStatistics struct {
	Bursts    uint64
	Packets   uint64
	Lost      uint64
	Recovered uint64
	Zero      uint64
	Inactive  uint64
	LastRSSI  int8
}

// Statistics tracks link counters and rates. It is a Reporter, so it can be
// handed straight to the coordinator.
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Bursts          uint64
	PacketsReceived uint64
	PacketsLost     uint64
	Requests        uint64
	Recovered       uint64
	ZeroBursts      uint64
	AbortedBursts   uint64
	FramingErrors   uint64
	Mismatches      uint64
	InactiveEvents  uint64
	Skipped         uint64
	SyncBroadcasts  uint64
	StoreOverflows  uint64

	PerSlave map[int]*SlaveStatistics

	// Rates (calculated)
	PacketRate float64 // packets/sec
	LossRate   float64 // lost packets per expected packet
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		PerSlave:       make(map[int]*SlaveStatistics),
	}
}

// Report implements Reporter
func (s *Statistics) Report(r BurstReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Synced {
		s.SyncBroadcasts++
	}
	if r.Skipped {
		s.Skipped++
		return
	}

	ps := s.slave(r.Slave)
	s.FramingErrors += uint64(r.FramingErrors)
	s.Mismatches += uint64(r.Mismatches)
	s.Requests += uint64(r.Requests)

	switch {
	case r.Inactive:
		s.InactiveEvents++
		ps.Inactive++
	case r.Aborted:
		s.AbortedBursts++
	case r.Zero:
		s.Bursts++
		s.ZeroBursts++
		ps.Bursts++
		ps.Zero++
	default:
		s.Bursts++
		ps.Bursts++
	}

	received := uint64(r.Received + r.Recovered)
	s.PacketsReceived += received
	s.Recovered += uint64(r.Recovered)
	s.PacketsLost += uint64(len(r.Lost))
	ps.Packets += received
	ps.Recovered += uint64(r.Recovered)
	ps.Lost += uint64(len(r.Lost))
	if !r.Inactive {
		ps.LastRSSI = r.RSSI
	}

	s.LastUpdateTime = time.Now()
}

// AddStoreOverflows counts host messages a peripheral dropped with a full store
func (s *Statistics) AddStoreOverflows(n uint64) {
	s.mu.Lock()
	s.StoreOverflows += n
	s.mu.Unlock()
}

func (s *Statistics) slave(id int) *SlaveStatistics {
	ps, ok := s.PerSlave[id]
	if !ok {
		ps = &SlaveStatistics{}
		s.PerSlave[id] = ps
	}
	return ps
}

// CalculateRates calculates packet and loss rates
func (s *Statistics) CalculateRates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.PacketsReceived) / elapsed
	}
	if expected := s.PacketsReceived + s.PacketsLost; expected > 0 {
		s.LossRate = float64(s.PacketsLost) / float64(expected)
	}
}

// Slave returns a copy of the counters for one peripheral
func (s *Statistics) Slave(id int) SlaveStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.PerSlave[id]; ok {
		return *ps
	}
	return SlaveStatistics{}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Bursts:          %8d\n", s.Bursts)
	result += fmt.Sprintf("Packets:         %8d\n", s.PacketsReceived)
	result += fmt.Sprintf("Lost Packets:    %8d (%.1f%%)\n", s.PacketsLost, s.LossRate*100)

	if s.Requests > 0 {
		result += fmt.Sprintf("Retransmit Reqs: %8d\n", s.Requests)
		result += fmt.Sprintf("  Recovered:        %5d\n", s.Recovered)
	}
	if s.ZeroBursts > 0 {
		result += fmt.Sprintf("Zero Bursts:     %8d\n", s.ZeroBursts)
	}
	if s.AbortedBursts > 0 {
		result += fmt.Sprintf("Aborted Bursts:  %8d\n", s.AbortedBursts)
	}
	if s.FramingErrors > 0 || s.Mismatches > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d\n", s.FramingErrors)
		if s.Mismatches > 0 {
			result += fmt.Sprintf("  Origin Mismatch:  %5d\n", s.Mismatches)
		}
	}
	if s.InactiveEvents > 0 {
		result += fmt.Sprintf("Inactive Slots:  %8d\n", s.InactiveEvents)
	}
	if s.Skipped > 0 {
		result += fmt.Sprintf("Skipped Slots:   %8d\n", s.Skipped)
	}
	if s.SyncBroadcasts > 0 {
		result += fmt.Sprintf("Sync Broadcasts: %8d\n", s.SyncBroadcasts)
	}
	if s.StoreOverflows > 0 {
		result += fmt.Sprintf("Store Overflows: %8d\n", s.StoreOverflows)
	}

	ids := make([]int, 0, len(s.PerSlave))
	for id := range s.PerSlave {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		ps := s.PerSlave[id]
		result += fmt.Sprintf("  Slave %d: %d bursts, %d pkts, %d lost, rssi %d\n",
			id, ps.Bursts, ps.Packets, ps.Lost, ps.LastRSSI)
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.Bursts = 0
	s.PacketsReceived = 0
	s.PacketsLost = 0
	s.Requests = 0
	s.Recovered = 0
	s.ZeroBursts = 0
	s.AbortedBursts = 0
	s.FramingErrors = 0
	s.Mismatches = 0
	s.InactiveEvents = 0
	s.Skipped = 0
	s.SyncBroadcasts = 0
	s.StoreOverflows = 0
	s.PerSlave = make(map[int]*SlaveStatistics)
	s.PacketRate = 0
	s.LossRate = 0
}
