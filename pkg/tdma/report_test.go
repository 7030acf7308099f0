// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

func TestReportCBORUsesIntegerKeys(t *testing.T) {
	r := BurstReport{Slave: 2, Expected: 6, Received: 4, Recovered: 1, Lost: []int{5}, Requests: 2, RSSI: -80, Duration: 35 * time.Millisecond}
	data, err := MarshalReport(r)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[int]any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		t.Fatalf("report is not an integer-keyed map: %v", err)
	}
	if raw[1] != uint64(2) || raw[2] != uint64(6) {
		t.Errorf("keys 1 and 2 = %v, %v", raw[1], raw[2])
	}

	back, err := UnmarshalReport(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.Slave != 2 || !slices.Equal(back.Lost, []int{5}) || back.Duration != r.Duration || back.RSSI != -80 {
		t.Errorf("decoded %+v", back)
	}
	if _, err := UnmarshalReport([]byte{0xFF}); err == nil {
		t.Error("garbage decoded without error")
	}
}

func TestReportOutcome(t *testing.T) {
	r := BurstReport{Expected: 5, Lost: []int{2}}
	if r.Delivered() != 4 || r.Complete() {
		t.Errorf("Delivered() = %d Complete() = %v", r.Delivered(), r.Complete())
	}
	if !(BurstReport{Expected: 3, Received: 3}).Complete() {
		t.Error("full burst not complete")
	}
}

func TestStatisticsReport(t *testing.T) {
	s := NewStatistics()
	s.Report(BurstReport{Slave: 1, Expected: 4, Received: 3, Recovered: 1, Requests: 1, RSSI: -60})
	s.Report(BurstReport{Slave: 1, Expected: 2, Received: 1, Lost: []int{2}, Requests: 3, FramingErrors: 1})
	s.Report(BurstReport{Slave: 2, Zero: true, Synced: true})
	s.Report(BurstReport{Slave: 3, Inactive: true})
	s.Report(BurstReport{Slave: 3, Skipped: true})
	s.Report(BurstReport{Slave: 2, Aborted: true, FramingErrors: 1})
	s.AddStoreOverflows(1)

	if s.Bursts != 3 || s.ZeroBursts != 1 || s.AbortedBursts != 1 {
		t.Errorf("bursts %d zero %d aborted %d", s.Bursts, s.ZeroBursts, s.AbortedBursts)
	}
	if s.PacketsReceived != 5 || s.PacketsLost != 1 || s.Recovered != 1 || s.Requests != 4 {
		t.Errorf("packets %d lost %d recovered %d requests %d", s.PacketsReceived, s.PacketsLost, s.Recovered, s.Requests)
	}
	if s.InactiveEvents != 1 || s.Skipped != 1 || s.SyncBroadcasts != 1 || s.FramingErrors != 2 {
		t.Errorf("inactive %d skipped %d sync %d framing %d", s.InactiveEvents, s.Skipped, s.SyncBroadcasts, s.FramingErrors)
	}
	if ps := s.Slave(1); ps.Bursts != 2 || ps.Packets != 5 || ps.Lost != 1 {
		t.Errorf("slave 1 %+v", ps)
	}

	out := s.String()
	for _, want := range []string{"=== Statistics", "Lost Packets:", "Zero Bursts:", "Store Overflows:", "Slave 1:"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	s.Reset()
	if s.Bursts != 0 || len(s.PerSlave) != 0 {
		t.Error("Reset left counters behind")
	}
}
