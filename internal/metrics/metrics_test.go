// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

func TestReporterCountsBurst(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r.Report(tdma.BurstReport{
		Slave:     2,
		Expected:  6,
		Received:  4,
		Recovered: 1,
		Lost:      []int{5},
		Requests:  2,
		RSSI:      -71,
		Duration:  30 * time.Millisecond,
		Synced:    true,
	})

	if got := testutil.ToFloat64(r.bursts.WithLabelValues("2", "partial")); got != 1 {
		t.Errorf("partial bursts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.packets.WithLabelValues("2", "received")); got != 4 {
		t.Errorf("received = %v, want 4", got)
	}
	if got := testutil.ToFloat64(r.packets.WithLabelValues("2", "lost")); got != 1 {
		t.Errorf("lost = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.requests.WithLabelValues("2")); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.rssi.WithLabelValues("2")); got != -71 {
		t.Errorf("rssi = %v, want -71", got)
	}
	if got := testutil.ToFloat64(r.syncs); got != 1 {
		t.Errorf("syncs = %v, want 1", got)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		rep  tdma.BurstReport
		want string
	}{
		{"complete", tdma.BurstReport{Expected: 3, Received: 3}, "complete"},
		{"partial", tdma.BurstReport{Expected: 3, Lost: []int{2}}, "partial"},
		{"zero", tdma.BurstReport{Zero: true}, "zero"},
		{"inactive", tdma.BurstReport{Inactive: true}, "inactive"},
		{"aborted", tdma.BurstReport{Aborted: true}, "aborted"},
		{"skipped", tdma.BurstReport{Skipped: true}, "skipped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Outcome(tt.rep); got != tt.want {
				t.Errorf("Outcome() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("second New on the same registry should fail")
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Report(tdma.BurstReport{Slave: 1, Zero: true})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `tdmalink_slot_total{outcome="zero",slave="1"} 1`) {
		t.Errorf("metrics output missing zero slot:\n%s", body)
	}
}
