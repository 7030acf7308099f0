// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports coordinator burst reports as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

const namespace = "tdmalink"

// Reporter is a tdma.Reporter that updates Prometheus collectors
type Reporter struct {
	bursts        *prometheus.CounterVec
	packets       *prometheus.CounterVec
	requests      *prometheus.CounterVec
	framingErrors *prometheus.CounterVec
	rssi          *prometheus.GaugeVec
	slotDuration  *prometheus.HistogramVec
	syncs         prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Reporter, error) {
	r := &Reporter{
		bursts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "slot",
				Name:      "total",
				Help:      "Slots run per peripheral, by outcome.",
			},
			[]string{"slave", "outcome"},
		),
		packets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "total",
				Help:      "Data packets per peripheral: received, recovered or lost.",
			},
			[]string{"slave", "result"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retransmit",
				Name:      "requests_total",
				Help:      "Retransmission requests sent.",
			},
			[]string{"slave"},
		),
		framingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "framing",
				Name:      "errors_total",
				Help:      "Malformed or inconsistent packets.",
			},
			[]string{"slave"},
		),
		rssi: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "radio",
				Name:      "rssi_dbm",
				Help:      "RSSI of the last packet from each peripheral.",
			},
			[]string{"slave"},
		),
		slotDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "slot",
				Name:      "duration_seconds",
				Help:      "Time spent in one slot.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"slave"},
		),
		syncs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "broadcasts_total",
				Help:      "Sync countdown broadcasts.",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		r.bursts, r.packets, r.requests, r.framingErrors, r.rssi, r.slotDuration, r.syncs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Outcome names the slot result used as the outcome label
func Outcome(rep tdma.BurstReport) string {
	switch {
	case rep.Skipped:
		return "skipped"
	case rep.Inactive:
		return "inactive"
	case rep.Aborted:
		return "aborted"
	case rep.Zero:
		return "zero"
	case len(rep.Lost) > 0:
		return "partial"
	}
	return "complete"
}

// Report implements tdma.Reporter
func (r *Reporter) Report(rep tdma.BurstReport) {
	slave := strconv.Itoa(rep.Slave)
	if rep.Synced {
		r.syncs.Inc()
	}
	r.bursts.WithLabelValues(slave, Outcome(rep)).Inc()
	if rep.Skipped {
		return
	}

	r.packets.WithLabelValues(slave, "received").Add(float64(rep.Received))
	r.packets.WithLabelValues(slave, "recovered").Add(float64(rep.Recovered))
	r.packets.WithLabelValues(slave, "lost").Add(float64(len(rep.Lost)))
	r.requests.WithLabelValues(slave).Add(float64(rep.Requests))
	r.framingErrors.WithLabelValues(slave).Add(float64(rep.FramingErrors))
	r.slotDuration.WithLabelValues(slave).Observe(rep.Duration.Seconds())
	if !rep.Inactive {
		r.rssi.WithLabelValues(slave).Set(float64(rep.RSSI))
	}
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
