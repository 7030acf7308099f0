// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/tdmalink/internal/metrics"
	"github.com/Thermoquad/tdmalink/internal/mqttpub"
	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

// EnvMQTTPassword holds the broker password
const EnvMQTTPassword = "TDMALINK_MQTT_PASSWORD"

var (
	metricsAddr string
	mqttBroker  string
)

// reportSinks fans burst reports out to statistics plus the optional
// Prometheus endpoint and MQTT publisher from the configuration.
type reportSinks struct {
	stats     *tdma.Statistics
	reporters tdma.MultiReporter
	server    *http.Server
	publisher *mqttpub.Publisher
}

func newReportSinks(stats *tdma.Statistics, extra ...tdma.Reporter) (*reportSinks, error) {
	s := &reportSinks{stats: stats, reporters: tdma.MultiReporter{stats}}
	s.reporters = append(s.reporters, extra...)

	addr := cfg.Report.MetricsAddr
	if metricsAddr != "" {
		addr = metricsAddr
	}
	if addr != "" {
		reg := prometheus.NewRegistry()
		m, err := metrics.New(reg)
		if err != nil {
			return nil, err
		}
		s.reporters = append(s.reporters, m)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		s.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
			}
		}()
		logger.Info().Str("addr", addr).Msg("serving metrics")
	}

	broker := cfg.Report.MQTTBroker
	if mqttBroker != "" {
		broker = mqttBroker
	}
	if broker != "" {
		pub, err := mqttpub.Connect(mqttOptions(broker), logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.publisher = pub
		s.reporters = append(s.reporters, pub)
	}
	return s, nil
}

func mqttOptions(broker string) mqttpub.Options {
	return mqttpub.Options{
		Broker:   broker,
		ClientID: cfg.Report.MQTTClientID,
		Username: cfg.Report.MQTTUsername,
		Password: os.Getenv(EnvMQTTPassword),
		Topic:    cfg.Report.MQTTTopic,
	}
}

// Report implements tdma.Reporter
func (s *reportSinks) Report(r tdma.BurstReport) {
	s.reporters.Report(r)
}

// Close stops the metrics server and flushes the publisher
func (s *reportSinks) Close() {
	if s.server != nil {
		_ = s.server.Close()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
}
