// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the tdmalink TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

// maxDigitSlaves keeps slot ids a single decimal digit with the digit header
const maxDigitSlaves = 9

// Duration is a time.Duration written as a string ("20ms", "2s") in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LinkConfig is the [link] table shared by both roles
type LinkConfig struct {
	Slaves         int      `toml:"slaves"`
	Capacity       int      `toml:"capacity"`
	Header         string   `toml:"header"`
	ReceiveTimeout Duration `toml:"receive_timeout"`
	PollInterval   Duration `toml:"poll_interval"`
	BaseFrequency  uint32   `toml:"base_frequency"`
	RadioPort      string   `toml:"radio_port"`
	RadioBaud      int      `toml:"radio_baud"`
}

// CoordinatorConfig is the [coordinator] table
type CoordinatorConfig struct {
	AnnounceRetries  int      `toml:"announce_retries"`
	RetransmitRounds int      `toml:"retransmit_rounds"`
	StaleAfter       int      `toml:"stale_after"`
	IdleInitial      Duration `toml:"idle_initial"`
	IdleMax          Duration `toml:"idle_max"`
	IdleJitter       bool     `toml:"idle_jitter"`
	HostEncoding     string   `toml:"host_encoding"`
	IncludeHeader    bool     `toml:"include_header"`
	ReportLost       bool     `toml:"report_lost"`
}

// PeripheralConfig is the [peripheral] table
type PeripheralConfig struct {
	ID         int      `toml:"id"`
	ResetAfter Duration `toml:"reset_after"`
	SyncPin    string   `toml:"sync_pin"`
}

// SyncConfig is the [sync] table, the sync pulse period used by both roles
type SyncConfig struct {
	Interval Duration `toml:"interval"`
}

// ReportConfig is the [report] table for metrics and MQTT publishing
type ReportConfig struct {
	MetricsAddr  string `toml:"metrics_addr"`
	MQTTBroker   string `toml:"mqtt_broker"`
	MQTTTopic    string `toml:"mqtt_topic"`
	MQTTClientID string `toml:"mqtt_client_id"`
	MQTTUsername string `toml:"mqtt_username"`
}

// Config is the whole configuration file
type Config struct {
	Link        LinkConfig        `toml:"link"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Peripheral  PeripheralConfig  `toml:"peripheral"`
	Sync        SyncConfig        `toml:"sync"`
	Report      ReportConfig      `toml:"report"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Link: LinkConfig{
			Slaves:         tdma.DefaultSlaveCount,
			Capacity:       tdma.DefaultCapacity,
			Header:         "digit",
			ReceiveTimeout: Duration{tdma.DefaultReceiveTimeout},
			PollInterval:   Duration{tdma.DefaultPollInterval},
			BaseFrequency:  tdma.DefaultBaseFrequency,
			RadioBaud:      115200,
		},
		Coordinator: CoordinatorConfig{
			AnnounceRetries:  tdma.DefaultAnnounceRetries,
			RetransmitRounds: tdma.DefaultRetransmitRounds,
			StaleAfter:       tdma.DefaultStaleAfter,
			IdleInitial:      Duration{tdma.DefaultIdleInitial},
			IdleMax:          Duration{tdma.DefaultIdleMax},
			HostEncoding:     "raw",
			ReportLost:       true,
		},
		Peripheral: PeripheralConfig{
			ID:         1,
			ResetAfter: Duration{tdma.DefaultResetAfter},
		},
		Sync: SyncConfig{
			Interval: Duration{tdma.DefaultSyncInterval},
		},
		Report: ReportConfig{
			MQTTTopic:    "tdmalink/bursts",
			MQTTClientID: "tdmalink",
		},
	}
}

// Load reads path over the defaults and validates the result. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and names
func (c Config) Validate() error {
	codec, err := tdma.CodecByName(c.Link.Header)
	if err != nil {
		return err
	}
	maxSlaves := codec.Max()
	if codec.Name() == "digit" {
		maxSlaves = maxDigitSlaves
	}
	if c.Link.Slaves < 1 || c.Link.Slaves > maxSlaves {
		return fmt.Errorf("link.slaves must be 1-%d, got %d", maxSlaves, c.Link.Slaves)
	}
	if c.Link.Capacity < 1 || c.Link.Capacity > tdma.MaxCapacity {
		return fmt.Errorf("link.capacity must be 1-%d, got %d", tdma.MaxCapacity, c.Link.Capacity)
	}
	if c.Link.ReceiveTimeout.Duration <= 0 {
		return errors.New("link.receive_timeout must be positive")
	}
	if c.Link.PollInterval.Duration <= 0 {
		return errors.New("link.poll_interval must be positive")
	}
	if c.Coordinator.AnnounceRetries < 1 {
		return errors.New("coordinator.announce_retries must be at least 1")
	}
	if c.Coordinator.RetransmitRounds < 1 {
		return errors.New("coordinator.retransmit_rounds must be at least 1")
	}
	if c.Coordinator.StaleAfter < 1 {
		return errors.New("coordinator.stale_after must be at least 1")
	}
	if c.Coordinator.IdleInitial.Duration <= 0 || c.Coordinator.IdleMax.Duration < c.Coordinator.IdleInitial.Duration {
		return errors.New("coordinator.idle_initial must be positive and not above idle_max")
	}
	if _, err := tdma.ParseHostEncoding(c.Coordinator.HostEncoding); err != nil {
		return err
	}
	if c.Peripheral.ID < 1 || c.Peripheral.ID > maxSlaves {
		return fmt.Errorf("peripheral.id must be 1-%d, got %d", maxSlaves, c.Peripheral.ID)
	}
	if c.Peripheral.ResetAfter.Duration <= 0 {
		return errors.New("peripheral.reset_after must be positive")
	}
	if c.Sync.Interval.Duration <= 0 {
		return errors.New("sync.interval must be positive")
	}
	return nil
}

// CoordinatorEngine builds the engine configuration for the coordinator role
func (c Config) CoordinatorEngine(log zerolog.Logger) (tdma.CoordinatorConfig, error) {
	codec, err := tdma.CodecByName(c.Link.Header)
	if err != nil {
		return tdma.CoordinatorConfig{}, err
	}
	enc, err := tdma.ParseHostEncoding(c.Coordinator.HostEncoding)
	if err != nil {
		return tdma.CoordinatorConfig{}, err
	}
	return tdma.CoordinatorConfig{
		Slaves:           c.Link.Slaves,
		Codec:            codec,
		Capacity:         c.Link.Capacity,
		ReceiveTimeout:   c.Link.ReceiveTimeout.Duration,
		PollInterval:     c.Link.PollInterval.Duration,
		AnnounceRetries:  c.Coordinator.AnnounceRetries,
		RetransmitRounds: c.Coordinator.RetransmitRounds,
		StaleAfter:       c.Coordinator.StaleAfter,
		Backoff: tdma.BackoffConfig{
			InitialDelay: c.Coordinator.IdleInitial.Duration,
			Multiplier:   2,
			MaxDelay:     c.Coordinator.IdleMax.Duration,
			Jitter:       c.Coordinator.IdleJitter,
		},
		SyncInterval:  c.Sync.Interval.Duration,
		HostEncoding:  enc,
		IncludeHeader: c.Coordinator.IncludeHeader,
		ReportLost:    c.Coordinator.ReportLost,
		Clock:         tdma.SystemClock{},
		Log:           log,
	}, nil
}

// PeripheralEngine builds the engine configuration for peripheral id
func (c Config) PeripheralEngine(id int, log zerolog.Logger) (tdma.PeripheralConfig, error) {
	codec, err := tdma.CodecByName(c.Link.Header)
	if err != nil {
		return tdma.PeripheralConfig{}, err
	}
	return tdma.PeripheralConfig{
		ID:             id,
		Codec:          codec,
		Capacity:       c.Link.Capacity,
		ReceiveTimeout: c.Link.ReceiveTimeout.Duration,
		PollInterval:   c.Link.PollInterval.Duration,
		ResetAfter:     c.Peripheral.ResetAfter.Duration,
		BaseFrequency:  c.Link.BaseFrequency,
		SyncInterval:   c.Sync.Interval.Duration,
		Clock:          tdma.SystemClock{},
		Log:            log,
	}, nil
}
