// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqttpub carries coordinator burst reports over an MQTT broker as
// CBOR payloads.
package mqttpub

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

const queueLength = 64

// Options describes the broker connection
type Options struct {
	Broker         string // tcp://host:port
	ClientID       string
	Username       string
	Password       string
	Topic          string // reports go to <Topic>/<slave>
	ConnectTimeout time.Duration
}

// PublishFunc sends one payload
type PublishFunc func(topic string, payload []byte) error

// Publisher is a tdma.Reporter. Reports are queued and published on a
// goroutine so the scheduler never waits on the broker; a full queue drops
// the report.
type Publisher struct {
	topic   string
	publish PublishFunc
	log     zerolog.Logger
	queue   chan tdma.BurstReport
	done    chan struct{}
	dropped int
	closer  func()
}

// Connect dials the broker and returns a running publisher
func Connect(opts Options, log zerolog.Logger) (*Publisher, error) {
	client, timeout, err := dial(opts, log)
	if err != nil {
		return nil, err
	}
	publish := func(topic string, payload []byte) error {
		t := client.Publish(topic, 1, false, payload)
		if !t.WaitTimeout(timeout) {
			return fmt.Errorf("mqtt publish to %s timed out", topic)
		}
		return t.Error()
	}
	p := New(opts.Topic, publish, log)
	p.closer = func() { client.Disconnect(250) }
	return p, nil
}

func dial(opts Options, log zerolog.Logger) (mqtt.Client, time.Duration, error) {
	if opts.Broker == "" {
		return nil, 0, errors.New("mqtt broker address is required")
	}
	if opts.Topic == "" {
		return nil, 0, errors.New("mqtt topic is required")
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	copts := mqtt.NewClientOptions().AddBroker(opts.Broker)
	copts.ClientID = opts.ClientID
	copts.Username = opts.Username
	copts.Password = opts.Password
	copts.AutoReconnect = true
	copts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})

	client := mqtt.NewClient(copts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, 0, fmt.Errorf("mqtt connect to %s timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, 0, fmt.Errorf("mqtt connect to %s: %w", opts.Broker, err)
	}
	log.Info().Str("broker", opts.Broker).Msg("MQTT connected")
	return client, timeout, nil
}

// New starts a publisher around an arbitrary publish function
func New(topic string, publish PublishFunc, log zerolog.Logger) *Publisher {
	p := &Publisher{
		topic:   strings.TrimSuffix(topic, "/"),
		publish: publish,
		log:     log,
		queue:   make(chan tdma.BurstReport, queueLength),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Topic returns the topic a report is published to
func (p *Publisher) Topic(r tdma.BurstReport) string {
	return p.topic + "/" + strconv.Itoa(r.Slave)
}

// Report implements tdma.Reporter
func (p *Publisher) Report(r tdma.BurstReport) {
	select {
	case p.queue <- r:
	default:
		p.dropped++
		p.log.Warn().Int("slave", r.Slave).Msg("mqtt queue full, report dropped")
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for r := range p.queue {
		payload, err := tdma.MarshalReport(r)
		if err != nil {
			p.log.Error().Err(err).Msg("report encoding failed")
			continue
		}
		if err := p.publish(p.Topic(r), payload); err != nil {
			p.log.Warn().Err(err).Int("slave", r.Slave).Msg("mqtt publish failed")
		}
	}
}

// Close publishes what is queued and disconnects
func (p *Publisher) Close() {
	close(p.queue)
	<-p.done
	if p.closer != nil {
		p.closer()
	}
}

// Subscription delivers reports published by a coordinator
type Subscription struct {
	client mqtt.Client
	filter string
}

// Subscribe dials the broker and calls handle for every report published
// under opts.Topic. handle runs on the MQTT client goroutine.
func Subscribe(opts Options, handle func(tdma.BurstReport), log zerolog.Logger) (*Subscription, error) {
	if opts.ClientID != "" {
		opts.ClientID += "-monitor"
	}
	client, timeout, err := dial(opts, log)
	if err != nil {
		return nil, err
	}
	filter := strings.TrimSuffix(opts.Topic, "/") + "/+"
	token := client.Subscribe(filter, 1, MessageHandler(handle, log))
	if !token.WaitTimeout(timeout) {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe to %s timed out", filter)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe to %s: %w", filter, err)
	}
	log.Info().Str("topic", filter).Msg("MQTT subscribed")
	return &Subscription{client: client, filter: filter}, nil
}

// MessageHandler decodes CBOR report payloads; undecodable messages are
// logged and skipped.
func MessageHandler(handle func(tdma.BurstReport), log zerolog.Logger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		r, err := tdma.UnmarshalReport(msg.Payload())
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("bad report payload")
			return
		}
		handle(r)
	}
}

// Close unsubscribes and disconnects
func (s *Subscription) Close() {
	s.client.Unsubscribe(s.filter).WaitTimeout(time.Second)
	s.client.Disconnect(250)
}
