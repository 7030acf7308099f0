// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttpub

import (
	"errors"
	"slices"
	"sync"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

type recorder struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (r *recorder) publish(topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return r.err
}

func TestPublisherEncodesReports(t *testing.T) {
	rec := &recorder{}
	p := New("tdmalink/bursts/", rec.publish, zerolog.Nop())

	p.Report(tdma.BurstReport{Slave: 3, Expected: 4, Received: 3, Recovered: 1})
	p.Report(tdma.BurstReport{Slave: 1, Zero: true})
	p.Close()

	want := []string{"tdmalink/bursts/3", "tdmalink/bursts/1"}
	if !slices.Equal(rec.topics, want) {
		t.Fatalf("topics = %v, want %v", rec.topics, want)
	}

	got, err := tdma.UnmarshalReport(rec.payloads[0])
	if err != nil {
		t.Fatalf("UnmarshalReport: %v", err)
	}
	if got.Slave != 3 || got.Expected != 4 || got.Recovered != 1 {
		t.Errorf("decoded report = %+v", got)
	}
}

func TestPublisherSurvivesPublishErrors(t *testing.T) {
	rec := &recorder{err: errors.New("broker gone")}
	p := New("t", rec.publish, zerolog.Nop())
	p.Report(tdma.BurstReport{Slave: 1})
	p.Report(tdma.BurstReport{Slave: 2})
	p.Close()

	if len(rec.topics) != 2 {
		t.Errorf("publish attempts = %d, want 2", len(rec.topics))
	}
}

func TestConnectRequiresBroker(t *testing.T) {
	if _, err := Connect(Options{Topic: "t"}, zerolog.Nop()); err == nil {
		t.Error("Connect without broker should fail")
	}
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

func TestMessageHandlerDecodesReports(t *testing.T) {
	var got []tdma.BurstReport
	handler := MessageHandler(func(r tdma.BurstReport) { got = append(got, r) }, zerolog.Nop())

	payload, err := tdma.MarshalReport(tdma.BurstReport{Slave: 2, Expected: 5, Lost: []int{4}})
	if err != nil {
		t.Fatalf("MarshalReport: %v", err)
	}
	handler(nil, fakeMessage{topic: "tdmalink/bursts/2", payload: payload})
	handler(nil, fakeMessage{topic: "tdmalink/bursts/2", payload: []byte{0xff, 0x00}})

	if len(got) != 1 {
		t.Fatalf("handled %d reports, want 1", len(got))
	}
	if got[0].Slave != 2 || got[0].Delivered() != 4 {
		t.Errorf("report = %+v", got[0])
	}
}

func TestSubscribeRequiresTopic(t *testing.T) {
	if _, err := Subscribe(Options{Broker: "tcp://127.0.0.1:1"}, func(tdma.BurstReport) {}, zerolog.Nop()); err == nil {
		t.Error("Subscribe without topic should fail")
	}
}
