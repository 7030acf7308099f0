// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"fmt"
	"time"
)

// Radio is the transceiver driver contract consumed by the engine.
// Send blocks until the packet is on air. ReadReceived returns the packet and
// its RSSI.
type Radio interface {
	Send(pkt []byte) error
	BeginReceive() error
	PollReceived() bool
	ReadReceived(max int) ([]byte, int8, error)
	ResetHardware() error
	SetFrequency(hz uint32) error
}

// Frame is a packet read from the radio
type Frame struct {
	Data []byte
	RSSI int8
}

// Receiver performs receive-with-timeout on a Radio.
//
// Idle is the explicit step run between polls while the radio is listening.
// It is never run while the driver is sending or copying a packet out.
type Receiver struct {
	Radio        Radio
	Clock        Clock
	PollInterval time.Duration
	Idle         func()
}

// Receive waits up to timeout for one packet. It returns ErrTimeout when the
// window closes with nothing received.
func (r *Receiver) Receive(timeout time.Duration) (Frame, error) {
	if err := r.Radio.BeginReceive(); err != nil {
		return Frame{}, fmt.Errorf("begin receive: %w", err)
	}

	clk := r.Clock
	if clk == nil {
		clk = SystemClock{}
	}
	poll := r.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	deadline := clk.Now().Add(timeout)
	for {
		if r.Radio.PollReceived() {
			data, rssi, err := r.Radio.ReadReceived(MaxPacketSize)
			if err != nil {
				return Frame{}, fmt.Errorf("read received: %w", err)
			}
			return Frame{Data: data, RSSI: rssi}, nil
		}
		if !clk.Now().Before(deadline) {
			return Frame{}, ErrTimeout
		}
		if r.Idle != nil {
			r.Idle()
		}
		clk.Sleep(poll)
	}
}
