// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package airsim

import (
	"errors"
	"testing"
)

func TestBroadcastReachesOthersOnly(t *testing.T) {
	m := NewMedium()
	a, b, c := m.Attach("a"), m.Attach("b"), m.Attach("c")

	if err := a.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if a.PollReceived() {
		t.Error("sender heard itself")
	}
	for _, n := range []*Node{b, c} {
		pkt, rssi, err := n.ReadReceived(240)
		if err != nil || string(pkt) != "hello" || rssi != defaultRSSI {
			t.Errorf("%s got %q %d %v", n.Name(), pkt, rssi, err)
		}
	}
	if _, _, err := b.ReadReceived(240); !errors.Is(err, ErrNothingReceived) {
		t.Errorf("empty inbox err = %v", err)
	}
	if s := a.Stats(); s.Sent != 1 {
		t.Errorf("sender stats %+v", s)
	}
}

func TestFrequencySeparatesNodes(t *testing.T) {
	m := NewMedium()
	a, b := m.Attach("a"), m.Attach("b")
	_ = b.SetFrequency(868100000)
	_ = a.Send([]byte("x"))
	if b.PollReceived() {
		t.Error("node on another frequency received the packet")
	}
	_ = b.SetFrequency(a.Frequency())
	_ = a.Send([]byte("y"))
	if !b.PollReceived() {
		t.Error("retuned node missed the packet")
	}
}

func TestDropFuncAndLoss(t *testing.T) {
	m := NewMedium(WithSeed(1), WithDropFunc(func(from, to string, pkt []byte) bool {
		return to == "b" && string(pkt) == "drop"
	}))
	a, b := m.Attach("a"), m.Attach("b")
	_ = a.Send([]byte("drop"))
	_ = a.Send([]byte("keep"))
	pkt, _, _ := b.ReadReceived(240)
	if string(pkt) != "keep" || b.Stats().Dropped != 1 {
		t.Errorf("got %q, stats %+v", pkt, b.Stats())
	}

	m.SetLoss(1)
	_ = a.Send([]byte("lost"))
	if b.PollReceived() {
		t.Error("packet survived total loss")
	}
}

func TestInboxOverflowAndTruncation(t *testing.T) {
	m := NewMedium()
	a, b := m.Attach("a"), m.Attach("b")
	for range inboxCapacity + 3 {
		_ = a.Send([]byte("0123456789"))
	}
	if b.Stats().Overflow != 3 {
		t.Errorf("overflow = %d, want 3", b.Stats().Overflow)
	}
	pkt, _, _ := b.ReadReceived(4)
	if string(pkt) != "0123" {
		t.Errorf("truncated read %q", pkt)
	}
}

func TestResetAndClose(t *testing.T) {
	m := NewMedium()
	a, b := m.Attach("a"), m.Attach("b")
	b.SetRSSI(-99)
	_ = a.Send([]byte("x"))
	_ = b.ResetHardware()
	if b.PollReceived() || b.Stats().Resets != 1 {
		t.Error("reset kept queued packets")
	}
	_ = b.Close()
	if err := b.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close err = %v", err)
	}
	if err := b.BeginReceive(); !errors.Is(err, ErrClosed) {
		t.Errorf("receive after close err = %v", err)
	}
	_ = a.Send([]byte("y"))
	if b.PollReceived() {
		t.Error("closed node received")
	}
}
