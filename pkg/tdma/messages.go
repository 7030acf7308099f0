// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"bytes"
	"fmt"
)

// Kind classifies a received radio packet
type Kind int

const (
	KindOther Kind = iota
	KindSlot
	KindRetransmit
	KindSync
	KindZero
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindSlot:
		return "slot"
	case KindRetransmit:
		return "retransmit"
	case KindSync:
		return "sync"
	case KindZero:
		return "zero"
	case KindData:
		return "data"
	}
	return "other"
}

// Message is a classified radio packet. Payload aliases the packet: it is the
// data payload for KindData, the encoded index list for KindRetransmit and the
// countdown numeral for KindSync.
type Message struct {
	Kind    Kind
	Origin  int
	Header  Header
	Payload []byte
}

// SlotAnnounce builds "<id>slot"
func SlotAnnounce(c FieldCodec, id int) ([]byte, error) {
	pkt := make([]byte, c.Width(), c.Width()+len(SlotTag))
	if err := c.Put(pkt, id); err != nil {
		return nil, fmt.Errorf("slot announce: %w", err)
	}
	return append(pkt, SlotTag...), nil
}

// ZeroMarker builds the "nothing to send" packet, a header with zero sequence
// and zero total ("<id>00" with the digit codec).
func ZeroMarker(c FieldCodec, id int) ([]byte, error) {
	return BuildPacket(c, Header{Origin: id}, nil)
}

// Classify decodes the kind of a packet. It never fails: anything that does
// not parse is KindOther.
func Classify(c FieldCodec, pkt []byte) Message {
	if bytes.HasPrefix(pkt, []byte(SyncTag)) {
		return Message{Kind: KindSync, Payload: pkt[len(SyncTag):]}
	}

	w := c.Width()
	if len(pkt) < w {
		return Message{Kind: KindOther}
	}
	id, err := c.Get(pkt)
	if err != nil {
		return Message{Kind: KindOther}
	}
	rest := pkt[w:]

	switch {
	case bytes.Equal(rest, []byte(SlotTag)):
		return Message{Kind: KindSlot, Origin: id}
	case bytes.HasPrefix(rest, []byte(RetransmitTag)):
		return Message{Kind: KindRetransmit, Origin: id, Payload: rest[len(RetransmitTag):]}
	}

	h, payload, err := ParseHeader(c, pkt)
	if err != nil {
		return Message{Kind: KindOther, Origin: id}
	}
	if h.Seq == 0 && h.Total == 0 {
		return Message{Kind: KindZero, Origin: h.Origin, Header: h}
	}
	return Message{Kind: KindData, Origin: h.Origin, Header: h, Payload: payload}
}
