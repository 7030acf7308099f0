// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"fmt"
	"iter"
)

// BuildRequest builds "<origin>RE" followed by one encoded field per missing
// index. It returns nil and a zero count when missing yields nothing, in which
// case no request should be sent.
func BuildRequest(c FieldCodec, origin int, missing iter.Seq[int]) ([]byte, int, error) {
	w := c.Width()
	pkt := make([]byte, w, MaxPacketSize)
	if err := c.Put(pkt, origin); err != nil {
		return nil, 0, fmt.Errorf("retransmit request: %w", err)
	}
	pkt = append(pkt, RetransmitTag...)

	count := 0
	field := make([]byte, w)
	for seq := range missing {
		if len(pkt)+w > MaxPacketSize {
			return nil, 0, fmt.Errorf("retransmit request: %w", ErrPacketTooLarge)
		}
		if err := c.Put(field, seq); err != nil {
			return nil, 0, fmt.Errorf("retransmit request index %d: %w", seq, err)
		}
		pkt = append(pkt, field...)
		count++
	}
	if count == 0 {
		return nil, 0, nil
	}
	return pkt, count, nil
}

// ParseIndices decodes the index list of a retransmission request (the bytes
// after the tag). Indices outside 1..limit, undecodable fields and duplicates
// are skipped. Order of first appearance is kept.
func ParseIndices(c FieldCodec, list []byte, limit int) []int {
	w := c.Width()
	seen := make(map[int]bool, len(list)/w)
	out := make([]int, 0, len(list)/w)
	for i := 0; i+w <= len(list); i += w {
		seq, err := c.Get(list[i:])
		if err != nil || seq < 1 || seq > limit || seen[seq] {
			continue
		}
		seen[seq] = true
		out = append(out, seq)
	}
	return out
}

// ParseRequest decodes a full retransmission request packet
func ParseRequest(c FieldCodec, pkt []byte, limit int) (origin int, indices []int, err error) {
	m := Classify(c, pkt)
	if m.Kind != KindRetransmit {
		return 0, nil, fmt.Errorf("not a retransmission request: %q", pkt)
	}
	return m.Origin, ParseIndices(c, m.Payload, limit), nil
}
