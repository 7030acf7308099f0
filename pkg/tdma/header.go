// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"fmt"
	"strings"
)

// FieldCodec encodes one small integer header field on the wire.
// The same codec is used for header fields, slot announces and
// retransmission indices so the scheduler never depends on one scheme.
type FieldCodec interface {
	Name() string
	Width() int
	Max() int
	Put(dst []byte, v int) error
	Get(src []byte) (int, error)
}

// DigitCodec stores a field as a single byte offset from '0'.
// Every encoded value is printable, so packets never contain a zero byte.
type DigitCodec struct{}

func (DigitCodec) Name() string { return "digit" }
func (DigitCodec) Width() int   { return 1 }
func (DigitCodec) Max() int     { return MaxDigitValue }

func (DigitCodec) Put(dst []byte, v int) error {
	if v < 0 || v > MaxDigitValue {
		return fmt.Errorf("%w: %d (max %d)", ErrFieldRange, v, MaxDigitValue)
	}
	dst[0] = byte(v + CharOffset)
	return nil
}

func (DigitCodec) Get(src []byte) (int, error) {
	if len(src) < 1 {
		return 0, ErrShortPacket
	}
	if src[0] < CharOffset || src[0] > MaxPrintable {
		return 0, fmt.Errorf("%w: byte 0x%02X", ErrFieldRange, src[0])
	}
	return int(src[0] - CharOffset), nil
}

// BinaryCodec stores a field as a raw byte.
type BinaryCodec struct{}

func (BinaryCodec) Name() string { return "binary" }
func (BinaryCodec) Width() int   { return 1 }
func (BinaryCodec) Max() int     { return 0xFF }

func (BinaryCodec) Put(dst []byte, v int) error {
	if v < 0 || v > 0xFF {
		return fmt.Errorf("%w: %d (max 255)", ErrFieldRange, v)
	}
	dst[0] = byte(v)
	return nil
}

func (BinaryCodec) Get(src []byte) (int, error) {
	if len(src) < 1 {
		return 0, ErrShortPacket
	}
	return int(src[0]), nil
}

// HexCodec stores a field as two uppercase hex characters.
type HexCodec struct{}

func (HexCodec) Name() string { return "hex" }
func (HexCodec) Width() int   { return 2 }
func (HexCodec) Max() int     { return 0xFF }

func (HexCodec) Put(dst []byte, v int) error {
	if v < 0 || v > 0xFF {
		return fmt.Errorf("%w: %d (max 255)", ErrFieldRange, v)
	}
	dst[0] = hexDigits[v>>4]
	dst[1] = hexDigits[v&0x0F]
	return nil
}

func (HexCodec) Get(src []byte) (int, error) {
	if len(src) < 2 {
		return 0, ErrShortPacket
	}
	hi, ok1 := fromHexChar(src[0])
	lo, ok2 := fromHexChar(src[1])
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHex, src[:2])
	}
	return int(hi<<4 | lo), nil
}

// CodecByName returns the field codec for a configuration name
func CodecByName(name string) (FieldCodec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "digit":
		return DigitCodec{}, nil
	case "binary", "raw":
		return BinaryCodec{}, nil
	case "hex":
		return HexCodec{}, nil
	}
	return nil, fmt.Errorf("unknown header encoding %q (use digit, binary or hex)", name)
}

// Header is the logical packet header carried by every data packet.
type Header struct {
	Origin int // peripheral id
	Seq    int // 1-based index within the burst, 0 in the zero marker
	Total  int // burst size latched from the first packet
}

// HeaderSize returns the encoded header length for a codec
func HeaderSize(c FieldCodec) int {
	return HeaderFields * c.Width()
}

// AppendHeader appends the encoded header to dst
func AppendHeader(dst []byte, c FieldCodec, h Header) ([]byte, error) {
	w := c.Width()
	buf := make([]byte, HeaderFields*w)
	for i, v := range [HeaderFields]int{h.Origin, h.Seq, h.Total} {
		if err := c.Put(buf[i*w:], v); err != nil {
			return dst, err
		}
	}
	return append(dst, buf...), nil
}

// ParseHeader splits a packet into its header and payload.
// The payload aliases pkt.
func ParseHeader(c FieldCodec, pkt []byte) (Header, []byte, error) {
	size := HeaderSize(c)
	if len(pkt) < size {
		return Header{}, nil, fmt.Errorf("%w: %d bytes (need %d)", ErrShortPacket, len(pkt), size)
	}
	var fields [HeaderFields]int
	w := c.Width()
	for i := range fields {
		v, err := c.Get(pkt[i*w:])
		if err != nil {
			return Header{}, nil, err
		}
		fields[i] = v
	}
	return Header{Origin: fields[0], Seq: fields[1], Total: fields[2]}, pkt[size:], nil
}

// EncodeHeader encodes a header with the digit codec.
func EncodeHeader(origin, seq, total int) ([HeaderFields]byte, error) {
	var out [HeaderFields]byte
	c := DigitCodec{}
	for i, v := range [HeaderFields]int{origin, seq, total} {
		if err := c.Put(out[i:], v); err != nil {
			return out, err
		}
	}
	return out, nil
}

// DecodeHeader decodes a digit-codec header.
// Deciding which fields are authoritative is left to the caller.
func DecodeHeader(b []byte) (origin, seq, total int, err error) {
	h, _, err := ParseHeader(DigitCodec{}, b)
	if err != nil {
		return 0, 0, 0, err
	}
	return h.Origin, h.Seq, h.Total, nil
}

// BuildPacket frames a payload with its header
func BuildPacket(c FieldCodec, h Header, payload []byte) ([]byte, error) {
	size := HeaderSize(c) + len(payload)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPacketTooLarge, size, MaxPacketSize)
	}
	pkt := make([]byte, 0, size)
	pkt, err := AppendHeader(pkt, c, h)
	if err != nil {
		return nil, err
	}
	return append(pkt, payload...), nil
}
