// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeHeader(t *testing.T) {
	tests := []struct {
		name               string
		origin, seq, total int
		want               string
	}{
		{"first of three", 2, 1, 3, "213"},
		{"zero marker", 1, 0, 0, "100"},
		{"capacity", 4, 20, 20, "4DD"},
		{"max capacity", 9, 40, 40, "9XX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeHeader(tt.origin, tt.seq, tt.total)
			if err != nil {
				t.Fatalf("EncodeHeader: %v", err)
			}
			if string(got[:]) != tt.want {
				t.Errorf("EncodeHeader() = %q, want %q", got, tt.want)
			}

			origin, seq, total, err := DecodeHeader(got[:])
			if err != nil {
				t.Fatalf("DecodeHeader: %v", err)
			}
			if origin != tt.origin || seq != tt.seq || total != tt.total {
				t.Errorf("DecodeHeader() = (%d, %d, %d), want (%d, %d, %d)",
					origin, seq, total, tt.origin, tt.seq, tt.total)
			}
		})
	}
}

func TestEncodeHeaderRange(t *testing.T) {
	if _, err := EncodeHeader(1, MaxDigitValue+1, 1); !errors.Is(err, ErrFieldRange) {
		t.Errorf("out of range seq: err = %v, want ErrFieldRange", err)
	}
	if _, err := EncodeHeader(-1, 1, 1); !errors.Is(err, ErrFieldRange) {
		t.Errorf("negative origin: err = %v, want ErrFieldRange", err)
	}
}

func TestDecodeHeaderErrors(t *testing.T) {
	if _, _, _, err := DecodeHeader([]byte("12")); !errors.Is(err, ErrShortPacket) {
		t.Errorf("short: err = %v, want ErrShortPacket", err)
	}
	if _, _, _, err := DecodeHeader([]byte{'1', 0x05, '3'}); !errors.Is(err, ErrFieldRange) {
		t.Errorf("control byte: err = %v, want ErrFieldRange", err)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	codecs := []FieldCodec{DigitCodec{}, BinaryCodec{}, HexCodec{}}
	for _, c := range codecs {
		t.Run(c.Name(), func(t *testing.T) {
			for v := 0; v <= c.Max(); v++ {
				buf := make([]byte, c.Width())
				if err := c.Put(buf, v); err != nil {
					t.Fatalf("Put(%d): %v", v, err)
				}
				got, err := c.Get(buf)
				if err != nil {
					t.Fatalf("Get(%q): %v", buf, err)
				}
				if got != v {
					t.Fatalf("round trip %d -> %q -> %d", v, buf, got)
				}
			}
			if err := c.Put(make([]byte, c.Width()), c.Max()+1); !errors.Is(err, ErrFieldRange) {
				t.Errorf("Put(max+1) err = %v, want ErrFieldRange", err)
			}
		})
	}
}

func TestHexCodecIsUppercase(t *testing.T) {
	buf := make([]byte, 2)
	if err := (HexCodec{}).Put(buf, 0xAB); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "AB" {
		t.Errorf("Put(0xAB) = %q, want \"AB\"", buf)
	}
	if _, err := (HexCodec{}).Get([]byte("G0")); !errors.Is(err, ErrInvalidHex) {
		t.Errorf("Get(G0) err = %v, want ErrInvalidHex", err)
	}
}

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"", "digit", true},
		{"digit", "digit", true},
		{"Binary", "binary", true},
		{"raw", "binary", true},
		{" hex ", "hex", true},
		{"base64", "", false},
	}
	for _, tt := range tests {
		c, err := CodecByName(tt.name)
		if !tt.ok {
			if err == nil {
				t.Errorf("CodecByName(%q) should fail", tt.name)
			}
			continue
		}
		if err != nil || c.Name() != tt.want {
			t.Errorf("CodecByName(%q) = %v, %v; want %s", tt.name, c, err, tt.want)
		}
	}
}

func TestParseHeaderSplitsPayload(t *testing.T) {
	for _, c := range []FieldCodec{DigitCodec{}, BinaryCodec{}, HexCodec{}} {
		t.Run(c.Name(), func(t *testing.T) {
			want := Header{Origin: 3, Seq: 2, Total: 5}
			pkt, err := BuildPacket(c, want, []byte("payload$"))
			if err != nil {
				t.Fatal(err)
			}
			if len(pkt) != HeaderSize(c)+len("payload$") {
				t.Errorf("packet length = %d", len(pkt))
			}
			h, payload, err := ParseHeader(c, pkt)
			if err != nil {
				t.Fatal(err)
			}
			if h != want {
				t.Errorf("header = %+v, want %+v", h, want)
			}
			if !bytes.Equal(payload, []byte("payload$")) {
				t.Errorf("payload = %q", payload)
			}
		})
	}
}

func TestBuildPacketMTU(t *testing.T) {
	h := Header{Origin: 1, Seq: 1, Total: 1}
	if _, err := BuildPacket(DigitCodec{}, h, make([]byte, MaxPacketSize-HeaderFields)); err != nil {
		t.Errorf("full packet rejected: %v", err)
	}
	if _, err := BuildPacket(DigitCodec{}, h, make([]byte, MaxPacketSize-HeaderFields+1)); !errors.Is(err, ErrPacketTooLarge) {
		t.Errorf("oversized packet err = %v, want ErrPacketTooLarge", err)
	}
}
