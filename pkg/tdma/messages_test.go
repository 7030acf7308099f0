// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"slices"
	"testing"
)

func TestSlotAnnounceAndZeroMarker(t *testing.T) {
	slot, err := SlotAnnounce(DigitCodec{}, 3)
	if err != nil || string(slot) != "3slot" {
		t.Errorf("SlotAnnounce(3) = %q, %v", slot, err)
	}
	zero, err := ZeroMarker(DigitCodec{}, 3)
	if err != nil || string(zero) != "300" {
		t.Errorf("ZeroMarker(3) = %q, %v", zero, err)
	}
	hexSlot, _ := SlotAnnounce(HexCodec{}, 0x1A)
	if string(hexSlot) != "1Aslot" {
		t.Errorf("hex SlotAnnounce = %q", hexSlot)
	}
	if _, err := SlotAnnounce(DigitCodec{}, 200); err == nil {
		t.Error("SlotAnnounce(200) with digit codec should fail")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		pkt     string
		kind    Kind
		origin  int
		payload string
	}{
		{"slot", "2slot", KindSlot, 2, ""},
		{"retransmit", "2RE35", KindRetransmit, 2, "35"},
		{"retransmit empty list", "2RE", KindRetransmit, 2, ""},
		{"sync", "SYNC3", KindSync, 0, "3"},
		{"zero marker", "200", KindZero, 2, ""},
		{"data", "213hello", KindData, 2, "hello"},
		{"data without payload", "211", KindData, 2, ""},
		{"short", "2", KindOther, 2, ""},
		{"empty", "", KindOther, 0, ""},
		{"bad origin", "\x01slot", KindOther, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Classify(DigitCodec{}, []byte(tt.pkt))
			if m.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", m.Kind, tt.kind)
			}
			if tt.kind != KindOther && tt.kind != KindSync && m.Origin != tt.origin {
				t.Errorf("Origin = %d, want %d", m.Origin, tt.origin)
			}
			if string(m.Payload) != tt.payload {
				t.Errorf("Payload = %q, want %q", m.Payload, tt.payload)
			}
		})
	}
}

func TestClassifyDataHeader(t *testing.T) {
	m := Classify(DigitCodec{}, dataPacket(4, 2, 7, "x"))
	want := Header{Origin: 4, Seq: 2, Total: 7}
	if m.Kind != KindData || m.Header != want {
		t.Errorf("Classify = %+v, want data %+v", m, want)
	}
}

func TestBuildRequest(t *testing.T) {
	req, n, err := BuildRequest(DigitCodec{}, 1, slices.Values([]int{2, 5}))
	if err != nil {
		t.Fatal(err)
	}
	if string(req) != "1RE25" || n != 2 {
		t.Errorf("BuildRequest = %q (%d), want 1RE25 (2)", req, n)
	}

	req, n, err = BuildRequest(DigitCodec{}, 1, slices.Values([]int(nil)))
	if err != nil || req != nil || n != 0 {
		t.Errorf("empty BuildRequest = %q, %d, %v; want nil, 0, nil", req, n, err)
	}

	req, _, _ = BuildRequest(HexCodec{}, 0x10, slices.Values([]int{1, 0x20}))
	if string(req) != "10RE0120" {
		t.Errorf("hex BuildRequest = %q", req)
	}
}

func TestBuildRequestTooLarge(t *testing.T) {
	var many []int
	for i := range MaxPacketSize {
		many = append(many, i%70+1)
	}
	if _, _, err := BuildRequest(DigitCodec{}, 1, slices.Values(many)); err == nil {
		t.Error("request larger than the MTU should fail")
	}
}

func TestParseIndices(t *testing.T) {
	tests := []struct {
		name  string
		list  string
		limit int
		want  []int
	}{
		{"plain", "25", 6, []int{2, 5}},
		{"duplicates", "2252", 6, []int{2, 5}},
		{"out of range", "0279", 6, []int{2}},
		{"undecodable", "2\x015", 6, []int{2, 5}},
		{"empty", "", 6, []int{}},
		{"nothing stored", "12", 0, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseIndices(DigitCodec{}, []byte(tt.list), tt.limit)
			if !slices.Equal(got, tt.want) {
				t.Errorf("ParseIndices(%q, %d) = %v, want %v", tt.list, tt.limit, got, tt.want)
			}
		})
	}
}

func TestParseRequest(t *testing.T) {
	origin, idx, err := ParseRequest(DigitCodec{}, []byte("3RE14"), 5)
	if err != nil || origin != 3 || !slices.Equal(idx, []int{1, 4}) {
		t.Errorf("ParseRequest = %d %v %v", origin, idx, err)
	}
	if _, _, err := ParseRequest(DigitCodec{}, []byte("3slot"), 5); err == nil {
		t.Error("slot announce parsed as request")
	}
}
