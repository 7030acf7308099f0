// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSyncDetector(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   int
	}{
		{"single", []string{"abcSYNC$"}, 1},
		{"two tails", []string{"SYNC$xxSYNC$"}, 2},
		{"split across reads", []string{"data$SY", "NC", "$"}, 1},
		{"no terminator", []string{"SYNC"}, 0},
		{"after long traffic", []string{strings.Repeat("0123456789", 20), "SYNC$"}, 1},
		{"tail is not reused", []string{"SYNC$", "$"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d SyncDetector
			count := 0
			for _, c := range tt.chunks {
				d.Scan([]byte(c), func() { count++ })
			}
			if count != tt.want {
				t.Errorf("sync count = %d, want %d", count, tt.want)
			}
		})
	}
}

func TestHostFramerSplitsMessages(t *testing.T) {
	store := newStore(t, 4)
	f := NewHostFramer(store, 4, zerolog.Nop())

	if _, err := f.Write([]byte("ab$cdefg")); err != nil {
		t.Fatal(err)
	}
	if f.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", f.Pending())
	}
	_, _ = f.Write([]byte("$"))

	n := store.Rotate()
	var got []string
	for seq := 1; seq <= n; seq++ {
		p, err := store.Packet(store.TxLevel(), seq)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, string(p))
	}
	if want := []string{"ab$", "cdef", "g$"}; !slices.Equal(got, want) {
		t.Errorf("packets %q, want %q", got, want)
	}
}

func TestHostFramerDropsWhenFull(t *testing.T) {
	store := newStore(t, 1)
	f := NewHostFramer(store, 16, zerolog.Nop())
	drops := 0
	f.OnDrop(func() { drops++ })

	_, _ = f.Write([]byte("one$two$three$"))
	if f.Dropped() != 2 || drops != 2 {
		t.Errorf("Dropped() = %d, callbacks = %d, want 2", f.Dropped(), drops)
	}
	if f.Pending() != 0 {
		t.Errorf("dropped message left %d bytes pending", f.Pending())
	}
	store.Rotate()
	p, _ := store.Packet(store.TxLevel(), 1)
	if string(p) != "one$" {
		t.Errorf("kept packet %q", p)
	}
}

func TestHostPump(t *testing.T) {
	var sink bytes.Buffer
	p := NewHostPump(strings.NewReader("hello$world$"), &sink)
	<-p.Done()

	if n := p.Poll(); n != 12 {
		t.Errorf("Poll() = %d, want 12", n)
	}
	if sink.String() != "hello$world$" {
		t.Errorf("sink = %q", sink.String())
	}
	if p.Poll() != 0 {
		t.Error("second Poll moved bytes")
	}
	if err := p.Err(); err != nil {
		t.Errorf("Err() after EOF = %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errRadio }

func TestHostPumpError(t *testing.T) {
	p := NewHostPump(failingReader{}, &bytes.Buffer{})
	<-p.Done()
	if !errors.Is(p.Err(), errRadio) {
		t.Errorf("Err() = %v", p.Err())
	}
}

type endlessReader struct{}

func (endlessReader) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = 'x'
	}
	return len(b), nil
}

func TestHostPumpCloseWithoutPoll(t *testing.T) {
	p := NewHostPump(endlessReader{}, &bytes.Buffer{})
	p.Close()
	p.Close()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("reader still blocked after Close")
	}
	if err := p.Err(); err != nil {
		t.Errorf("Err() after Close = %v", err)
	}
}

func TestHostEncoding(t *testing.T) {
	for name, want := range map[string]HostEncoding{"": EncodingRaw, "raw": EncodingRaw, "HEX": EncodingHex, " compact ": EncodingCompact} {
		got, err := ParseHostEncoding(name)
		if err != nil || got != want {
			t.Errorf("ParseHostEncoding(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseHostEncoding("base64"); err == nil {
		t.Error("unknown encoding accepted")
	}

	out, _ := EncodingHex.Encode([]byte("AB"))
	if string(out) != "4142$" {
		t.Errorf("hex Encode = %q", out)
	}
	out, _ = EncodingRaw.Encode([]byte("AB"))
	if string(out) != "AB" {
		t.Errorf("raw Encode = %q", out)
	}
	out, err := EncodingCompact.Encode([]byte("0A0B$"))
	if err != nil || !bytes.Equal(out, []byte{2, 0x0A, 0x0B}) {
		t.Errorf("compact Encode = % X, %v", out, err)
	}
	if _, err := EncodingCompact.Encode([]byte("0A")); !errors.Is(err, ErrUnterminated) {
		t.Errorf("unterminated compact err = %v", err)
	}
}

func TestHostDrainerKeepsOrder(t *testing.T) {
	var buf syncBuffer
	d := hostDrainer{w: &buf, log: zerolog.Nop()}
	d.Start(slices.Values([][]byte{[]byte("a"), []byte("b")}))
	d.Start(slices.Values([][]byte{[]byte("c")}))
	d.Wait()
	if buf.String() != "abc" {
		t.Errorf("drained %q, want abc", buf.String())
	}
	d.Wait()
}
