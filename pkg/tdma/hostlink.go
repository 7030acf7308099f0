// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

//////////////////////////////////////////////////////////////
// Coordinator input: sync request detection
//////////////////////////////////////////////////////////////

// SyncDetector watches the coordinator's host input for the SYNC$ tail
type SyncDetector struct {
	window []byte
}

// Feed adds one byte and reports whether the window now ends in SYNC$.
// The window is cleared after a match so one tail raises one request.
func (d *SyncDetector) Feed(b byte) bool {
	if len(d.window) == hostWindowSize {
		copy(d.window, d.window[1:])
		d.window = d.window[:hostWindowSize-1]
	}
	d.window = append(d.window, b)
	if bytes.HasSuffix(d.window, []byte(SyncTail)) {
		d.window = d.window[:0]
		return true
	}
	return false
}

// Scan feeds p and calls onSync for every tail found
func (d *SyncDetector) Scan(p []byte, onSync func()) {
	for _, b := range p {
		if d.Feed(b) && onSync != nil {
			onSync()
		}
	}
}

//////////////////////////////////////////////////////////////
// Peripheral input: host message framing
//////////////////////////////////////////////////////////////

// HostFramer splits the peripheral's host stream into store packets. Each
// terminated message (terminator included) becomes one packet; a message that
// outgrows the payload budget is cut into budget-sized chunks.
type HostFramer struct {
	store   *PacketStore
	budget  int
	log     zerolog.Logger
	buf     []byte
	dropped int
	onDrop  func()
}

// NewHostFramer creates a framer writing into store. budget is the payload
// room left after the radio header.
func NewHostFramer(store *PacketStore, budget int, log zerolog.Logger) *HostFramer {
	if budget < 1 || budget > MaxPacketSize {
		budget = MaxPacketSize - HeaderFields
	}
	return &HostFramer{store: store, budget: budget, log: log, buf: make([]byte, 0, budget)}
}

// OnDrop registers a callback run whenever a message is dropped
func (f *HostFramer) OnDrop(fn func()) {
	f.onDrop = fn
}

// Write implements io.Writer. It never fails: a full store drops the message.
func (f *HostFramer) Write(p []byte) (int, error) {
	for _, b := range p {
		f.buf = append(f.buf, b)
		if b == HostTerminator || len(f.buf) == f.budget {
			f.emit()
		}
	}
	return len(p), nil
}

// Pending returns the number of buffered bytes not yet framed
func (f *HostFramer) Pending() int {
	return len(f.buf)
}

// Dropped returns the number of messages lost to a full store
func (f *HostFramer) Dropped() int {
	return f.dropped
}

func (f *HostFramer) emit() {
	if _, err := f.store.Append(f.buf); err != nil {
		f.dropped++
		f.log.Warn().Err(err).Int("len", len(f.buf)).Msg("packet memory is full")
		if f.onDrop != nil {
			f.onDrop()
		}
	}
	f.buf = f.buf[:0]
}

//////////////////////////////////////////////////////////////
// Host byte pump
//////////////////////////////////////////////////////////////

const hostChunkSize = 64

// HostPump reads a host stream on its own goroutine, the way a UART receive
// interrupt is always armed, and hands the bytes to a sink only when Poll is
// called from the main loop.
type HostPump struct {
	ch   chan []byte
	sink io.Writer
	done chan struct{}
	stop chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewHostPump starts reading r
func NewHostPump(r io.Reader, sink io.Writer) *HostPump {
	p := &HostPump{
		ch:   make(chan []byte, hostQueueLength/hostChunkSize),
		sink: sink,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go p.read(r)
	return p
}

func (p *HostPump) read(r io.Reader) {
	defer close(p.done)
	buf := make([]byte, hostChunkSize)
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case p.ch <- chunk:
			case <-p.stop:
				return
			}
		}
		if err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return
		}
	}
}

// Poll moves every pending chunk into the sink without blocking and returns
// the number of bytes moved.
func (p *HostPump) Poll() int {
	moved := 0
	for {
		select {
		case chunk := <-p.ch:
			if _, err := p.sink.Write(chunk); err != nil {
				return moved
			}
			moved += len(chunk)
		default:
			return moved
		}
	}
}

// Close stops the reader once its current Read returns. Bytes not yet
// polled are discarded. A Read blocked on the stream is only released by
// closing the stream itself.
func (p *HostPump) Close() {
	p.once.Do(func() { close(p.stop) })
}

// Done is closed when the reader stops
func (p *HostPump) Done() <-chan struct{} {
	return p.done
}

// Err returns the error that stopped the reader, nil while it runs or after a
// clean EOF.
func (p *HostPump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if errors.Is(p.err, io.EOF) {
		return nil
	}
	return p.err
}

//////////////////////////////////////////////////////////////
// Coordinator output: host encodings and asynchronous drain
//////////////////////////////////////////////////////////////

// HostEncoding selects how drained payloads are written to the host
type HostEncoding int

const (
	EncodingRaw HostEncoding = iota
	EncodingHex
	EncodingCompact
)

func (e HostEncoding) String() string {
	switch e {
	case EncodingHex:
		return "hex"
	case EncodingCompact:
		return "compact"
	}
	return "raw"
}

// ParseHostEncoding maps a configuration name to an encoding
func ParseHostEncoding(name string) (HostEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "raw":
		return EncodingRaw, nil
	case "hex":
		return EncodingHex, nil
	case "compact":
		return EncodingCompact, nil
	}
	return EncodingRaw, fmt.Errorf("unknown host encoding %q (use raw, hex or compact)", name)
}

// Encode converts one drained payload. Compact expects a terminated hex word
// list; anything else returns an error and the caller decides the fallback.
func (e HostEncoding) Encode(payload []byte) ([]byte, error) {
	switch e {
	case EncodingHex:
		return append(HexEncode(payload), HostTerminator), nil
	case EncodingCompact:
		return CompactEncode(payload)
	}
	return payload, nil
}

// hostDrainer writes flushed bursts on a goroutine, the bulk transfer of the
// host link. Only one drain runs at a time.
type hostDrainer struct {
	w    io.Writer
	log  zerolog.Logger
	done chan struct{}
}

// Start waits for the previous drain, then writes chunks in order. The
// sequence is consumed on the drain goroutine.
func (d *hostDrainer) Start(chunks iter.Seq[[]byte]) {
	d.Wait()
	done := make(chan struct{})
	d.done = done
	go func() {
		defer close(done)
		for c := range chunks {
			if _, err := d.w.Write(c); err != nil {
				d.log.Error().Err(err).Msg("host write failed")
				return
			}
		}
	}()
}

// Wait blocks until the running drain, if any, has finished
func (d *hostDrainer) Wait() {
	if d.done != nil {
		<-d.done
		d.done = nil
	}
}
