// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rylr drives UART-attached AT-command LoRa modules of the RYLR896
// family as a half-duplex packet radio.
package rylr

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// MaxPayload is the module's AT+SEND limit
const MaxPayload = 240

// Result codes reported as +ERR=<code>
const (
	ErrNoEnter   = 1  // missing "\r\n" after command
	ErrNoAT      = 2  // head of command is not AT
	ErrNoEquals  = 3  // missing "=" in AT command
	ErrUnknown   = 4  // unknown command
	ErrTxTimeout = 10 // transmit over time
	ErrRxTimeout = 11 // receive over time
	ErrCRC       = 12 // CRC error
	ErrTxOverrun = 13 // transmit over 240 bytes
	ErrUnknownRF = 15 // unknown error
)

var (
	ErrCommandTimeout = errors.New("rylr: no response to command")
	ErrNothingQueued  = errors.New("rylr: nothing received")
	ErrClosed         = errors.New("rylr: port closed")
	ErrPayloadTooLong = errors.New("rylr: payload exceeds 240 bytes")
)

// ModuleError is a +ERR response
type ModuleError struct {
	Command string
	Code    int
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("rylr: %s failed: %s (+ERR=%d)", e.Command, codeText(e.Code), e.Code)
}

func codeText(code int) string {
	switch code {
	case ErrNoEnter:
		return "missing line ending"
	case ErrNoAT:
		return "missing AT prefix"
	case ErrNoEquals:
		return "missing '='"
	case ErrUnknown:
		return "unknown command"
	case ErrTxTimeout:
		return "transmit timed out"
	case ErrRxTimeout:
		return "receive timed out"
	case ErrCRC:
		return "CRC error"
	case ErrTxOverrun:
		return "transmit overrun"
	}
	return "unknown error"
}

// Frame is one +RCV report
type Frame struct {
	Address uint16
	Data    []byte
	RSSI    int8
	SNR     int8
}

// Option configures a Module
type Option func(*Module)

// WithAddress sets the destination address of AT+SEND (0 broadcasts)
func WithAddress(addr uint16) Option {
	return func(m *Module) { m.dest = addr }
}

// WithCommandTimeout bounds the wait for a command response
func WithCommandTimeout(d time.Duration) Option {
	return func(m *Module) { m.timeout = d }
}

// WithLogger sets the module logger
func WithLogger(log zerolog.Logger) Option {
	return func(m *Module) { m.log = log }
}

const (
	defaultCommandTimeout = 2 * time.Second
	rxQueueCapacity       = 64
)

// Module is an open RYLR module
type Module struct {
	port    io.ReadWriteCloser
	dest    uint16
	timeout time.Duration
	log     zerolog.Logger

	writeMu   sync.Mutex
	responses chan string

	mu     sync.Mutex
	rx     []Frame
	closed bool
	done   chan struct{}
}

// Open opens the serial port name at baud and attaches a module to it
func Open(name string, baud int, opts ...Option) (*Module, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open radio port %s: %w", name, err)
	}
	return New(port, opts...), nil
}

// New attaches a module to an already open port and starts reading it
func New(port io.ReadWriteCloser, opts ...Option) *Module {
	m := &Module{
		port:      port,
		timeout:   defaultCommandTimeout,
		log:       zerolog.Nop(),
		responses: make(chan string, 8),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.read()
	return m
}

func (m *Module) read() {
	defer close(m.done)
	r := bufio.NewReader(m.port)
	for {
		line, err := readLine(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !m.isClosed() {
				m.log.Error().Err(err).Msg("radio port read failed")
			}
			return
		}
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("+RCV=")) {
			frame, err := m.readFrame(r, line)
			if err != nil {
				m.log.Warn().Err(err).Msg("malformed +RCV")
				continue
			}
			m.queue(frame)
			continue
		}
		select {
		case m.responses <- string(line):
		default:
			m.log.Debug().Str("line", string(line)).Msg("unsolicited response dropped")
		}
	}
}

// readFrame parses "+RCV=<addr>,<len>,<data>,<rssi>,<snr>". The data field
// may contain line breaks, so further lines are consumed until len bytes are
// present.
func (m *Module) readFrame(r *bufio.Reader, line []byte) (Frame, error) {
	body := line[len("+RCV="):]
	first := bytes.IndexByte(body, ',')
	if first < 0 {
		return Frame{}, fmt.Errorf("missing address: %q", line)
	}
	second := bytes.IndexByte(body[first+1:], ',')
	if second < 0 {
		return Frame{}, fmt.Errorf("missing length: %q", line)
	}
	second += first + 1

	addr, err := strconv.ParseUint(string(body[:first]), 10, 16)
	if err != nil {
		return Frame{}, fmt.Errorf("bad address: %w", err)
	}
	n, err := strconv.Atoi(string(body[first+1 : second]))
	if err != nil || n < 0 || n > MaxPayload {
		return Frame{}, fmt.Errorf("bad length in %q", line)
	}

	rest := append([]byte(nil), body[second+1:]...)
	for len(rest) < n+len(",0,0") {
		more, err := readLine(r)
		if err != nil {
			return Frame{}, err
		}
		rest = append(rest, "\r\n"...)
		rest = append(rest, more...)
	}

	data := rest[:n]
	tail := strings.Split(strings.TrimPrefix(string(rest[n:]), ","), ",")
	if len(tail) != 2 {
		return Frame{}, fmt.Errorf("bad signal fields in %q", line)
	}
	rssi, err := strconv.ParseInt(tail[0], 10, 8)
	if err != nil {
		return Frame{}, fmt.Errorf("bad rssi: %w", err)
	}
	snr, err := strconv.ParseInt(tail[1], 10, 8)
	if err != nil {
		return Frame{}, fmt.Errorf("bad snr: %w", err)
	}
	return Frame{Address: uint16(addr), Data: data, RSSI: int8(rssi), SNR: int8(snr)}, nil
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (m *Module) queue(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rx) == rxQueueCapacity {
		m.rx = m.rx[1:]
		m.log.Warn().Msg("receive queue overflow, oldest frame dropped")
	}
	m.rx = append(m.rx, f)
}

func (m *Module) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Command writes one AT command and waits for its response line. "+OK" and
// "+READY" succeed, "+ERR=<n>" becomes a ModuleError and any other line is
// returned as the value.
func (m *Module) Command(cmd string) (string, error) {
	return m.command(cmd, []byte(cmd+"\r\n"))
}

func (m *Module) command(name string, raw []byte) (string, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	// Forget responses nobody waited for.
	for len(m.responses) > 0 {
		<-m.responses
	}
	if _, err := m.port.Write(raw); err != nil {
		return "", fmt.Errorf("rylr: write %s: %w", name, err)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	for {
		select {
		case <-m.done:
			return "", ErrClosed
		case <-timer.C:
			return "", fmt.Errorf("%w: %s", ErrCommandTimeout, name)
		case resp := <-m.responses:
			switch {
			case resp == "+OK", resp == "+READY":
				return resp, nil
			case resp == "+RESET":
				// Module announces the reset, then +READY.
				continue
			case strings.HasPrefix(resp, "+ERR="):
				code, _ := strconv.Atoi(strings.TrimPrefix(resp, "+ERR="))
				return "", &ModuleError{Command: name, Code: code}
			}
			return resp, nil
		}
	}
}

// Send transmits pkt with AT+SEND and waits for +OK
func (m *Module) Send(pkt []byte) error {
	if len(pkt) > MaxPayload {
		return ErrPayloadTooLong
	}
	raw := fmt.Appendf(nil, "AT+SEND=%d,%d,", m.dest, len(pkt))
	raw = append(raw, pkt...)
	raw = append(raw, "\r\n"...)
	_, err := m.command("AT+SEND", raw)
	return err
}

// BeginReceive is a no-op: the module reports every packet it hears
func (m *Module) BeginReceive() error {
	if m.isClosed() {
		return ErrClosed
	}
	return nil
}

// PollReceived reports whether a +RCV frame is queued
func (m *Module) PollReceived() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rx) > 0
}

// ReadReceived pops the oldest frame
func (m *Module) ReadReceived(max int) ([]byte, int8, error) {
	f, err := m.ReadFrame()
	if err != nil {
		return nil, 0, err
	}
	if len(f.Data) > max {
		f.Data = f.Data[:max]
	}
	return f.Data, f.RSSI, nil
}

// ReadFrame pops the oldest frame with its address and SNR
func (m *Module) ReadFrame() (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rx) == 0 {
		return Frame{}, ErrNothingQueued
	}
	f := m.rx[0]
	m.rx = m.rx[1:]
	return f, nil
}

// ResetHardware issues AT+RESET and waits for +READY
func (m *Module) ResetHardware() error {
	m.mu.Lock()
	m.rx = nil
	m.mu.Unlock()
	_, err := m.Command("AT+RESET")
	return err
}

// SetFrequency sets the centre frequency with AT+BAND
func (m *Module) SetFrequency(hz uint32) error {
	_, err := m.Command("AT+BAND=" + strconv.FormatUint(uint64(hz), 10))
	return err
}

// SetAddress sets the module's own address with AT+ADDRESS
func (m *Module) SetAddress(addr uint16) error {
	_, err := m.Command("AT+ADDRESS=" + strconv.FormatUint(uint64(addr), 10))
	return err
}

// SetNetworkID sets AT+NETWORKID
func (m *Module) SetNetworkID(id uint8) error {
	_, err := m.Command("AT+NETWORKID=" + strconv.FormatUint(uint64(id), 10))
	return err
}

// Close closes the port and stops the reader
func (m *Module) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	err := m.port.Close()
	<-m.done
	return err
}

// Info is what a module reports about itself
type Info struct {
	Version   string
	Address   uint16
	NetworkID uint8
	Band      uint32
}

// Probe checks that a module answers AT and reads its identity
func (m *Module) Probe() (Info, error) {
	if _, err := m.Command("AT"); err != nil {
		return Info{}, err
	}
	var info Info
	ver, err := m.query("VER")
	if err != nil {
		return Info{}, err
	}
	info.Version = ver

	addr, err := m.queryUint("ADDRESS", 16)
	if err != nil {
		return Info{}, err
	}
	info.Address = uint16(addr)

	netID, err := m.queryUint("NETWORKID", 8)
	if err != nil {
		return Info{}, err
	}
	info.NetworkID = uint8(netID)

	band, err := m.queryUint("BAND", 32)
	if err != nil {
		return Info{}, err
	}
	info.Band = uint32(band)
	return info, nil
}

// query sends AT+<name>? and returns the value of the "+<name>=" reply
func (m *Module) query(name string) (string, error) {
	resp, err := m.Command("AT+" + name + "?")
	if err != nil {
		return "", err
	}
	value, ok := strings.CutPrefix(resp, "+"+name+"=")
	if !ok {
		return "", fmt.Errorf("rylr: unexpected reply to AT+%s?: %q", name, resp)
	}
	return value, nil
}

func (m *Module) queryUint(name string, bits int) (uint64, error) {
	value, err := m.query(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(value, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("rylr: bad %s value %q: %w", name, value, err)
	}
	return n, nil
}
