// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package airsim is an in-memory radio channel for host-side testing and
// simulation. Every node attached to a Medium hears every other node tuned to
// the same frequency; a node never hears itself.
package airsim

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrClosed is returned by a node after Close
var ErrClosed = errors.New("airsim: node closed")

// ErrNothingReceived is returned by ReadReceived with an empty inbox
var ErrNothingReceived = errors.New("airsim: nothing received")

const (
	inboxCapacity    = 64
	defaultFrequency = 433920000
	defaultRSSI      = -40
)

// DropFunc decides whether a packet from one node to another is lost
type DropFunc func(from, to string, pkt []byte) bool

// Option configures a Medium
type Option func(*Medium)

// WithLoss drops each delivery with probability p
func WithLoss(p float64) Option {
	return func(m *Medium) { m.loss = p }
}

// WithSeed seeds the loss generator
func WithSeed(seed int64) Option {
	return func(m *Medium) { m.rng = rand.New(rand.NewSource(seed)) }
}

// WithDropFunc installs a deterministic loss rule, checked before WithLoss
func WithDropFunc(fn DropFunc) Option {
	return func(m *Medium) { m.drop = fn }
}

// WithAirtime makes Send block for perByte per transmitted byte
func WithAirtime(perByte time.Duration) Option {
	return func(m *Medium) { m.airtime = perByte }
}

// Medium is the shared channel
type Medium struct {
	mu      sync.Mutex
	nodes   []*Node
	loss    float64
	rng     *rand.Rand
	drop    DropFunc
	airtime time.Duration
}

// NewMedium creates an empty channel
func NewMedium(opts ...Option) *Medium {
	m := &Medium{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach adds a node tuned to the default frequency
func (m *Medium) Attach(name string) *Node {
	n := &Node{medium: m, name: name, freq: defaultFrequency, rssi: defaultRSSI}
	m.mu.Lock()
	m.nodes = append(m.nodes, n)
	m.mu.Unlock()
	return n
}

// SetLoss changes the random loss probability
func (m *Medium) SetLoss(p float64) {
	m.mu.Lock()
	m.loss = p
	m.mu.Unlock()
}

func (m *Medium) broadcast(from *Node, pkt []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	freq := from.frequency()
	for _, to := range m.nodes {
		if to == from || to.frequency() != freq {
			continue
		}
		if m.drop != nil && m.drop(from.name, to.name, pkt) {
			to.countDropped()
			continue
		}
		if m.loss > 0 && m.rng.Float64() < m.loss {
			to.countDropped()
			continue
		}
		to.deliver(pkt)
	}
}

// Stats are per-node counters
type Stats struct {
	Sent     uint64
	Received uint64
	Dropped  uint64
	Overflow uint64
	Resets   uint64
}

// Node is one radio on the medium. It satisfies the engine's radio contract.
type Node struct {
	medium *Medium
	name   string

	mu     sync.Mutex
	inbox  [][]byte
	freq   uint32
	rssi   int8
	closed bool
	stats  Stats
}

// Name returns the node name
func (n *Node) Name() string { return n.name }

// SetRSSI sets the RSSI reported for packets this node receives
func (n *Node) SetRSSI(rssi int8) {
	n.mu.Lock()
	n.rssi = rssi
	n.mu.Unlock()
}

// Stats returns a copy of the node counters
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Frequency returns the tuned frequency
func (n *Node) Frequency() uint32 { return n.frequency() }

func (n *Node) frequency() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.freq
}

func (n *Node) deliver(pkt []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if len(n.inbox) == inboxCapacity {
		n.stats.Overflow++
		return
	}
	n.inbox = append(n.inbox, append([]byte(nil), pkt...))
}

func (n *Node) countDropped() {
	n.mu.Lock()
	n.stats.Dropped++
	n.mu.Unlock()
}

// Send puts pkt on the medium
func (n *Node) Send(pkt []byte) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	n.stats.Sent++
	n.mu.Unlock()

	if n.medium.airtime > 0 {
		time.Sleep(time.Duration(len(pkt)) * n.medium.airtime)
	}
	n.medium.broadcast(n, pkt)
	return nil
}

// BeginReceive is a no-op: nodes always listen
func (n *Node) BeginReceive() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	return nil
}

// PollReceived reports whether a packet is waiting
func (n *Node) PollReceived() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inbox) > 0
}

// ReadReceived pops the oldest packet, truncated to max bytes
func (n *Node) ReadReceived(max int) ([]byte, int8, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.inbox) == 0 {
		return nil, 0, ErrNothingReceived
	}
	pkt := n.inbox[0]
	n.inbox = n.inbox[1:]
	if len(pkt) > max {
		pkt = pkt[:max]
	}
	n.stats.Received++
	return pkt, n.rssi, nil
}

// ResetHardware drops anything queued
func (n *Node) ResetHardware() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inbox = nil
	n.stats.Resets++
	return nil
}

// SetFrequency retunes the node
func (n *Node) SetFrequency(hz uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.freq = hz
	return nil
}

// Close detaches the node; later sends fail
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.inbox = nil
	return nil
}
