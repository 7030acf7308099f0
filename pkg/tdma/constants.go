// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tdma implements the TDMA packet-exchange engine shared by the
// coordinator ("master") and peripheral ("slave") roles of a half-duplex radio
// link.
//
// The coordinator walks the peripherals' slots, collects each burst into a
// double-buffered packet store, requests missing packets within the same slot
// and drains the reassembled burst to its host link. Peripherals buffer host
// data, transmit it only in their own slot and answer retransmission requests.
// A three-step SYNC countdown lets peripherals align a local output edge.
package tdma

import "time"

// Packet size limits
const (
	MaxPacketSize   = 240 // radio MTU
	HeaderFields    = 3   // origin, sequence, total
	DefaultCapacity = 20  // packets per store level
	MaxCapacity     = 40  // keeps indices inside the digit range
)

// Digit field encoding
const (
	CharOffset    = '0'
	MaxPrintable  = '~'
	MaxDigitValue = MaxPrintable - CharOffset
)

// Wire tags
const (
	SlotTag       = "slot"
	RetransmitTag = "RE"
	SyncTag       = "SYNC"
)

// Host link framing
const (
	HostTerminator  = '$'
	SyncTail        = "SYNC$"
	hostWindowSize  = 50
	hostQueueLength = 4096
)

// Defaults for the link timing. The sync interval matches 200 ticks of a
// 40 MHz / 256 timer.
const (
	DefaultSlaveCount       = 4
	DefaultReceiveTimeout   = 20 * time.Millisecond
	DefaultPollInterval     = 200 * time.Microsecond
	DefaultAnnounceRetries  = 3
	DefaultRetransmitRounds = 3
	DefaultStaleAfter       = 3
	DefaultIdleInitial      = 2 * time.Second
	DefaultIdleMax          = 30 * time.Second
	DefaultSyncInterval     = 1280 * time.Microsecond
	DefaultResetAfter       = 5 * time.Second
	DefaultBaseFrequency    = 433920000
)
