// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout         = errors.New("tdma: receive timed out")
	ErrShortPacket     = errors.New("tdma: packet shorter than header")
	ErrFieldRange      = errors.New("tdma: field value outside encodable range")
	ErrBurstTooLarge   = errors.New("tdma: burst exceeds store capacity")
	ErrIndexOutOfRange = errors.New("tdma: sequence index out of range")
	ErrPacketTooLarge  = errors.New("tdma: packet exceeds MTU")
	ErrStoreFull       = errors.New("tdma: packet memory is full")
	ErrInvalidHex      = errors.New("tdma: invalid hex digit")
	ErrMalformedWord   = errors.New("tdma: word is not canonical hex")
	ErrUnterminated    = errors.New("tdma: word list is not terminated")
	ErrTruncated       = errors.New("tdma: compact stream truncated")
)

// FramingKind classifies framing errors
type FramingKind int

const (
	FramingMalformedHeader FramingKind = iota
	FramingIndexRange
	FramingOriginMismatch
	FramingTotalMismatch
	FramingBurstTooLarge
)

// String returns a short name for the framing kind
func (k FramingKind) String() string {
	switch k {
	case FramingMalformedHeader:
		return "malformed header"
	case FramingIndexRange:
		return "index out of range"
	case FramingOriginMismatch:
		return "origin mismatch"
	case FramingTotalMismatch:
		return "total mismatch"
	case FramingBurstTooLarge:
		return "burst too large"
	}
	return fmt.Sprintf("framing(%d)", int(k))
}

// FramingError reports a malformed or inconsistent packet within a burst.
type FramingError struct {
	Kind  FramingKind
	Slave int
	Seq   int
	Err   error
}

// Error implements the error interface
func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing error (%s) slave=%d seq=%d: %v", e.Kind, e.Slave, e.Seq, e.Err)
	}
	return fmt.Sprintf("framing error (%s) slave=%d seq=%d", e.Kind, e.Slave, e.Seq)
}

// Unwrap returns the underlying sentinel error
func (e *FramingError) Unwrap() error {
	return e.Err
}
