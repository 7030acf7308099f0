// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// BurstReport describes the outcome of one slot
type BurstReport struct {
	Slave         int           `cbor:"1,keyasint" json:"slave"`
	Expected      int           `cbor:"2,keyasint" json:"expected"`
	Received      int           `cbor:"3,keyasint" json:"received"`
	Recovered     int           `cbor:"4,keyasint" json:"recovered"`
	Lost          []int         `cbor:"5,keyasint,omitempty" json:"lost,omitempty"`
	Requests      int           `cbor:"6,keyasint" json:"requests"`
	Zero          bool          `cbor:"7,keyasint" json:"zero"`
	Aborted       bool          `cbor:"8,keyasint" json:"aborted"`
	Inactive      bool          `cbor:"9,keyasint" json:"inactive"`
	Skipped       bool          `cbor:"10,keyasint" json:"skipped"`
	FramingErrors int           `cbor:"11,keyasint" json:"framing_errors"`
	Mismatches    int           `cbor:"12,keyasint" json:"origin_mismatches"`
	RSSI          int8          `cbor:"13,keyasint" json:"rssi"`
	Duration      time.Duration `cbor:"14,keyasint" json:"duration"`
	Time          time.Time     `cbor:"15,keyasint" json:"time"`
	Synced        bool          `cbor:"16,keyasint" json:"synced"`
}

// Delivered returns the packets flushed to the host
func (r BurstReport) Delivered() int {
	return r.Expected - len(r.Lost)
}

// Complete reports whether every expected packet was delivered
func (r BurstReport) Complete() bool {
	return !r.Aborted && !r.Inactive && !r.Skipped && len(r.Lost) == 0
}

// MarshalReport encodes a report as a CBOR map with integer keys
func MarshalReport(r BurstReport) ([]byte, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode burst report: %w", err)
	}
	return data, nil
}

// UnmarshalReport decodes a CBOR burst report
func UnmarshalReport(data []byte) (BurstReport, error) {
	var r BurstReport
	if err := cbor.Unmarshal(data, &r); err != nil {
		return BurstReport{}, fmt.Errorf("failed to decode burst report: %w", err)
	}
	return r, nil
}

// Reporter receives one report per coordinator cycle. Report is called on the
// scheduler goroutine and must not block for long.
type Reporter interface {
	Report(BurstReport)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(BurstReport)

func (f ReporterFunc) Report(r BurstReport) { f(r) }

// MultiReporter fans a report out to several reporters
type MultiReporter []Reporter

func (m MultiReporter) Report(r BurstReport) {
	for _, rep := range m {
		if rep != nil {
			rep.Report(r)
		}
	}
}
