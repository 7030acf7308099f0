// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gpiopin drives the peripheral sync output on a Linux GPIO line.
package gpiopin

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Pin adapts a periph output pin to the engine's sync pin
type Pin struct {
	out gpio.PinOut
}

// New wraps an already resolved pin
func New(out gpio.PinOut) *Pin {
	return &Pin{out: out}
}

// Open initializes periph.io and resolves name ("GPIO17", "17", "P1_11")
func Open(name string) (*Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}
	name = strings.TrimSpace(name)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("failed to open sync pin %s", name)
	}
	return New(p), nil
}

// Set drives the line
func (p *Pin) Set(high bool) error {
	if high {
		return p.out.Out(gpio.High)
	}
	return p.out.Out(gpio.Low)
}

// Name returns the pin name
func (p *Pin) Name() string {
	return p.out.Name()
}
