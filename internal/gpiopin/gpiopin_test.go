// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gpiopin

import (
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestSetDrivesLevel(t *testing.T) {
	fake := &gpiotest.Pin{N: "GPIO17", L: gpio.Low}
	p := New(fake)

	if err := p.Set(true); err != nil {
		t.Fatalf("Set(true): %v", err)
	}
	if fake.Read() != gpio.High {
		t.Errorf("level = %v, want High", fake.Read())
	}

	if err := p.Set(false); err != nil {
		t.Fatalf("Set(false): %v", err)
	}
	if fake.Read() != gpio.Low {
		t.Errorf("level = %v, want Low", fake.Read())
	}

	if p.Name() != "GPIO17" {
		t.Errorf("Name() = %q", p.Name())
	}
}
