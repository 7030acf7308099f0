// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// tdmalink - TDMA packet radio link
//
// A coordinator and its peripherals share one radio channel in time slots;
// every peripheral's host messages reach the coordinator's host in order.

package main

import (
	"os"

	"github.com/Thermoquad/tdmalink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
