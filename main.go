// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Ember - Secure Firmware Update Tool
//
// A CLI tool for sealing firmware images into authenticated update bundles,
// delivering them to the bootloader and emulating the bootloader itself.

package main

import (
	"os"

	"github.com/Thermoquad/ember/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
