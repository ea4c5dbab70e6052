// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// pmscope - Projecta PM RS-485 Telemetry Analyzer
//
// A CLI tool for capturing, decoding and charting the undocumented telemetry
// bus of a Projecta power-management controller.

package main

import (
	"os"

	"github.com/danricho/projecta-RS485-reverse-engineering/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
