// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics
//
// Arachne - cable robot winch coordinator
//
// Tracks the spool angle and cable length of every winch channel and
// brokers the serial protocol between the host controller and the bus of
// per-channel servo subordinates.

package main

import (
	"os"

	"github.com/spoolworks/arachne/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
