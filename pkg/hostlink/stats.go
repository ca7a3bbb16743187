// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics

package hostlink

import (
	"fmt"
	"time"
)

// Statistics tracks host line and bus traffic counters for a session. The
// host protocol has no fault channel, so these counters are the only place
// transport and framing trouble becomes visible.
type Statistics struct {
	StartTime time.Time `cbor:"1,keyasint"`

	// Host line counters
	Lines         uint64 `cbor:"2,keyasint"`
	UnknownLines  uint64 `cbor:"3,keyasint"`
	GatedLines    uint64 `cbor:"4,keyasint"`
	FramingErrors uint64 `cbor:"5,keyasint"`

	// Per-command counters
	Acks        uint64 `cbor:"6,keyasint"`
	Setups      uint64 `cbor:"7,keyasint"`
	Starts      uint64 `cbor:"8,keyasint"`
	Ends        uint64 `cbor:"9,keyasint"`
	Holds       uint64 `cbor:"10,keyasint"`
	InitialCmds uint64 `cbor:"11,keyasint"`
	LengthCmds  uint64 `cbor:"12,keyasint"`
	Resets      uint64 `cbor:"13,keyasint"`

	// Bus counters
	BusTimeouts   uint64 `cbor:"14,keyasint"`
	BusFaults     uint64 `cbor:"15,keyasint"`
	Broadcasts    uint64 `cbor:"16,keyasint"`
	FeedbackLines uint64 `cbor:"17,keyasint"`

	// Upstream counters
	HostWriteErrors uint64 `cbor:"18,keyasint"`
}

// NewStatistics starts a fresh counter set.
func NewStatistics() Statistics {
	return Statistics{StartTime: time.Now()}
}

// LineRate returns handled host lines per second since start.
func (s *Statistics) LineRate() float64 {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Lines) / elapsed
}

// Reset zeroes every counter and restarts the clock.
func (s *Statistics) Reset() {
	*s = NewStatistics()
}

// String returns a formatted summary for the operator console.
func (s *Statistics) String() string {
	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Session statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Host lines:      %8d (%.1f/sec)\n", s.Lines, s.LineRate())
	result += fmt.Sprintf("Length cycles:   %8d\n", s.LengthCmds)
	result += fmt.Sprintf("Broadcasts:      %8d\n", s.Broadcasts)
	result += fmt.Sprintf("Feedback lines:  %8d\n", s.FeedbackLines)

	if s.UnknownLines > 0 {
		result += fmt.Sprintf("Unknown lines:   %8d\n", s.UnknownLines)
	}
	if s.GatedLines > 0 {
		result += fmt.Sprintf("Gated lines:     %8d\n", s.GatedLines)
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing errors:  %8d\n", s.FramingErrors)
	}
	if s.BusTimeouts > 0 {
		result += fmt.Sprintf("Bus timeouts:    %8d\n", s.BusTimeouts)
	}
	if s.BusFaults > 0 {
		result += fmt.Sprintf("Bus faults:      %8d\n", s.BusFaults)
	}
	if s.HostWriteErrors > 0 {
		result += fmt.Sprintf("Host write errs: %8d\n", s.HostWriteErrors)
	}

	result += fmt.Sprintf("Calibration:     %d setup, %d initial, %d reset\n",
		s.Setups, s.InitialCmds, s.Resets)
	result += "========================================\n"

	return result
}
