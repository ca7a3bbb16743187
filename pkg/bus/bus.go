// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics

// Package bus drives the half-duplex subordinate bus: a shared downlink on
// which every servo subordinate hears request and command frames, and a
// multiplexed uplink from which exactly one subordinate's response can be
// read at a time.
package bus

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spoolworks/arachne/pkg/cable"
	"github.com/spoolworks/arachne/pkg/wire"
)

// Frame tags on the downlink.
const (
	RequestTag = 'f' // angle feedback request, followed by the decimal channel index
	CommandTag = 'c' // actuation broadcast, followed by per-channel crossing+angle
)

// UplinkMux is the receive side of the bus. Select routes one channel's
// response line to the shared reader; selecting a channel implicitly
// deselects the previous one, so at most one subordinate is listened to at
// any instant. Read must return (0, nil) when no data arrives within the
// transport's read timeout.
type UplinkMux interface {
	Select(channel int) error
	io.Reader
}

// Config bounds the response poll. Each attempt is wall-clock bounded by
// the transport's read timeout, so the worst-case wait for a dead
// subordinate is Retries times that timeout.
type Config struct {
	Retries int
}

// DefaultRetries is the poll budget used when the config leaves it unset.
const DefaultRetries = 3

// Bus multiplexes request/response and broadcast traffic to N subordinates.
type Bus struct {
	down    io.Writer
	up      UplinkMux
	retries int
}

// New builds a bus over the shared downlink writer and the uplink mux.
func New(down io.Writer, up UplinkMux, cfg Config) *Bus {
	retries := cfg.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	return &Bus{down: down, up: up, retries: retries}
}

// RequestAngle asks subordinate ch for its current spool angle, in tenths
// of a degree. It returns cable.AngleUnavailable when the retry budget is
// exhausted without any response byte; transport faults and misframed
// responses are returned as errors.
func (b *Bus) RequestAngle(ch int) (int, error) {
	if err := b.up.Select(ch); err != nil {
		return 0, fmt.Errorf("bus: select channel %d: %w", ch, err)
	}
	if _, err := fmt.Fprintf(b.down, "%c%d\n", RequestTag, ch); err != nil {
		return 0, fmt.Errorf("bus: request channel %d: %w", ch, err)
	}

	// The response is a fixed-width angle field with no terminator, so read
	// exactly that many bytes. Attempts that time out count against the
	// budget; once the first byte lands the rest of the field is expected
	// within the remaining attempts.
	var field [wire.AngleWidth]byte
	got := 0
	for attempt := 0; attempt < b.retries && got < len(field); attempt++ {
		n, err := b.up.Read(field[got:])
		if err != nil {
			return 0, fmt.Errorf("bus: read channel %d: %w", ch, err)
		}
		got += n
	}
	if got == 0 {
		return cable.AngleUnavailable, nil
	}

	angle, err := wire.NewCursor(field[:got]).Uint(wire.AngleWidth)
	if err != nil {
		b.drain()
		return 0, fmt.Errorf("bus: channel %d response: %w", ch, err)
	}

	// Discard anything the subordinate buffered past its field so the next
	// request starts on a frame boundary.
	b.drain()
	return int(angle), nil
}

// BroadcastCommand emits one actuation frame carrying every channel's
// crossing decision and target angle, in channel order. Subordinates find
// their slot by position; there are no per-channel tags or separators.
func (b *Bus) BroadcastCommand(moves []cable.Move) error {
	frame := make([]byte, 0, 2+len(moves)*4)
	frame = append(frame, CommandTag)
	for ch, m := range moves {
		// Subordinates locate their slot by counting bytes, so one oversized
		// field would desynchronize every channel after it. Refuse the frame
		// rather than corrupt the bus.
		if m.Angle < 0 || m.Angle >= cable.FullTurn {
			return fmt.Errorf("bus: broadcast: channel %d angle %d out of range", ch, m.Angle)
		}
		frame = append(frame, m.Crossing.Code())
		// The angle field is unpadded here, unlike every other hex field on
		// the wire. The servo firmware consumes it in this form; align any
		// width change with a firmware rollout on both sides.
		frame = strconv.AppendUint(frame, uint64(m.Angle), 16)
	}
	frame = append(frame, '\n')
	if _, err := b.down.Write(frame); err != nil {
		return fmt.Errorf("bus: broadcast: %w", err)
	}
	return nil
}

func (b *Bus) drain() {
	var scratch [32]byte
	for {
		n, err := b.up.Read(scratch[:])
		if err != nil || n == 0 {
			return
		}
	}
}

// SleepMux adapts a mux whose Read blocks indefinitely into one honoring a
// fixed attempt timeout by polling a readiness probe. Transports that
// support read deadlines natively (serial ports do) should be used
// directly instead.
type SleepMux struct {
	Mux     UplinkMux
	Probe   func() (int, error) // bytes available on the active line
	Timeout time.Duration
}

// Select forwards to the wrapped mux.
func (s *SleepMux) Select(channel int) error {
	return s.Mux.Select(channel)
}

// Read waits up to Timeout for the probe to report data, then reads.
func (s *SleepMux) Read(p []byte) (int, error) {
	deadline := time.Now().Add(s.Timeout)
	for {
		n, err := s.Probe()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return s.Mux.Read(p)
		}
		if !time.Now().Before(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}
