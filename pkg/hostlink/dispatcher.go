// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics

// Package hostlink implements the coordinator's upstream protocol: newline
// terminated ASCII command lines from the host controller, classified by
// length and leading tag, driving the cable state store and the subordinate
// bus. The host never receives fault reports; lines that fail to classify
// or decode are dropped and surface only in the statistics.
package hostlink

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/spoolworks/arachne/pkg/cable"
	"github.com/spoolworks/arachne/pkg/wire"
)

// Command tags on the host line.
const (
	TagAck       = 'a'
	TagSetup     = 'k'
	TagStart     = 's'
	TagEnd       = 'e'
	TagHold      = 'h'
	TagInitial   = 'i'
	TagLengthCmd = 'l'
	TagReset     = 'r'
	TagFeedback  = 'f' // coordinator to host
)

// Command is the classified form of a host line.
type Command int

// Host command set. Single-character lines map to the session commands,
// longer lines to the tagged payload commands.
const (
	CmdUnknown Command = iota
	CmdAck
	CmdSetup
	CmdStart
	CmdEnd
	CmdHold
	CmdInitial
	CmdLengthCmd
	CmdReset
)

// classify maps a raw host line onto a Command. A 1-character line is a
// session command; anything longer is classified by its leading tag.
func classify(line []byte) Command {
	if len(line) == 0 {
		return CmdUnknown
	}
	if len(line) == 1 {
		switch line[0] {
		case TagAck:
			return CmdAck
		case TagSetup:
			return CmdSetup
		case TagStart:
			return CmdStart
		case TagEnd:
			return CmdEnd
		case TagHold:
			return CmdHold
		}
		return CmdUnknown
	}
	switch line[0] {
	case TagInitial:
		return CmdInitial
	case TagLengthCmd:
		return CmdLengthCmd
	case TagReset:
		return CmdReset
	}
	return CmdUnknown
}

// AngleBus is the downstream transport the dispatcher drives.
type AngleBus interface {
	RequestAngle(channel int) (int, error)
	BroadcastCommand(moves []cable.Move) error
}

// Session holds the two process-wide gates the host toggles. SystemOn gates
// the feedback/command cycle; MotorsEnabled gates actuation. Feedback still
// flows to the host while the motors are disabled.
type Session struct {
	SystemOn      bool
	MotorsEnabled bool
}

// Config sizes the dispatcher.
type Config struct {
	Channels int
	Params   cable.Params
}

// Snapshot is an immutable copy of the dispatcher state, safe to hand to
// another goroutine.
type Snapshot struct {
	At       time.Time       `cbor:"1,keyasint"`
	Session  Session         `cbor:"2,keyasint"`
	Channels []cable.Channel `cbor:"3,keyasint"`
	Stats    Statistics      `cbor:"4,keyasint"`
}

// Dispatcher owns the per-channel state and the session state machine. All
// mutation happens inside the single control-loop iteration that handles a
// host line, so no locking is involved.
type Dispatcher struct {
	channels []cable.Channel
	params   cable.Params
	session  Session
	bus      AngleBus
	host     io.Writer
	stats    Statistics
	listener func(Snapshot)
}

// New builds a dispatcher with zeroed channel state.
func New(cfg Config, b AngleBus, host io.Writer) *Dispatcher {
	return &Dispatcher{
		channels: make([]cable.Channel, cfg.Channels),
		params:   cfg.Params,
		bus:      b,
		host:     host,
		stats:    NewStatistics(),
	}
}

// SetListener installs a callback invoked with a fresh snapshot after every
// handled line. Used by the monitor UI.
func (d *Dispatcher) SetListener(fn func(Snapshot)) {
	d.listener = fn
}

// Session returns the current session gates.
func (d *Dispatcher) Session() Session {
	return d.session
}

// Stats returns a copy of the running counters.
func (d *Dispatcher) Stats() Statistics {
	return d.stats
}

// Snapshot captures the dispatcher state at this instant.
func (d *Dispatcher) Snapshot() Snapshot {
	channels := make([]cable.Channel, len(d.channels))
	copy(channels, d.channels)
	return Snapshot{
		At:       time.Now(),
		Session:  d.session,
		Channels: channels,
		Stats:    d.stats,
	}
}

// Run consumes host lines until the reader is exhausted. Each iteration
// handles at most one line; all bus traffic for that line completes before
// the next line is read.
func (d *Dispatcher) Run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		d.HandleLine(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("hostlink: read: %w", err)
	}
	return nil
}

// HandleLine executes one host command. Unknown, misframed, or gated lines
// are dropped without a reply.
func (d *Dispatcher) HandleLine(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	d.stats.Lines++

	switch classify(line) {
	case CmdAck:
		d.stats.Acks++
		d.session.SystemOn = false
		d.writeHost([]byte{TagAck, '\n'})
	case CmdSetup:
		d.stats.Setups++
		d.setup()
	case CmdStart:
		d.stats.Starts++
		d.session.SystemOn = true
	case CmdEnd:
		d.stats.Ends++
		d.session.SystemOn = false
		d.session.MotorsEnabled = false
	case CmdHold:
		// Reserved for the cable-tightening sequence.
		d.stats.Holds++
	case CmdInitial:
		d.setInitialLengths(line[1:])
	case CmdLengthCmd:
		d.lengthCommand(line[1:])
	case CmdReset:
		d.reset(line[1:])
	case CmdUnknown:
		d.stats.UnknownLines++
		return
	}

	if d.listener != nil {
		d.listener(d.Snapshot())
	}
}

// setup seeds every channel's angle memory from a fresh reading, so the
// first integration after calibration starts from the spool's real
// position instead of zero. Channels that fail to answer keep their
// previous memory.
func (d *Dispatcher) setup() {
	for i := range d.channels {
		angle, err := d.bus.RequestAngle(i)
		if err != nil {
			d.stats.BusFaults++
			continue
		}
		if angle == cable.AngleUnavailable {
			d.stats.BusTimeouts++
			continue
		}
		d.channels[i].LastAngle = angle
	}
}

// decodeFields parses the packed 4-digit length fields that follow a
// command tag, one per channel. A short or malformed payload drops the
// whole line.
func (d *Dispatcher) decodeFields(payload []byte) ([]int, bool) {
	cur := wire.NewCursor(payload)
	out := make([]int, len(d.channels))
	for i := range out {
		v, err := cur.Uint(wire.LengthWidth)
		if err != nil {
			d.stats.FramingErrors++
			return nil, false
		}
		out[i] = int(v)
	}
	return out, true
}

func (d *Dispatcher) setInitialLengths(payload []byte) {
	lengths, ok := d.decodeFields(payload)
	if !ok {
		return
	}
	d.stats.InitialCmds++
	for i := range d.channels {
		d.channels[i].SetInitialLength(lengths[i])
	}
}

// reset overwrites every channel's length state. A reset always re-enables
// the motors.
func (d *Dispatcher) reset(payload []byte) {
	lengths, ok := d.decodeFields(payload)
	if !ok {
		return
	}
	d.stats.Resets++
	for i := range d.channels {
		d.channels[i].ResetLength(lengths[i])
	}
	d.session.MotorsEnabled = true
}

// lengthCommand runs one full feedback/command cycle: poll every
// subordinate, integrate the readings, report the updated lengths to the
// host, and, when the motors are enabled, translate the host's length
// targets into a crossing/angle broadcast. Gated to SystemOn.
func (d *Dispatcher) lengthCommand(payload []byte) {
	if !d.session.SystemOn {
		d.stats.GatedLines++
		return
	}
	d.stats.LengthCmds++

	var fb []byte
	for i := range d.channels {
		angle, err := d.bus.RequestAngle(i)
		if err != nil {
			d.stats.BusFaults++
			angle = cable.AngleUnavailable
		} else if angle == cable.AngleUnavailable {
			d.stats.BusTimeouts++
		}
		if angle == cable.AngleUnavailable {
			// The channel keeps its state for this cycle; the host sees the
			// sentinel instead of a fabricated length.
			fb = d.appendFeedback(fb, i, cable.AngleUnavailable)
			continue
		}
		d.channels[i].Integrate(angle, d.params)
		fb = d.appendFeedback(fb, i, uint(d.channels[i].Length))
	}
	d.writeHost(fb)
	d.stats.FeedbackLines += uint64(len(d.channels))

	if !d.session.MotorsEnabled {
		return
	}
	targets, ok := d.decodeFields(payload)
	if !ok {
		return
	}
	moves := make([]cable.Move, len(d.channels))
	for i := range d.channels {
		moves[i] = d.channels[i].PlanMove(targets[i], d.params)
	}
	if err := d.bus.BroadcastCommand(moves); err != nil {
		d.stats.BusFaults++
		return
	}
	d.stats.Broadcasts++
}

// writeHost sends bytes upstream. The protocol has no retry or reply path
// for a failed write, so the loop carries on; the counter is what makes a
// dying host link visible.
func (d *Dispatcher) writeHost(p []byte) {
	if _, err := d.host.Write(p); err != nil {
		d.stats.HostWriteErrors++
	}
}

// appendFeedback adds one channel's feedback line. Only channel 0's line
// carries the feedback tag; later channels send the bare field.
func (d *Dispatcher) appendFeedback(dst []byte, channel int, value uint) []byte {
	if channel == 0 {
		dst = append(dst, TagFeedback)
	}
	dst = wire.AppendUint(dst, value, wire.LengthWidth)
	return append(dst, '\n')
}
