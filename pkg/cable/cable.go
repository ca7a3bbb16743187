// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics

// Package cable tracks the physical state of each winch channel and
// implements the two unit transforms at the core of the coordinator:
// absolute length command to crossing/angle actuation, and raw angle
// feedback to integrated cable length.
//
// Angles are tenths of a degree, lengths tenths of a millimetre, throughout.
package cable

import "math"

const (
	// FullTurn is one spool revolution in tenths of a degree.
	FullTurn = 3600

	// AngleUnavailable is the reserved reading returned by the bus when a
	// subordinate fails to answer within the retry budget. Valid readings
	// are always < FullTurn, so the sentinel is distinguishable on sight.
	AngleUnavailable = 65535
)

// feedbackWrap is the fold width used by the shortest-path heuristic in
// Integrate. It is 360 where every other conversion counts a revolution as
// FullTurn (3600); changing it alters length tracking on every wrap, so it
// stays as deployed until confirmed against hardware captures.
const feedbackWrap = 360

// Crossing tells a subordinate whether a commanded angle requires the spool
// to wrap past its home reference, and in which direction.
type Crossing int

// Crossing codes as they appear on the bus.
const (
	CrossingNone          Crossing = 0
	CrossingClockwise     Crossing = 1
	CrossingAnticlockwise Crossing = 2
)

// Code returns the single ASCII digit used on the broadcast frame.
func (c Crossing) Code() byte {
	return byte('0' + c)
}

func (c Crossing) String() string {
	switch c {
	case CrossingNone:
		return "none"
	case CrossingClockwise:
		return "clockwise"
	case CrossingAnticlockwise:
		return "anticlockwise"
	}
	return "invalid"
}

// Params holds the winch geometry shared by every transform.
type Params struct {
	Circumference int // spool circumference, tenths of a millimetre
	CrossingZone  int // dead-band around the wrap boundary, tenths of a degree
}

// Channel tracks one cable/winch unit. All fields start at zero and are
// only meaningful once the host has run its calibration sequence.
type Channel struct {
	LastAngle     int // most recent subordinate feedback, held in [0, FullTurn)
	Length        int // integrated cable length; drift is accepted, never recomputed from absolute angle
	LastLengthCmd int // most recent absolute length command
	InitialLength int // calibration offset set by the host
}

// Move is one channel's actuation output for a control cycle.
type Move struct {
	Crossing Crossing
	Angle    int // target spool angle, tenths of a degree, in [0, FullTurn)
}

// PlanMove converts an absolute length command into the crossing decision
// and target angle for this channel's subordinate. The crossing zone is a
// dead-band around the wrap boundary: inside it the angle is clamped or a
// full wrap is commanded, so the decision does not chatter exactly at the
// boundary. The channel's command memory always advances, whether or not a
// crossing results.
func (ch *Channel) PlanMove(lengthCmd int, p Params) Move {
	z := p.CrossingZone
	lengthDelta := lengthCmd - ch.LastLengthCmd
	angleDelta := iround(float64(lengthDelta) / float64(p.Circumference) * FullTurn)
	angle := ch.LastAngle + angleDelta

	m := Move{Crossing: CrossingNone}
	switch {
	case angle < 0:
		switch {
		case angle < -z:
			m.Crossing = CrossingAnticlockwise
			// A command that retracts more than one revolution in a single
			// cycle still signals a single crossing on the wire; fold the
			// remainder so the target stays a valid spool position.
			for angle += FullTurn; angle < 0; angle += FullTurn {
			}
		case angle < -z/2:
			m.Crossing = CrossingAnticlockwise
			angle = FullTurn - z
		default:
			angle = 0
		}
	case angle > FullTurn-z:
		switch {
		case angle > FullTurn:
			m.Crossing = CrossingClockwise
			for angle -= FullTurn; angle >= FullTurn; angle -= FullTurn {
			}
		case angle > FullTurn-z/2:
			m.Crossing = CrossingClockwise
			angle = 0
		default:
			angle = FullTurn - z
		}
	}
	m.Angle = angle
	ch.LastLengthCmd = lengthCmd
	return m
}

// Integrate folds a fresh angle reading into the channel's length estimate
// and records the reading as the new angle memory. The reading is assumed
// to lie on the nearer side of the circle relative to the previous one; a
// genuine multi-revolution slip between feedback cycles is mis-tracked as a
// small motion. That is an accepted property of the feedback cadence.
func (ch *Channel) Integrate(currentAngle int, p Params) {
	var angleChange int
	if currentAngle != ch.LastAngle {
		noCrossing := currentAngle - ch.LastAngle
		withCrossing := noCrossing - feedbackWrap
		if currentAngle < ch.LastAngle {
			withCrossing = noCrossing + feedbackWrap
		}
		if abs(noCrossing) < abs(withCrossing) {
			angleChange = noCrossing
		} else {
			angleChange = withCrossing
		}
	}
	ch.Length += iround(float64(angleChange) / FullTurn * float64(p.Circumference))
	ch.LastAngle = currentAngle
}

// SetInitialLength installs a new calibration offset. The length estimate
// and the command memory shift by the same delta, so the robot's notion of
// "where it started" and "where it is" move together.
func (ch *Channel) SetInitialLength(length int) {
	delta := length - ch.InitialLength
	ch.Length += delta
	ch.LastLengthCmd += delta
	ch.InitialLength = length
}

// ResetLength overwrites the length estimate and command memory directly.
func (ch *Channel) ResetLength(length int) {
	ch.Length = length
	ch.LastLengthCmd = length
}

// iround rounds half away from zero, matching the arithmetic the rest of
// the system was calibrated against.
func iround(v float64) int {
	return int(math.Round(v))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
