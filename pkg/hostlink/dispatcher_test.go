// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics

package hostlink

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spoolworks/arachne/pkg/cable"
)

// fakeBus answers angle requests from per-channel queues and records every
// broadcast. Channels marked timed-out return the unavailable sentinel.
type fakeBus struct {
	angles     map[int][]int
	timedOut   map[int]bool
	err        error
	requests   []int
	broadcasts [][]cable.Move
}

func newFakeBus() *fakeBus {
	return &fakeBus{angles: map[int][]int{}, timedOut: map[int]bool{}}
}

func (f *fakeBus) queue(ch int, angles ...int) {
	f.angles[ch] = append(f.angles[ch], angles...)
}

func (f *fakeBus) RequestAngle(ch int) (int, error) {
	f.requests = append(f.requests, ch)
	if f.err != nil {
		return 0, f.err
	}
	if f.timedOut[ch] {
		return cable.AngleUnavailable, nil
	}
	q := f.angles[ch]
	if len(q) == 0 {
		return 0, nil
	}
	f.angles[ch] = q[1:]
	return q[0], nil
}

func (f *fakeBus) BroadcastCommand(moves []cable.Move) error {
	if f.err != nil {
		return f.err
	}
	cp := make([]cable.Move, len(moves))
	copy(cp, moves)
	f.broadcasts = append(f.broadcasts, cp)
	return nil
}

var rigParams = cable.Params{Circumference: 1355, CrossingZone: 70}

func newTestDispatcher(channels int, b AngleBus) (*Dispatcher, *bytes.Buffer) {
	host := &bytes.Buffer{}
	d := New(Config{Channels: channels, Params: rigParams}, b, host)
	return d, host
}

func feed(d *Dispatcher, lines ...string) {
	for _, line := range lines {
		d.HandleLine([]byte(line))
	}
}

func TestAckHandshake(t *testing.T) {
	d, host := newTestDispatcher(1, newFakeBus())

	feed(d, "s")
	if !d.Session().SystemOn {
		t.Fatal("start did not raise SystemOn")
	}

	feed(d, "a")
	if d.Session().SystemOn {
		t.Error("ack must lower SystemOn")
	}
	if host.String() != "a\n" {
		t.Errorf("ack echo = %q, want \"a\\n\"", host.String())
	}
}

func TestEndDropsBothGates(t *testing.T) {
	d, _ := newTestDispatcher(1, newFakeBus())

	feed(d, "s", "r0000")
	s := d.Session()
	if !s.SystemOn || !s.MotorsEnabled {
		t.Fatalf("setup session = %+v", s)
	}

	feed(d, "e")
	s = d.Session()
	if s.SystemOn || s.MotorsEnabled {
		t.Errorf("end left session = %+v", s)
	}
}

func TestSetupSeedsAngleMemory(t *testing.T) {
	b := newFakeBus()
	b.queue(0, 500)
	b.queue(1, 1200)
	d, _ := newTestDispatcher(2, b)

	feed(d, "k")
	snap := d.Snapshot()
	if snap.Channels[0].LastAngle != 500 || snap.Channels[1].LastAngle != 1200 {
		t.Errorf("angle memory = %d/%d, want 500/1200",
			snap.Channels[0].LastAngle, snap.Channels[1].LastAngle)
	}
}

func TestSetupSkipsUnresponsiveChannel(t *testing.T) {
	b := newFakeBus()
	b.timedOut[0] = true
	d, _ := newTestDispatcher(1, b)
	d.channels[0].LastAngle = 42

	feed(d, "k")
	if got := d.Snapshot().Channels[0].LastAngle; got != 42 {
		t.Errorf("angle memory = %d, want untouched 42", got)
	}
	if d.Stats().BusTimeouts != 1 {
		t.Errorf("BusTimeouts = %d, want 1", d.Stats().BusTimeouts)
	}
}

// Scenario: one channel, rig geometry, calibrated at zero. A length command
// of 5 tenths-mm with the subordinate reporting angle 0 yields zero-length
// feedback and a broadcast of a small positive angle with no crossing.
func TestLengthCommandCycle(t *testing.T) {
	b := newFakeBus()
	b.queue(0, 0, 0) // setup read, then the l-cycle read
	d, host := newTestDispatcher(1, b)

	feed(d, "k", "i0000", "s", "r0000")
	host.Reset()

	feed(d, "l0005")

	if host.String() != "f0000\n" {
		t.Errorf("feedback = %q, want \"f0000\\n\"", host.String())
	}
	if len(b.broadcasts) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(b.broadcasts))
	}
	m := b.broadcasts[0][0]
	if m.Crossing != cable.CrossingNone {
		t.Errorf("crossing = %v, want none", m.Crossing)
	}
	if m.Angle != 13 { // round(5/1355*3600)
		t.Errorf("angle = %d, want 13", m.Angle)
	}
}

// A host target several revolutions away still broadcasts a single crossing
// with an in-range angle, so the positional frame stays parseable.
func TestLengthCommandLargeDeltaBroadcastsInRange(t *testing.T) {
	b := newFakeBus()
	b.queue(0, 0)
	d, _ := newTestDispatcher(1, b)

	feed(d, "s", "r0000")
	feed(d, "l2000") // 8192 tenths-mm, about six spool revolutions

	if len(b.broadcasts) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(b.broadcasts))
	}
	m := b.broadcasts[0][0]
	if m.Angle < 0 || m.Angle >= cable.FullTurn {
		t.Fatalf("broadcast angle %d out of range", m.Angle)
	}
	if m.Crossing != cable.CrossingClockwise || m.Angle != 165 {
		t.Errorf("move = (%v, %d), want (clockwise, 165)", m.Crossing, m.Angle)
	}
}

func TestLengthCommandGatedWhileSystemOff(t *testing.T) {
	b := newFakeBus()
	d, host := newTestDispatcher(1, b)

	feed(d, "l0005")
	if len(b.requests) != 0 {
		t.Error("gated length command must not touch the bus")
	}
	if host.Len() != 0 {
		t.Errorf("gated length command wrote %q to host", host.String())
	}
	if d.Stats().GatedLines != 1 {
		t.Errorf("GatedLines = %d, want 1", d.Stats().GatedLines)
	}
}

func TestFeedbackWithoutMotors(t *testing.T) {
	b := newFakeBus()
	b.queue(0, 100)
	d, host := newTestDispatcher(1, b)

	// System on, motors never enabled: feedback flows, nothing is actuated.
	feed(d, "s", "l0005")
	if host.Len() == 0 {
		t.Error("expected feedback while motors disabled")
	}
	if len(b.broadcasts) != 0 {
		t.Error("broadcast while motors disabled")
	}
}

// A subordinate that never answers shows up to the host as the sentinel
// field, and the channel keeps its state for that cycle.
func TestTimeoutSentinelReachesHost(t *testing.T) {
	b := newFakeBus()
	b.timedOut[0] = true
	d, host := newTestDispatcher(1, b)

	feed(d, "s", "r0000")
	d.channels[0].LastAngle = 250
	d.channels[0].Length = 77
	host.Reset()

	feed(d, "l0005")

	if host.String() != "fffff\n" {
		t.Errorf("feedback = %q, want \"fffff\\n\" (tag + sentinel)", host.String())
	}
	ch := d.Snapshot().Channels[0]
	if ch.LastAngle != 250 || ch.Length != 77 {
		t.Errorf("channel state changed on timeout: %+v", ch)
	}
	if d.Stats().BusTimeouts != 1 {
		t.Errorf("BusTimeouts = %d, want 1", d.Stats().BusTimeouts)
	}
}

func TestBusFaultTreatedAsTimeout(t *testing.T) {
	b := newFakeBus()
	b.err = errors.New("port gone")
	d, host := newTestDispatcher(1, b)

	feed(d, "s")
	b.err = nil
	feed(d, "r0000")
	b.err = errors.New("port gone")
	host.Reset()

	feed(d, "l0005")
	if host.String() != "fffff\n" {
		t.Errorf("feedback = %q, want sentinel line", host.String())
	}
	if d.Stats().BusFaults == 0 {
		t.Error("fault not counted")
	}
}

func TestMultiChannelFeedbackLayout(t *testing.T) {
	b := newFakeBus()
	b.queue(0, 0)
	b.queue(1, 0)
	b.queue(2, 0)
	d, host := newTestDispatcher(3, b)

	feed(d, "s", "l000500050005")

	// Only the first line carries the feedback tag; each channel gets its
	// own line.
	want := "f0000\n0000\n0000\n"
	if host.String() != want {
		t.Errorf("feedback = %q, want %q", host.String(), want)
	}
}

// Successive initial-length commands shift state by the delta between
// initial values; other channels are unaffected.
func TestInitialLengthShifts(t *testing.T) {
	d, _ := newTestDispatcher(2, newFakeBus())

	feed(d, "i00640000") // ch0 initial 100, ch1 initial 0
	snap := d.Snapshot()
	if snap.Channels[0].Length != 100 || snap.Channels[0].LastLengthCmd != 100 {
		t.Fatalf("ch0 after first initial: %+v", snap.Channels[0])
	}

	feed(d, "i00280000") // ch0 initial 40: shift by -60
	snap = d.Snapshot()
	if snap.Channels[0].Length != 40 || snap.Channels[0].LastLengthCmd != 40 {
		t.Errorf("ch0 after second initial: %+v", snap.Channels[0])
	}
	if snap.Channels[1].Length != 0 || snap.Channels[1].LastLengthCmd != 0 {
		t.Errorf("ch1 moved: %+v", snap.Channels[1])
	}
}

func TestResetOverwritesAndEnablesMotors(t *testing.T) {
	d, _ := newTestDispatcher(1, newFakeBus())
	d.channels[0].Length = 999
	d.channels[0].LastLengthCmd = 888

	feed(d, "r012c")
	ch := d.Snapshot().Channels[0]
	if ch.Length != 300 || ch.LastLengthCmd != 300 {
		t.Errorf("reset state = %+v, want 300/300", ch)
	}
	if !d.Session().MotorsEnabled {
		t.Error("reset must enable motors")
	}
}

func TestUnknownLinesDropped(t *testing.T) {
	b := newFakeBus()
	d, host := newTestDispatcher(1, b)

	feed(d, "", "x", "q0005", "zz")
	if host.Len() != 0 {
		t.Errorf("unknown lines produced output %q", host.String())
	}
	if len(b.requests) != 0 {
		t.Error("unknown lines touched the bus")
	}
	if d.Stats().UnknownLines != 4 {
		t.Errorf("UnknownLines = %d, want 4", d.Stats().UnknownLines)
	}
}

func TestMalformedPayloadDropsLine(t *testing.T) {
	b := newFakeBus()
	b.queue(0, 0, 0)
	d, _ := newTestDispatcher(1, b)

	feed(d, "s", "r0000")
	feed(d, "l00zz") // bad hex in the command payload

	// The feedback half of the cycle still ran; only the actuation half
	// was dropped.
	if len(b.broadcasts) != 0 {
		t.Error("misframed payload must not broadcast")
	}
	if d.Stats().FramingErrors != 1 {
		t.Errorf("FramingErrors = %d, want 1", d.Stats().FramingErrors)
	}
}

func TestHoldIsReservedNoop(t *testing.T) {
	b := newFakeBus()
	d, host := newTestDispatcher(1, b)

	feed(d, "h")
	if host.Len() != 0 || len(b.requests) != 0 {
		t.Error("hold must not act")
	}
	if d.Stats().Holds != 1 {
		t.Errorf("Holds = %d, want 1", d.Stats().Holds)
	}
}

// failingHost refuses every write, standing in for a dropped host link.
type failingHost struct{}

func (failingHost) Write(p []byte) (int, error) {
	return 0, errors.New("host link down")
}

func TestHostWriteFailuresCounted(t *testing.T) {
	b := newFakeBus()
	b.queue(0, 0)
	d := New(Config{Channels: 1, Params: rigParams}, b, failingHost{})

	feed(d, "a")
	if d.Stats().HostWriteErrors != 1 {
		t.Fatalf("HostWriteErrors after ack = %d, want 1", d.Stats().HostWriteErrors)
	}

	feed(d, "s", "r0000", "l0005")
	if d.Stats().HostWriteErrors != 2 {
		t.Errorf("HostWriteErrors after cycle = %d, want 2", d.Stats().HostWriteErrors)
	}
	// The cycle itself carries on: the bus half is unaffected by the host
	// link failing.
	if len(b.broadcasts) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(b.broadcasts))
	}
}

func TestRunConsumesLineStream(t *testing.T) {
	b := newFakeBus()
	b.queue(0, 0, 0)
	d, host := newTestDispatcher(1, b)

	session := "k\ni0000\ns\nr0000\nl0005\r\ne\n"
	if err := d.Run(strings.NewReader(session)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(host.String(), "f0000\n") {
		t.Errorf("host output = %q, missing feedback", host.String())
	}
	if d.Session().SystemOn {
		t.Error("session still on after end")
	}
}

func TestListenerSeesEveryHandledLine(t *testing.T) {
	d, _ := newTestDispatcher(1, newFakeBus())
	var snaps []Snapshot
	d.SetListener(func(s Snapshot) { snaps = append(snaps, s) })

	feed(d, "s", "e", "bogus")
	// Unknown lines do not notify.
	if len(snaps) != 2 {
		t.Fatalf("listener calls = %d, want 2", len(snaps))
	}
	if !snaps[0].Session.SystemOn || snaps[1].Session.SystemOn {
		t.Error("snapshots out of order")
	}
}

func FuzzHandleLine(f *testing.F) {
	f.Add([]byte("l0005"))
	f.Add([]byte("i00640000"))
	f.Add([]byte("a"))
	f.Add([]byte("l"))
	f.Add([]byte{0x00, 0xff})

	f.Fuzz(func(t *testing.T, line []byte) {
		b := newFakeBus()
		b.timedOut[0] = true
		d, _ := newTestDispatcher(1, b)
		d.HandleLine([]byte("s"))
		d.HandleLine(line) // must never panic, whatever the host sends
	})
}
