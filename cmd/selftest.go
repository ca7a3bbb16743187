// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoolworks Robotics

package cmd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spoolworks/arachne/pkg/cable"
	"github.com/spoolworks/arachne/pkg/hostlink"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Exercise the coordinator against an emulated bus",
	Long: `Run a scripted host session against an in-memory subordinate emulator
and verify the coordinator's end-to-end behavior without any hardware:
calibration, the feedback/command cycle, the timeout sentinel, and the
reset path.

Useful as a smoke test after a build or a config change.`,
	RunE: runSelftest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}

// emulatedBus answers angle requests from a settable per-channel angle and
// records broadcasts, standing in for the real servo subordinates.
type emulatedBus struct {
	angles     []int
	silent     map[int]bool
	broadcasts [][]cable.Move
}

func (e *emulatedBus) RequestAngle(ch int) (int, error) {
	if e.silent[ch] {
		return cable.AngleUnavailable, nil
	}
	return e.angles[ch], nil
}

func (e *emulatedBus) BroadcastCommand(moves []cable.Move) error {
	cp := make([]cable.Move, len(moves))
	copy(cp, moves)
	e.broadcasts = append(e.broadcasts, cp)
	// Pretend the servos execute instantly: the next feedback read reports
	// the commanded angle.
	for i, m := range moves {
		e.angles[i] = m.Angle
	}
	return nil
}

type check struct {
	name string
	ok   bool
	why  string
}

func runSelftest(cmd *cobra.Command, args []string) error {
	emu := &emulatedBus{angles: make([]int, 1), silent: map[int]bool{}}
	host := &bytes.Buffer{}
	d := hostlink.New(hostlink.Config{
		Channels: 1,
		Params:   cable.Params{Circumference: 1355, CrossingZone: 70},
	}, emu, host)

	var checks []check
	record := func(name string, ok bool, why string) {
		checks = append(checks, check{name, ok, why})
	}

	// Handshake
	d.HandleLine([]byte("a"))
	record("ack echo", host.String() == "a\n", fmt.Sprintf("host got %q", host.String()))
	host.Reset()

	// Calibration: seed angle memory, set initial length, start, reset.
	emu.angles[0] = 0
	for _, line := range []string{"k", "i0000", "s", "r0000"} {
		d.HandleLine([]byte(line))
	}
	sess := d.Session()
	record("calibration gates", sess.SystemOn && sess.MotorsEnabled,
		fmt.Sprintf("session %+v", sess))

	// Feedback/command cycle.
	d.HandleLine([]byte("l0005"))
	record("feedback line", host.String() == "f0000\n", fmt.Sprintf("host got %q", host.String()))
	record("broadcast emitted", len(emu.broadcasts) == 1 &&
		emu.broadcasts[0][0].Crossing == cable.CrossingNone &&
		emu.broadcasts[0][0].Angle == 13,
		fmt.Sprintf("broadcasts %+v", emu.broadcasts))
	host.Reset()

	// The servo "moved"; the next cycle integrates the new angle into length.
	d.HandleLine([]byte("l0005"))
	record("length integration", strings.HasPrefix(host.String(), "f0005\n"),
		fmt.Sprintf("host got %q", host.String()))
	host.Reset()

	// Timeout sentinel.
	emu.silent[0] = true
	d.HandleLine([]byte("l0005"))
	record("timeout sentinel", host.String() == "fffff\n", fmt.Sprintf("host got %q", host.String()))
	emu.silent[0] = false
	host.Reset()

	// End drops both gates; a gated length command does nothing.
	d.HandleLine([]byte("e"))
	d.HandleLine([]byte("l0005"))
	record("gating after end", host.Len() == 0 && !d.Session().SystemOn,
		fmt.Sprintf("host got %q, session %+v", host.String(), d.Session()))

	failed := 0
	for _, c := range checks {
		status := "PASS"
		if !c.ok {
			status = "FAIL"
			failed++
		}
		fmt.Printf("[%s] %s", status, c.name)
		if !c.ok {
			fmt.Printf(" (%s)", c.why)
		}
		fmt.Println()
	}
	fmt.Printf("\n%d/%d checks passed\n", len(checks)-failed, len(checks))

	if failed > 0 {
		return fmt.Errorf("selftest: %d check(s) failed", failed)
	}
	return nil
}
