// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics

package hostlink

import (
	"bytes"
	"testing"

	"github.com/spoolworks/arachne/pkg/cable"
)

func TestJournalRoundTrip(t *testing.T) {
	b := newFakeBus()
	b.queue(0, 0, 13)
	d, _ := newTestDispatcher(1, b)
	feed(d, "k", "s", "r0000", "l0005")

	var buf bytes.Buffer
	j := NewJournal(&buf)
	if err := j.Record(d.Snapshot()); err != nil {
		t.Fatalf("record: %v", err)
	}
	feed(d, "e")
	if err := j.Record(d.Snapshot()); err != nil {
		t.Fatalf("record: %v", err)
	}

	snaps, err := ReadJournal(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("records = %d, want 2", len(snaps))
	}
	if snaps[0].Stats.LengthCmds != 1 {
		t.Errorf("first record LengthCmds = %d, want 1", snaps[0].Stats.LengthCmds)
	}
	if len(snaps[0].Channels) != 1 {
		t.Fatalf("first record channels = %d, want 1", len(snaps[0].Channels))
	}
	if snaps[0].Channels[0].LastAngle != 13 {
		t.Errorf("recorded angle = %d, want 13", snaps[0].Channels[0].LastAngle)
	}
	if snaps[1].Session.SystemOn {
		t.Error("second record should capture the ended session")
	}
}

func TestJournalTruncationLosesOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	j := NewJournal(&buf)

	d, _ := newTestDispatcher(2, newFakeBus())
	for i := 0; i < 3; i++ {
		if err := j.Record(d.Snapshot()); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	// Chop the final record mid-stream; the leading records must survive.
	data := buf.Bytes()
	snaps, err := ReadJournal(bytes.NewReader(data[:len(data)-3]))
	if err == nil {
		t.Error("expected an error for the truncated tail record")
	}
	if len(snaps) != 2 {
		t.Errorf("recovered records = %d, want 2", len(snaps))
	}
}

func TestSnapshotIsDetachedCopy(t *testing.T) {
	d, _ := newTestDispatcher(1, newFakeBus())
	snap := d.Snapshot()
	snap.Channels[0] = cable.Channel{Length: 12345}
	if d.Snapshot().Channels[0].Length == 12345 {
		t.Error("snapshot shares channel storage with the dispatcher")
	}
}
