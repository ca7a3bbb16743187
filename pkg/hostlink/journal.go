// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics

package hostlink

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Journal appends CBOR-encoded dispatcher snapshots to a writer, giving the
// operator a compact flight-recorder trace of a session. Records are a
// plain CBOR sequence; each record is self-delimiting, so a truncated file
// loses at most its final record.
type Journal struct {
	enc *cbor.Encoder
}

// NewJournal wraps w for snapshot appends.
func NewJournal(w io.Writer) *Journal {
	return &Journal{enc: cbor.NewEncoder(w)}
}

// Record appends one snapshot.
func (j *Journal) Record(snap Snapshot) error {
	if err := j.enc.Encode(snap); err != nil {
		return fmt.Errorf("journal: encode snapshot: %w", err)
	}
	return nil
}

// ReadJournal decodes every snapshot from r, in order.
func ReadJournal(r io.Reader) ([]Snapshot, error) {
	dec := cbor.NewDecoder(r)
	var out []Snapshot
	for {
		var snap Snapshot
		if err := dec.Decode(&snap); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, fmt.Errorf("journal: decode record %d: %w", len(out), err)
		}
		out = append(out, snap)
	}
}
