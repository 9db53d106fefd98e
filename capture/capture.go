// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package capture records polled keybus frames to CBOR streams and replays
// them through the frame decoder.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/internal/frame"
	"github.com/fxamacker/cbor/v2"
)

const (
	// Magic opens every capture stream.
	Magic = "keybus-capture"
	// Version is the record layout written by this package.
	Version = 2
)

var (
	// ErrBadHeader is returned for streams that are not keybus captures.
	ErrBadHeader = errors.New("not a keybus capture")
	// ErrChecksum is returned for a record whose sum does not match.
	ErrChecksum = errors.New("capture record checksum mismatch")
)

// Header is the first item of a capture stream.
type Header struct {
	Started time.Time `cbor:"started"`
	Magic   string    `cbor:"magic"`
	Source  string    `cbor:"source,omitempty"`
	Version int       `cbor:"version"`
}

// Record is one captured frame, encoded as a CBOR array.
type Record struct {
	_          struct{} `cbor:",toarray"`
	Seq        uint64
	At         time.Duration
	Command    [2]byte
	Module     [2]byte
	DrivenCode byte
	Driven     bool
	Sum        byte
}

// NewRecord captures snap.
func NewRecord(snap keybus.Snapshot) Record {
	r := Record{
		Seq:        snap.Seq,
		At:         snap.Captured,
		Command:    snap.Command,
		Module:     snap.Module,
		DrivenCode: snap.DrivenCode,
		Driven:     snap.Driven,
	}
	r.Sum = r.checksum()
	return r
}

// Snapshot turns the record back into the snapshot it was taken from.
func (r Record) Snapshot() keybus.Snapshot {
	return keybus.Snapshot{
		Command:    r.Command,
		Module:     r.Module,
		Captured:   r.At,
		Seq:        r.Seq,
		DrivenCode: r.DrivenCode,
		Driven:     r.Driven,
	}
}

// checksum sums every field of the record but Sum itself.
func (r Record) checksum() byte {
	b := make([]byte, 0, 22)
	b = binary.BigEndian.AppendUint64(b, r.Seq)
	b = binary.BigEndian.AppendUint64(b, uint64(r.At))
	b = append(b, r.Command[0], r.Command[1], r.Module[0], r.Module[1], r.DrivenCode)
	if r.Driven {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return frame.CalculateChecksum(b)
}

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor options: %v", err))
	}
	return em
}

// Writer appends records to a capture stream. It is not safe for concurrent
// use; a polling.Session calls it from its single loop.
type Writer struct {
	enc   *cbor.Encoder
	count int
}

// NewWriter writes the stream header to w. source names where the frames
// came from, such as a GPIO chip.
func NewWriter(w io.Writer, source string) (*Writer, error) {
	enc := encMode.NewEncoder(w)
	h := Header{Magic: Magic, Version: Version, Started: time.Now(), Source: source}
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Write appends snap.
func (w *Writer) Write(snap keybus.Snapshot) error {
	if err := w.enc.Encode(NewRecord(snap)); err != nil {
		return fmt.Errorf("failed to write capture record %d: %w", snap.Seq, err)
	}
	w.count++
	return nil
}

// Count returns how many records were written.
func (w *Writer) Count() int {
	return w.count
}

// Reader reads records from a capture stream.
type Reader struct {
	dec    *cbor.Decoder
	Header Header
}

// NewReader reads and checks the stream header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)
	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadHeader, h.Magic)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, h.Version)
	}
	return &Reader{dec: dec, Header: h}, nil
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read capture record: %w", err)
	}
	if rec.Sum != rec.checksum() {
		return rec, fmt.Errorf("%w: record %d", ErrChecksum, rec.Seq)
	}
	return rec, nil
}
