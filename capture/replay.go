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

package capture

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ZaparooProject/go-keybus"
)

// Summary totals a replayed capture.
type Summary struct {
	Sounds       map[keybus.Sound]int
	Keys         []keybus.Key
	Lights       [keybus.IndicatorCount]keybus.Light
	Frames       int
	LightChanges int
	// Gaps counts breaks in the frame sequence, i.e. frames the poller
	// never saw.
	Gaps int
	// Corrupt counts records skipped for a bad checksum.
	Corrupt int
}

// ReplayFunc is called for every decoded record.
type ReplayFunc func(rec Record, ev keybus.Event) error

// Replay decodes every record of r in order using the key timings of cfg.
// fn may be nil. Records with a bad checksum are counted and skipped.
func Replay(ctx context.Context, r *Reader, cfg *keybus.Config, fn ReplayFunc) (Summary, error) {
	dec := keybus.NewDecoder(cfg)
	sum := Summary{Sounds: make(map[keybus.Sound]int)}

	var lastSeq uint64
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrChecksum) {
			sum.Corrupt++
			keybus.Debugf("replay: %v", err)
			continue
		}
		if err != nil {
			return sum, err
		}

		if sum.Frames > 0 && rec.Seq != lastSeq+1 {
			sum.Gaps++
		}
		lastSeq = rec.Seq
		sum.Frames++

		ev := dec.Feed(rec.Snapshot())
		sum.LightChanges += len(ev.Changed)
		if ev.HasKey {
			sum.Keys = append(sum.Keys, ev.Key)
		}
		if ev.Sound != keybus.SoundNone {
			sum.Sounds[ev.Sound]++
		}

		if fn != nil {
			if err := fn(rec, ev); err != nil {
				return sum, fmt.Errorf("replay stopped at record %d: %w", rec.Seq, err)
			}
		}
	}

	sum.Lights = dec.Lights()
	return sum, nil
}
