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

package keybus

import (
	"time"

	"github.com/ZaparooProject/go-keybus/internal/frame"
)

// Frame is one side of a Classic bus frame as captured, most significant
// bit first.
type Frame [frame.Bytes]byte

// Command returns the first byte of a panel frame.
func (f Frame) Command() byte { return f[0] }

// Status returns the second byte of a panel frame.
func (f Frame) Status() byte { return f[1] }

// Idle reports whether no keypad pulled the line during the frame.
func (f Frame) Idle() bool {
	return f[0] == frame.IdleByte && f[1] == frame.IdleByte
}

// String formats the frame in binary, the way the bus sees it.
func (f Frame) String() string {
	return frame.FormatBinary(f[:])
}

// Snapshot is the unit of handoff between the edge handler and Poll. The
// edge handler publishes a whole Snapshot at once so readers never see a
// partially updated frame.
type Snapshot struct {
	// Command holds the bytes clocked out by the panel.
	Command Frame
	// Module holds the bytes keypads wrote back, including this keypad's.
	Module Frame
	// Captured is the platform clock time of the last panel bit.
	Captured time.Duration
	// Seq increases by one for every complete frame.
	Seq uint64
	// DrivenCode is the key code this keypad drove, valid when Driven is set.
	DrivenCode byte
	Driven     bool
}

func formatBinaryBytes(data []byte) string {
	return frame.FormatBinary(data)
}
