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

import "time"

// Pin is a single digital line.
type Pin interface {
	// Read returns the current level of the line.
	Read() bool
	// Write drives the line. For the write line, high pulls the shared data
	// line low through the interface transistor.
	Write(high bool) error
}

// EdgePin is a Pin that can report level transitions. The clock line must
// implement it.
type EdgePin interface {
	Pin
	// WatchEdges registers a handler invoked once per transition with the new
	// level. Handlers must not be invoked concurrently with each other.
	WatchEdges(handler func(high bool)) error
	// StopWatching unregisters the handler.
	StopWatching() error
}

// DutyPin is implemented by output pins capable of PWM. The sounder uses it
// for the continuous low-level tone.
type DutyPin interface {
	WriteDuty(duty float64) error
}

// Clock is a free-running monotonic time source.
type Clock interface {
	Now() time.Duration
}

// Countdown is a one-shot hardware style timer re-armed on every bus edge.
type Countdown interface {
	Reset(d time.Duration)
	Stop()
}

// Platform binds pin names to lines and provides the shared clock.
type Platform interface {
	Clock
	Pin(name string) (Pin, error)
}

// CountdownPlatform is implemented by platforms with a countdown timer for
// clock-loss detection. Platforms without one fall back to a timestamp check
// on the next edge.
type CountdownPlatform interface {
	NewCountdown(fire func()) Countdown
}
