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
	"sync/atomic"
	"time"
)

// keyBits is the number of module bits a key code occupies.
const keyBits = 8

// encoder drives queued key codes onto the module half of each frame. All
// methods except acknowledge run in edge context under the keypad's isrMu.
type encoder struct {
	write Pin
	keys  *KeyBuffer

	lastWrite    time.Duration
	holdStart    time.Duration
	pendingSince time.Duration

	keyInterval  time.Duration
	alarmHold    time.Duration
	alarmQuiet   time.Duration
	alarmTimeout time.Duration

	// pending is set once an alarm key has been released and clears when the
	// panel acknowledges it or the wait times out.
	pending atomic.Bool
	acked   atomic.Bool

	code       byte
	active     bool
	alarm      bool
	holding    bool
	asserted   bool
	hasWritten bool
}

func newEncoder(write Pin, keys *KeyBuffer, cfg *Config) *encoder {
	return &encoder{
		write:        write,
		keys:         keys,
		keyInterval:  cfg.KeyInterval,
		alarmHold:    cfg.AlarmKeyHold,
		alarmQuiet:   cfg.AlarmKeySuppress,
		alarmTimeout: cfg.AlarmAckTimeout,
	}
}

// beginFrame picks the key to drive for the frame starting now.
func (e *encoder) beginFrame(now time.Duration, ackEnabled bool) {
	e.active = false

	if e.pending.Load() {
		waited := now - e.pendingSince
		if waited < e.alarmQuiet {
			return
		}
		if ackEnabled && !e.acked.Load() && waited < e.alarmTimeout {
			return
		}
		e.pending.Store(false)
	}

	if !e.holding && e.hasWritten && now-e.lastWrite < e.keyInterval {
		return
	}

	code, ok := e.keys.Peek()
	if !ok {
		e.holding = false
		return
	}

	e.code = code
	e.active = true
	e.alarm = Key(code).IsAlarm()
	if e.alarm && !e.holding {
		e.holding = true
		e.holdStart = now
	}
}

// drive asserts the write line for module bit pos when the key has a zero
// there. The line is released again by release on the next rising edge.
func (e *encoder) drive(pos int) {
	if !e.active || pos >= keyBits {
		return
	}
	if e.code&(0x80>>pos) == 0 {
		_ = e.write.Write(true)
		e.asserted = true
	}
}

func (e *encoder) release() {
	if e.asserted {
		_ = e.write.Write(false)
		e.asserted = false
	}
}

// endFrame finishes the key driven in a completed frame. It reports the
// driven code, if any.
func (e *encoder) endFrame(now time.Duration) (byte, bool) {
	e.release()
	if !e.active {
		return 0, false
	}
	e.active = false
	code := e.code

	if e.alarm {
		if now-e.holdStart < e.alarmHold {
			return code, true
		}
		e.holding = false
		e.acked.Store(false)
		e.pendingSince = now
		e.pending.Store(true)
	}

	_, _ = e.keys.Pop()
	e.lastWrite = now
	e.hasWritten = true
	return code, true
}

// abort drops the current frame and keeps the key for the next one.
func (e *encoder) abort() {
	e.release()
	e.active = false
}

// acknowledge is called from Poll when the panel accepted an alarm key.
func (e *encoder) acknowledge() {
	if e.pending.Load() {
		e.acked.Store(true)
	}
}

func (e *encoder) responsePending() bool {
	return e.pending.Load()
}
