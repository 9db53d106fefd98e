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

// The clock idles high between frames. Each of the 16 cycles of a frame is
// a falling edge, on which keypads write and the module bit is sampled,
// followed by a rising edge, on which the panel bit is sampled. Nothing in
// this file may log, block or allocate.

// onClockEdge is the edge handler registered on the clock pin.
func (k *Keypad) onClockEdge(high bool) {
	now := k.platform.Now()

	k.isrMu.Lock()
	if k.seenEdge && now-k.lastEdge > k.cfg.SilenceTimeout {
		k.resetFrameLocked()
	}
	k.lastEdge = now
	k.seenEdge = true
	if k.countdown != nil {
		k.countdown.Reset(k.cfg.SilenceTimeout)
	}

	if high {
		k.risingEdgeLocked(now)
	} else {
		k.fallingEdgeLocked(now)
	}
	k.isrMu.Unlock()

	k.snd.tick(now)
}

func (k *Keypad) fallingEdgeLocked(now time.Duration) {
	if k.moduleBits >= frame.Bits {
		return
	}
	if !k.inFrame {
		k.inFrame = true
		k.enc.beginFrame(now, k.cfg.AlarmAcknowledged != nil)
	}
	k.enc.drive(k.moduleBits)
	frame.SetBit(k.mod[:], k.moduleBits, k.read.Read())
	k.moduleBits++
}

func (k *Keypad) risingEdgeLocked(now time.Duration) {
	k.enc.release()
	if !k.inFrame || k.panelBits >= k.moduleBits {
		return
	}
	frame.SetBit(k.cmd[:], k.panelBits, k.read.Read())
	k.panelBits++
	if k.panelBits < frame.Bits {
		return
	}

	code, driven := k.enc.endFrame(now)
	k.seq++
	snap := Snapshot{
		Command:    k.cmd,
		Module:     k.mod,
		Captured:   now,
		Seq:        k.seq,
		DrivenCode: code,
		Driven:     driven,
	}

	k.shared.Lock()
	k.published = snap
	k.shared.Unlock()

	k.clearCursorsLocked()
}

// onSilence is the countdown callback. A stale callback racing a fresh edge
// finds lastEdge recent and does nothing.
func (k *Keypad) onSilence() {
	now := k.platform.Now()
	k.isrMu.Lock()
	if now-k.lastEdge >= k.cfg.SilenceTimeout {
		k.resetFrameLocked()
	}
	k.isrMu.Unlock()
}

// resetFrameLocked discards a partial frame.
func (k *Keypad) resetFrameLocked() {
	if k.inFrame {
		k.enc.abort()
	}
	k.clearCursorsLocked()
}

func (k *Keypad) clearCursorsLocked() {
	k.moduleBits = 0
	k.panelBits = 0
	k.inFrame = false
	k.cmd = Frame{}
	k.mod = Frame{}
}
