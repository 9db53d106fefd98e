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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPanelBeepCount(t *testing.T) {
	t.Parallel()

	assert.Zero(t, PanelBeepCount(0x00))
	assert.Equal(t, 1, PanelBeepCount(0x02))
	assert.Equal(t, 3, PanelBeepCount(0x07))
	assert.Equal(t, 127, PanelBeepCount(0xFE))
	assert.Equal(t, MaxBeepCount, PanelBeepCount(0xFF))
}

func TestPanelTone(t *testing.T) {
	t.Parallel()

	count, continuous, interval := PanelTone(0xB4)
	assert.Equal(t, 3, count)
	assert.True(t, continuous)
	assert.Equal(t, 4, interval)

	for _, status := range []byte{0x00, 0x11, 0x7F, 0x80, 0xFF, 0xB4} {
		c, cont, iv := PanelTone(status)
		assert.Equal(t, status, EncodeTone(c, cont, iv), "status %#02x", status)
	}
	assert.Equal(t, byte(0x7F), EncodeTone(20, false, 99), "fields are clamped")
}

func detectorSnap(code byte, at time.Duration) Snapshot {
	return Snapshot{Module: Frame{code, 0xFF}, Captured: at}
}

func TestKeyDetector(t *testing.T) {
	t.Parallel()

	d := keyDetector{repeat: 150 * time.Millisecond, alarmHold: time.Second}

	key, ok := d.observe(detectorSnap(byte(Key4), 0))
	assert.True(t, ok)
	assert.Equal(t, Key4, key)

	_, ok = d.observe(detectorSnap(byte(Key4), 100*time.Millisecond))
	assert.False(t, ok, "debounced")

	_, ok = d.observe(detectorSnap(0xFF, 120*time.Millisecond))
	assert.False(t, ok, "idle byte")

	key, ok = d.observe(detectorSnap(byte(Key4), 160*time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, Key4, key)

	own := detectorSnap(byte(Key9), 200*time.Millisecond)
	own.Driven = true
	own.DrivenCode = byte(Key9)
	_, ok = d.observe(own)
	assert.False(t, ok, "own key")
}

func TestKeyDetector_AlarmHold(t *testing.T) {
	t.Parallel()

	d := keyDetector{repeat: 150 * time.Millisecond, alarmHold: time.Second}

	_, ok := d.observe(detectorSnap(byte(KeyPanic), 0))
	assert.False(t, ok)
	_, ok = d.observe(detectorSnap(byte(KeyPanic), 900*time.Millisecond))
	assert.False(t, ok)

	// a release restarts the hold
	d.observe(detectorSnap(0xFF, 950*time.Millisecond))
	_, ok = d.observe(detectorSnap(byte(KeyPanic), 1000*time.Millisecond))
	assert.False(t, ok)

	key, ok := d.observe(detectorSnap(byte(KeyPanic), 2000*time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, KeyPanic, key)

	_, ok = d.observe(detectorSnap(byte(KeyPanic), 3500*time.Millisecond))
	assert.False(t, ok, "surfaced once per hold")
}

func TestDecoder_Feed(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil)
	frame := func(cmd, status, module byte, at time.Duration) Snapshot {
		return Snapshot{Command: Frame{cmd, status}, Module: Frame{module, 0xFF}, Captured: at}
	}

	ev := d.Feed(frame(CmdStatusLights, 0x01, 0xFF, 0))
	assert.Empty(t, ev.Changed, "first lights frame seeds")
	assert.Equal(t, LightOn, d.Light(IndicatorReady))

	ev = d.Feed(frame(CmdLightsBlink, 0x01, 0xFF, 26*time.Millisecond))
	assert.Equal(t, []Indicator{IndicatorReady}, ev.Changed)
	assert.Equal(t, LightBlink, d.Lights()[IndicatorReady])

	ev = d.Feed(frame(CmdBeep, 0x06, byte(Key7), 52*time.Millisecond))
	assert.Equal(t, SoundBeep, ev.Sound)
	assert.True(t, ev.HasKey)
	assert.Equal(t, Key7, ev.Key)
	assert.Nil(t, ev.Changed)

	ev = d.Feed(frame(CmdBuzzer, 0x02, byte(Key7), 78*time.Millisecond))
	assert.Equal(t, SoundBuzzer, ev.Sound)
	assert.False(t, ev.HasKey, "repeat within the debounce window")

	ev = d.Feed(frame(0x11, 0x00, 0xFF, 104*time.Millisecond))
	assert.Equal(t, SoundNone, ev.Sound)
}
