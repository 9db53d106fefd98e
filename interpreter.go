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

// Panel command bytes understood by the interpreter
const (
	CmdStatusLights = 0x05 // status byte carries Ready..Backlight
	CmdZoneLights   = 0x27 // status byte carries zones 1-8
	CmdLightsBlink  = 0x5D // status byte is the blink mask for the lights
	CmdZonesBlink   = 0x5E // status byte is the blink mask for the zones
	CmdBeep         = 0x64
	CmdTone         = 0x75
	CmdBuzzer       = 0x7F
)

// PanelBeepCount decodes the status byte of a beep command.
func PanelBeepCount(status byte) int {
	if status == 0xFF {
		return MaxBeepCount
	}
	return int(status) / 2
}

// PanelTone decodes the status byte of a tone command: bit 7 continuous,
// bits 6-4 count, bits 3-0 interval.
func PanelTone(status byte) (count int, continuous bool, interval int) {
	return int(status>>4) & 0x07, status&0x80 != 0, int(status & 0x0F)
}

// EncodeTone is the inverse of PanelTone.
func EncodeTone(count int, continuous bool, interval int) byte {
	b := byte(max(0, min(count, MaxToneCount)))<<4 | byte(max(0, min(interval, MaxToneInterval)))
	if continuous {
		b |= 0x80
	}
	return b
}

// keyDetector surfaces keys pressed on other keypads from module bytes.
type keyDetector struct {
	lastAt        time.Duration
	alarmSince    time.Duration
	repeat        time.Duration
	alarmHold     time.Duration
	last          byte
	alarmCode     byte
	haveLast      bool
	alarmTracking bool
	alarmSurfaced bool
}

// observe returns a key when the module byte reports a new press.
func (d *keyDetector) observe(snap Snapshot) (Key, bool) {
	code := snap.Module[0]
	if code == frame.IdleByte || (snap.Driven && code == snap.DrivenCode) {
		d.alarmTracking = false
		return KeyNone, false
	}

	if Key(code).IsAlarm() {
		if !d.alarmTracking || d.alarmCode != code {
			d.alarmTracking = true
			d.alarmCode = code
			d.alarmSince = snap.Captured
			d.alarmSurfaced = false
		}
		if d.alarmSurfaced || snap.Captured-d.alarmSince < d.alarmHold {
			return KeyNone, false
		}
		d.alarmSurfaced = true
		return d.surface(code, snap.Captured), true
	}
	d.alarmTracking = false

	if d.haveLast && code == d.last && snap.Captured-d.lastAt < d.repeat {
		return KeyNone, false
	}
	return d.surface(code, snap.Captured), true
}

func (d *keyDetector) surface(code byte, at time.Duration) Key {
	d.last = code
	d.lastAt = at
	d.haveLast = true
	return Key(code)
}

// applyLightCommand feeds a lights or zones command to ld. It reports false
// for other commands.
func applyLightCommand(ld *LightDecoder, cmd, status byte) ([]Indicator, bool) {
	switch cmd {
	case CmdStatusLights:
		return ld.ApplyStatus(status), true
	case CmdLightsBlink:
		return ld.ApplyStatusBlink(status), true
	case CmdZoneLights:
		return ld.ApplyZones(status), true
	case CmdZonesBlink:
		return ld.ApplyZonesBlink(status), true
	default:
		return nil, false
	}
}

// soundCommand maps a sounder command to the kind it requests.
func soundCommand(cmd byte) Sound {
	switch cmd {
	case CmdBeep:
		return SoundBeep
	case CmdTone:
		return SoundTone
	case CmdBuzzer:
		return SoundBuzzer
	default:
		return SoundNone
	}
}

// interpretLocked decodes a freshly polled snapshot. Called with loopMu held.
func (k *Keypad) interpretLocked(now time.Duration, snap Snapshot) {
	cmd, status := snap.Command.Command(), snap.Command.Status()
	k.changed, _ = applyLightCommand(&k.lights, cmd, status)

	if k.cfg.PanelSounds {
		switch soundCommand(cmd) {
		case SoundBeep:
			k.beepAt(now, PanelBeepCount(status))
		case SoundTone:
			count, continuous, interval := PanelTone(status)
			k.snd.request(now, newTone(count, continuous, interval))
		case SoundBuzzer:
			k.buzzerAt(now, int(status))
		case SoundNone:
		}
	}

	if key, ok := k.detector.observe(snap); ok {
		k.key = key
		k.keyReady = true
	}

	if k.cfg.AlarmAcknowledged != nil && k.enc.responsePending() && k.cfg.AlarmAcknowledged(snap) {
		k.enc.acknowledge()
		Debugf("alarm key acknowledged by frame %d", snap.Seq)
	}
}

// Event is what a Decoder found in one frame.
type Event struct {
	Changed []Indicator
	Key     Key
	HasKey  bool
	// Sound is the kind the panel requested in this frame, if any.
	Sound Sound
}

// Decoder interprets frames without a bus, for example when replaying a
// capture. It applies the same light and key rules as a Keypad.
type Decoder struct {
	lights   LightDecoder
	detector keyDetector
}

// NewDecoder returns a decoder using the key timings of cfg. A nil cfg
// uses DefaultConfig.
func NewDecoder(cfg *Config) *Decoder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Decoder{
		detector: keyDetector{repeat: cfg.KeyRepeatInterval, alarmHold: cfg.AlarmKeyHold},
	}
}

// Feed decodes snap. Snapshots must be fed in capture order.
func (d *Decoder) Feed(snap Snapshot) Event {
	cmd := snap.Command.Command()
	var ev Event
	ev.Changed, _ = applyLightCommand(&d.lights, cmd, snap.Command.Status())
	ev.Sound = soundCommand(cmd)
	ev.Key, ev.HasKey = d.detector.observe(snap)
	return ev
}

// Light returns the decoded state of one indicator.
func (d *Decoder) Light(i Indicator) Light {
	return d.lights.Light(i)
}

// Lights returns all decoded indicators.
func (d *Decoder) Lights() [IndicatorCount]Light {
	return d.lights.Lights()
}
