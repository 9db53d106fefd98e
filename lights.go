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

import "fmt"

// Light is the state of one keypad indicator.
type Light uint8

const (
	LightOff Light = iota
	LightOn
	LightBlink
)

func (l Light) String() string {
	switch l {
	case LightOff:
		return "off"
	case LightOn:
		return "on"
	case LightBlink:
		return "blink"
	default:
		return fmt.Sprintf("Light(%d)", uint8(l))
	}
}

// Indicator identifies a keypad light. The first eight follow the bit order
// of the status byte, the last eight the bit order of the zone byte.
type Indicator uint8

const (
	IndicatorReady Indicator = iota
	IndicatorArmed
	IndicatorMemory
	IndicatorBypass
	IndicatorTrouble
	IndicatorProgram
	IndicatorFire
	IndicatorBacklight
	IndicatorZone1
	IndicatorZone2
	IndicatorZone3
	IndicatorZone4
	IndicatorZone5
	IndicatorZone6
	IndicatorZone7
	IndicatorZone8

	// IndicatorCount is the number of indicators.
	IndicatorCount = 16
)

var indicatorNames = [IndicatorCount]string{
	"ready", "armed", "memory", "bypass", "trouble", "program", "fire", "backlight",
	"zone1", "zone2", "zone3", "zone4", "zone5", "zone6", "zone7", "zone8",
}

func (i Indicator) String() string {
	if int(i) < IndicatorCount {
		return indicatorNames[i]
	}
	return fmt.Sprintf("Indicator(%d)", uint8(i))
}

// IsZone reports whether the indicator is a zone light.
func (i Indicator) IsZone() bool {
	return i >= IndicatorZone1 && int(i) < IndicatorCount
}

// ParseIndicator looks an indicator up by its String name.
func ParseIndicator(name string) (Indicator, bool) {
	for i, n := range indicatorNames {
		if n == name {
			return Indicator(i), true
		}
	}
	return 0, false
}

// LightFor applies the decoding rule to a single status/blink bit pair.
func LightFor(status, blink bool) Light {
	switch {
	case !status:
		return LightOff
	case blink:
		return LightBlink
	default:
		return LightOn
	}
}

// LightDecoder turns status, zone and blink bytes into indicator states.
// Each group (status lights, zones) is seeded by its first lights byte,
// which reports no changes. A blink byte seen before that only records the
// mask. It is not safe for concurrent use.
type LightDecoder struct {
	lights       [IndicatorCount]Light
	status       byte
	blink        byte
	zones        byte
	zonesBlink   byte
	statusSeeded bool
	zonesSeeded  bool
}

// ApplyStatus decodes a new status lights byte against the current blink byte.
func (d *LightDecoder) ApplyStatus(status byte) []Indicator {
	d.status = status
	changed := d.apply(IndicatorReady, d.status, d.blink, d.statusSeeded)
	d.statusSeeded = true
	return changed
}

// ApplyStatusBlink decodes a new blink byte against the current status byte.
func (d *LightDecoder) ApplyStatusBlink(blink byte) []Indicator {
	d.blink = blink
	return d.apply(IndicatorReady, d.status, d.blink, d.statusSeeded)
}

// ApplyZones decodes a new zone lights byte.
func (d *LightDecoder) ApplyZones(zones byte) []Indicator {
	d.zones = zones
	changed := d.apply(IndicatorZone1, d.zones, d.zonesBlink, d.zonesSeeded)
	d.zonesSeeded = true
	return changed
}

// ApplyZonesBlink decodes a new zone blink byte.
func (d *LightDecoder) ApplyZonesBlink(blink byte) []Indicator {
	d.zonesBlink = blink
	return d.apply(IndicatorZone1, d.zones, d.zonesBlink, d.zonesSeeded)
}

func (d *LightDecoder) apply(first Indicator, status, blink byte, report bool) []Indicator {
	var changed []Indicator
	for bit := range 8 {
		mask := byte(1) << bit
		ind := first + Indicator(bit)
		next := LightFor(status&mask != 0, blink&mask != 0)
		if report && d.lights[ind] != next {
			changed = append(changed, ind)
		}
		d.lights[ind] = next
	}
	return changed
}

// Light returns the current state of an indicator.
func (d *LightDecoder) Light(i Indicator) Light {
	if int(i) >= IndicatorCount {
		return LightOff
	}
	return d.lights[i]
}

// Lights returns all indicator states.
func (d *LightDecoder) Lights() [IndicatorCount]Light {
	return d.lights
}

// Seeded reports whether a status or zone lights byte has been applied.
func (d *LightDecoder) Seeded() bool {
	return d.statusSeeded || d.zonesSeeded
}

// Reset returns the decoder to its start-up state.
func (d *LightDecoder) Reset() {
	*d = LightDecoder{}
}
