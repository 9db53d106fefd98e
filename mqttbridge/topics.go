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

package mqttbridge

import (
	"strings"

	"github.com/ZaparooProject/go-keybus"
)

// Topics builds the bridge's topic names under a prefix.
//
//	keybus/lights/ready     retained light state
//	keybus/key              keys pressed on other keypads
//	keybus/frame            raw frames, when enabled
//	keybus/status           bridge and bus status, retained
//	keybus/keys/set         keys to write, e.g. "1234#"
//	keybus/beep/set         beep count
//	keybus/tone/set         {"count":2,"continuous":true,"interval":4}
//	keybus/buzzer/set       buzzer seconds
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	prefix := strings.TrimSuffix(t.Prefix, "/")
	if prefix == "" {
		prefix = "keybus"
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// Light returns the state topic of one indicator.
func (t Topics) Light(ind keybus.Indicator) string {
	return t.join("lights", ind.String())
}

// Key returns the topic keys from other keypads are published on.
func (t Topics) Key() string { return t.join("key") }

// Frame returns the raw frame topic.
func (t Topics) Frame() string { return t.join("frame") }

// Status returns the bridge status topic.
func (t Topics) Status() string { return t.join("status") }

// KeysSet returns the command topic for writing keys.
func (t Topics) KeysSet() string { return t.join("keys", "set") }

// BeepSet returns the command topic for beeps.
func (t Topics) BeepSet() string { return t.join("beep", "set") }

// ToneSet returns the command topic for tones.
func (t Topics) ToneSet() string { return t.join("tone", "set") }

// BuzzerSet returns the command topic for the buzzer.
func (t Topics) BuzzerSet() string { return t.join("buzzer", "set") }
