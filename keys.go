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
	"fmt"
	"unicode"
)

// Key is a Classic keypad wire code as it appears in the first module byte.
type Key byte

// Classic keypad wire codes
const (
	Key0     Key = 0xD7
	Key1     Key = 0xBE
	Key2     Key = 0xDE
	Key3     Key = 0xEE
	Key4     Key = 0xBD
	Key5     Key = 0xDD
	Key6     Key = 0xED
	Key7     Key = 0xBB
	Key8     Key = 0xDB
	Key9     Key = 0xEB
	KeyStar  Key = 0xB7
	KeyHash  Key = 0xE7
	KeyFire  Key = 0x3F
	KeyAux   Key = 0x5F
	KeyPanic Key = 0x6F

	// KeyNone is the idle module byte.
	KeyNone Key = 0xFF
)

type keyInfo struct {
	name  string
	r     rune
	value byte
}

// keyTable maps wire codes to the printable key and to the panel key value
// used by PowerSeries-style consumers.
var keyTable = map[Key]keyInfo{
	Key0:     {r: '0', value: 0x00},
	Key1:     {r: '1', value: 0x05},
	Key2:     {r: '2', value: 0x0A},
	Key3:     {r: '3', value: 0x0F},
	Key4:     {r: '4', value: 0x11},
	Key5:     {r: '5', value: 0x16},
	Key6:     {r: '6', value: 0x1B},
	Key7:     {r: '7', value: 0x1C},
	Key8:     {r: '8', value: 0x22},
	Key9:     {r: '9', value: 0x27},
	KeyStar:  {r: '*', value: 0x28},
	KeyHash:  {r: '#', value: 0x2D},
	KeyFire:  {r: 'f', value: 0x0B, name: "fire"},
	KeyAux:   {r: 'a', value: 0x0D, name: "aux"},
	KeyPanic: {r: 'p', value: 0x0E, name: "panic"},
}

// KeyForRune returns the wire code for a printable key. Digits, '*' and
// '#' map directly; 'f', 'a' and 'p' (either case) select the fire, aux and
// panic alarm keys.
func KeyForRune(r rune) (Key, bool) {
	r = unicode.ToLower(r)
	for k, info := range keyTable {
		if info.r == r {
			return k, true
		}
	}
	return KeyNone, false
}

// ParseKey validates a module byte as a known key.
func ParseKey(code byte) (Key, bool) {
	k := Key(code)
	_, ok := keyTable[k]
	return k, ok
}

// Known reports whether the code is in the Classic key table.
func (k Key) Known() bool {
	_, ok := keyTable[k]
	return ok
}

// IsAlarm reports whether the key is one of the fire, aux or panic keys,
// which the panel only accepts after a sustained press.
func (k Key) IsAlarm() bool {
	return k == KeyFire || k == KeyAux || k == KeyPanic
}

// Rune returns the printable key, or 0 for unknown codes.
func (k Key) Rune() rune {
	return keyTable[k].r
}

// Value returns the panel key value, or 0xFF for unknown codes.
func (k Key) Value() byte {
	if info, ok := keyTable[k]; ok {
		return info.value
	}
	return 0xFF
}

func (k Key) String() string {
	info, ok := keyTable[k]
	switch {
	case !ok:
		return fmt.Sprintf("0x%02X", byte(k))
	case info.name != "":
		return info.name
	default:
		return string(info.r)
	}
}
