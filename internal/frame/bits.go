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

package frame

import "strings"

// SetBit stores a bus bit at the given frame position. Bits are sent most
// significant first, so position 0 is bit 7 of byte 0. Positions outside the
// buffer are ignored.
func SetBit(buf []byte, pos int, high bool) {
	idx := pos / 8
	if pos < 0 || idx >= len(buf) {
		return
	}
	mask := byte(0x80) >> (pos % 8)
	if high {
		buf[idx] |= mask
	} else {
		buf[idx] &^= mask
	}
}

// Bit returns the bus bit at the given frame position.
func Bit(buf []byte, pos int) bool {
	idx := pos / 8
	if pos < 0 || idx >= len(buf) {
		return false
	}
	return buf[idx]&(byte(0x80)>>(pos%8)) != 0
}

// Binary formats a byte as eight 0/1 characters, most significant first.
func Binary(b byte) string {
	var out [8]byte
	for i := range out {
		if b&(0x80>>i) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out[:])
}

// FormatBinary formats bytes as space-separated binary groups.
func FormatBinary(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = Binary(b)
	}
	return strings.Join(parts, " ")
}
