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

import "sync/atomic"

// KeyBuffer is a fixed-capacity single-producer single-consumer ring of key
// codes. The producer (application) only advances tail and the consumer (key
// encoder) only advances head, so neither side ever blocks.
type KeyBuffer struct {
	buf      []byte
	head     atomic.Uint64
	tail     atomic.Uint64
	overflow atomic.Bool
}

// NewKeyBuffer creates a buffer holding up to capacity codes.
func NewKeyBuffer(capacity int) *KeyBuffer {
	if capacity <= 0 {
		capacity = MemorySmall.KeyBufferSize()
	}
	return &KeyBuffer{buf: make([]byte, capacity)}
}

// Push enqueues a code. When the buffer is full the code is discarded, the
// sticky overflow flag is raised and Push returns false.
func (b *KeyBuffer) Push(code byte) bool {
	tail := b.tail.Load()
	if tail-b.head.Load() >= uint64(len(b.buf)) {
		b.overflow.Store(true)
		return false
	}
	b.buf[tail%uint64(len(b.buf))] = code
	b.tail.Store(tail + 1)
	return true
}

// Peek returns the oldest code without removing it. Consumer side only.
func (b *KeyBuffer) Peek() (byte, bool) {
	head := b.head.Load()
	if head == b.tail.Load() {
		return 0, false
	}
	return b.buf[head%uint64(len(b.buf))], true
}

// Pop removes and returns the oldest code. Consumer side only.
func (b *KeyBuffer) Pop() (byte, bool) {
	head := b.head.Load()
	if head == b.tail.Load() {
		return 0, false
	}
	code := b.buf[head%uint64(len(b.buf))]
	b.head.Store(head + 1)
	return code, true
}

// Len returns the number of queued codes.
func (b *KeyBuffer) Len() int {
	head := b.head.Load()
	return int(b.tail.Load() - head)
}

// Cap returns the fixed capacity.
func (b *KeyBuffer) Cap() int {
	return len(b.buf)
}

// Overflow reports whether a push has ever been rejected.
func (b *KeyBuffer) Overflow() bool {
	return b.overflow.Load()
}

// ClearOverflow resets the overflow flag and returns its previous value.
func (b *KeyBuffer) ClearOverflow() bool {
	return b.overflow.Swap(false)
}
