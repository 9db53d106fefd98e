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
	"context"
	"errors"
	"fmt"
	"time"
)

// KeyWriter is implemented by Keypad.
type KeyWriter interface {
	WriteKeys(s string) (int, error)
}

// WriteKeysWithRetry queues every key of s, waiting with backoff while the
// key buffer is full. A key string longer than the buffer is queued as the
// encoder drains it. Errors other than a full buffer are returned at once.
func WriteKeysWithRetry(ctx context.Context, w KeyWriter, s string, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = KeyWriteMaxRetries
	}

	retryDelays := []time.Duration{
		KeyWriteRetryDelay1,
		KeyWriteRetryDelay2,
		KeyWriteRetryDelay3,
	}

	remaining := []rune(s)
	retries := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := w.WriteKeys(string(remaining))
		remaining = remaining[min(len(remaining), runeCountSkipped(remaining, n)):]
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrKeyBufferFull) {
			return err
		}
		if n > 0 {
			retries = 0
		}
		if retries >= maxRetries {
			return fmt.Errorf("failed to queue %d keys after %d retries: %w", len(remaining), maxRetries, err)
		}

		delay := retryDelays[len(retryDelays)-1]
		if retries < len(retryDelays) {
			delay = retryDelays[retries]
		}
		retries++
		Debugf("key buffer full, %d keys left (retrying after %v)", len(remaining), delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runeCountSkipped returns how many runes of s cover the first n queued
// keys, counting skipped whitespace.
func runeCountSkipped(s []rune, n int) int {
	i := 0
	for ; i < len(s) && n > 0; i++ {
		if !isKeySpace(s[i]) {
			n--
		}
	}
	return i
}
