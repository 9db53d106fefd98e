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

import "time"

// Restart retry constants control how the keypad is re-armed after the bus
// goes silent.
const (
	// DefaultRestartRetries is the number of attempts to re-arm the keypad.
	DefaultRestartRetries = 3
	// RestartInitialBackoff is the initial delay between restart attempts.
	RestartInitialBackoff = 100 * time.Millisecond
	// RestartMaxBackoff is the maximum delay between restart attempts.
	RestartMaxBackoff = 2 * time.Second
	// RestartBackoffMultiplier is the exponential backoff multiplier.
	RestartBackoffMultiplier = 2.0
	// RestartJitter is the random jitter factor (0.0-1.0).
	RestartJitter = 0.1
	// RestartRetryTimeout is the overall timeout for all restart attempts.
	RestartRetryTimeout = 10 * time.Second
)

// Key write retry constants control waiting for room in the key buffer.
// Uses 2x exponential backoff: 50ms → 100ms → 200ms.
const (
	// KeyWriteMaxRetries is the number of times a full buffer is waited on.
	KeyWriteMaxRetries = 5
	// KeyWriteRetryDelay1 is the delay before the first retry.
	KeyWriteRetryDelay1 = 50 * time.Millisecond
	// KeyWriteRetryDelay2 is the delay before the second retry.
	KeyWriteRetryDelay2 = 100 * time.Millisecond
	// KeyWriteRetryDelay3 is the delay before later retries.
	KeyWriteRetryDelay3 = 200 * time.Millisecond
)

// RestartRetryConfig returns the retry configuration used to re-arm a keypad.
func RestartRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultRestartRetries,
		InitialBackoff:    RestartInitialBackoff,
		MaxBackoff:        RestartMaxBackoff,
		BackoffMultiplier: RestartBackoffMultiplier,
		Jitter:            RestartJitter,
		RetryTimeout:      RestartRetryTimeout,
	}
}
