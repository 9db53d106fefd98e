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

// Restart backoff must fit several attempts inside the overall timeout.
func TestRetryConstants_Restart(t *testing.T) {
	t.Parallel()

	assert.GreaterOrEqual(t, DefaultRestartRetries, 1)
	assert.LessOrEqual(t, DefaultRestartRetries, 10)
	assert.Greater(t, RestartMaxBackoff, RestartInitialBackoff)
	assert.GreaterOrEqual(t, RestartBackoffMultiplier, 1.5)
	assert.LessOrEqual(t, RestartJitter, 0.5)

	var total time.Duration
	backoff := RestartInitialBackoff
	for range DefaultRestartRetries - 1 {
		total += backoff
		backoff = min(time.Duration(float64(backoff)*RestartBackoffMultiplier), RestartMaxBackoff)
	}
	assert.Less(t, total, RestartRetryTimeout)
}

func TestRetryConstants_RestartRetryConfig(t *testing.T) {
	t.Parallel()

	config := RestartRetryConfig()
	assert.Equal(t, DefaultRestartRetries, config.MaxAttempts)
	assert.Equal(t, RestartInitialBackoff, config.InitialBackoff)
	assert.Equal(t, RestartRetryTimeout, config.RetryTimeout)
	assert.Nil(t, config.OnRetry)
}

// Key write delays grow and the first one covers at least one key interval.
func TestRetryConstants_KeyWrite(t *testing.T) {
	t.Parallel()

	assert.GreaterOrEqual(t, KeyWriteRetryDelay1, DefaultConfig().KeyInterval)
	assert.Greater(t, KeyWriteRetryDelay2, KeyWriteRetryDelay1)
	assert.Greater(t, KeyWriteRetryDelay3, KeyWriteRetryDelay2)
	assert.Positive(t, KeyWriteMaxRetries)
}
