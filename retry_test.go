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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Microsecond,
		MaxBackoff:        10 * time.Microsecond,
		BackoffMultiplier: 2.0,
		RetryTimeout:      time.Second,
	}
}

func TestRetryConfig_DefaultRetryConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()

	assert.Positive(t, config.MaxAttempts)
	assert.Greater(t, config.MaxBackoff, config.InitialBackoff)
	assert.Greater(t, config.BackoffMultiplier, 1.0)
	assert.GreaterOrEqual(t, config.Jitter, 0.0)
	assert.LessOrEqual(t, config.Jitter, 1.0)
	assert.Greater(t, config.RetryTimeout, time.Duration(0))
}

func TestCalculateNextBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		current  time.Duration
		mult     float64
		max      time.Duration
		expected time.Duration
	}{
		{"doubles", 100 * time.Millisecond, 2.0, 5 * time.Second, 200 * time.Millisecond},
		{"capped", 3 * time.Second, 2.0, 5 * time.Second, 5 * time.Second},
		{"fractional multiplier", 200 * time.Millisecond, 1.5, 10 * time.Second, 300 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			config := &RetryConfig{BackoffMultiplier: tt.mult, MaxBackoff: tt.max}
			assert.Equal(t, tt.expected, calculateNextBackoff(tt.current, config))
		})
	}
}

func TestCalculateJitteredSleep(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	assert.Equal(t, base, calculateJitteredSleep(base, 0))

	for range 200 {
		sleep := calculateJitteredSleep(base, 0.5)
		assert.GreaterOrEqual(t, sleep, base)
		assert.Less(t, sleep, base+50*time.Millisecond)
	}
}

func TestRetryWithConfig(t *testing.T) {
	t.Parallel()

	transient := NewPinWriteError("write", "GPIO21", errors.New("busy"))
	permanent := NewPinNotFoundError("open", "GPIO99")

	tests := []struct {
		name      string
		errs      []error
		attempts  int
		wantErr   error
		wantCalls int
	}{
		{name: "first attempt", errs: []error{nil}, attempts: 3, wantCalls: 1},
		{name: "after transient", errs: []error{transient, transient, nil}, attempts: 3, wantCalls: 3},
		{name: "exhausted", errs: []error{transient, transient, transient, nil}, attempts: 3, wantErr: ErrPinWrite, wantCalls: 3},
		{name: "fatal stops", errs: []error{permanent, nil}, attempts: 3, wantErr: ErrPinNotFound, wantCalls: 1},
		{name: "plain error stops", errs: []error{ErrUnknownKey, nil}, attempts: 3, wantErr: ErrUnknownKey, wantCalls: 1},
		{name: "no retry", errs: []error{transient, nil}, attempts: 0, wantErr: ErrPinWrite, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := RetryWithConfig(context.Background(), fastRetryConfig(tt.attempts), func() error {
				err := tt.errs[calls]
				calls++
				return err
			})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestRetryWithConfig_OnRetry(t *testing.T) {
	t.Parallel()

	config := fastRetryConfig(3)
	var attempts []int
	config.OnRetry = func(attempt int, err error, wait time.Duration) {
		attempts = append(attempts, attempt)
		assert.ErrorIs(t, err, ErrBusSilent)
		assert.Positive(t, wait)
	}

	err := RetryWithConfig(context.Background(), config, func() error {
		return NewBusSilentError("restart", "GPIO18")
	})
	require.ErrorIs(t, err, ErrBusSilent)
	assert.Equal(t, []int{1, 2}, attempts, "no wait after the last attempt")
}

func TestRetryWithConfig_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithConfig(ctx, fastRetryConfig(5), func() error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)

	config := fastRetryConfig(5)
	config.InitialBackoff = time.Hour
	config.MaxBackoff = time.Hour
	config.RetryTimeout = 20 * time.Millisecond

	err = RetryWithConfig(context.Background(), config, func() error {
		return NewBusSilentError("restart", "GPIO18")
	})
	require.ErrorIs(t, err, ErrBusSilent, "last error wins over the timeout")
}
