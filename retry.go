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
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	// OnRetry, when set, is called before each wait with the attempt that
	// just failed (starting at 1), its error and the wait ahead.
	OnRetry func(attempt int, err error, wait time.Duration)
	// MaxAttempts is the maximum number of attempts (0 = no retry)
	MaxAttempts int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which the backoff increases
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the backoff at random
	Jitter float64
	// RetryTimeout is the overall timeout for all retry attempts
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      5 * time.Second,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// RetryWithConfig runs fn until it succeeds, returns an error that is not
// retryable or fatal, or the attempts or timeout run out. The last error
// seen is returned in preference to a context error.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return fn()
	}

	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	var lastErr error
	backoff := config.InitialBackoff
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return orContextErr(ctx, lastErr)
		}

		err := fn()
		if err == nil {
			return nil
		}
		if IsFatal(err) || !IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt == config.MaxAttempts {
			break
		}

		wait := calculateJitteredSleep(backoff, config.Jitter)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, wait)
		}
		Debugf("attempt %d/%d failed: %v (retrying after %v)", attempt, config.MaxAttempts, err, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
		backoff = calculateNextBackoff(backoff, config)
	}

	return lastErr
}

func orContextErr(ctx context.Context, lastErr error) error {
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("retry context cancelled: %w", ctx.Err())
}

func calculateNextBackoff(backoff time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(backoff) * config.BackoffMultiplier)
	if next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return next
}

// calculateJitteredSleep adds up to jitterFactor of baseSleep at random.
func calculateJitteredSleep(baseSleep time.Duration, jitterFactor float64) time.Duration {
	spread := int64(float64(baseSleep) * jitterFactor)
	if spread <= 0 {
		return baseSleep
	}
	return baseSleep + time.Duration(rand.Int64N(spread)) //nolint:gosec // backoff jitter, not crypto
}
