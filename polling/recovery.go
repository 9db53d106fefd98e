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

package polling

import (
	"context"
	"errors"
	"io"

	"github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/internal/syncutil"
)

// Recoverer restores bus monitoring after the panel goes quiet or the host
// wakes from sleep.
type Recoverer interface {
	// AttemptRecovery tries to re-arm bus sampling. Returns nil on success.
	AttemptRecovery(ctx context.Context) error
}

// Restarter is the part of *keybus.Keypad a recoverer restarts.
type Restarter interface {
	Start(trace io.Writer) error
	Stop() error
	Started() bool
}

// ReinitFunc re-initializes the platform before a restart, for example
// after the GPIO chip was re-enumerated.
type ReinitFunc func(ctx context.Context) error

// DefaultRecoverer implements a tiered recovery strategy:
// 1. Re-arm the edge handler with Stop and Start
// 2. Re-initialize the platform through the optional ReinitFunc, then restart
type DefaultRecoverer struct {
	keypad Restarter
	trace  io.Writer
	reinit ReinitFunc
	retry  *keybus.RetryConfig
	mu     syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer. A nil retry config uses
// keybus.RestartRetryConfig; trace is handed to Start.
func NewDefaultRecoverer(
	keypad Restarter,
	trace io.Writer,
	reinit ReinitFunc,
	retry *keybus.RetryConfig,
) *DefaultRecoverer {
	if retry == nil {
		retry = keybus.RestartRetryConfig()
	}
	return &DefaultRecoverer{
		keypad: keypad,
		trace:  trace,
		reinit: reinit,
		retry:  retry,
	}
}

// RecovererFromConfig builds a DefaultRecoverer whose attempts and backoff
// follow cfg.
func RecovererFromConfig(keypad Restarter, trace io.Writer, reinit ReinitFunc, cfg RecoveryConfig) *DefaultRecoverer {
	retry := keybus.RestartRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.Backoff > 0 {
		retry.InitialBackoff = cfg.Backoff
	}
	return NewDefaultRecoverer(keypad, trace, reinit, retry)
}

// AttemptRecovery restarts the keypad with backoff. The first attempt only
// re-arms; later attempts re-initialize the platform first.
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt := 0
	return keybus.RetryWithConfig(ctx, r.retry, func() error {
		attempt++
		if r.keypad.Started() {
			if err := r.keypad.Stop(); err != nil && !errors.Is(err, keybus.ErrNotStarted) {
				keybus.Debugf("recovery: stop failed: %v", err)
			}
		}

		if attempt > 1 && r.reinit != nil {
			if err := r.reinit(ctx); err != nil {
				if keybus.IsFatal(err) {
					return err
				}
				return keybus.NewPinError("reinit", "", err, keybus.ErrorTypeTransient)
			}
		}

		if err := r.keypad.Start(r.trace); err != nil {
			return err
		}
		keybus.Debugf("recovery: keypad restarted after %d attempt(s)", attempt)
		return nil
	})
}
