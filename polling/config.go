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

import "time"

// RecoveryConfig configures re-arming the keypad after the bus goes quiet or
// the host wakes from sleep.
type RecoveryConfig struct {
	// Enabled enables recovery attempts
	Enabled bool

	// SleepThreshold is the minimum elapsed time beyond the expected poll
	// interval that indicates the host slept. Default: 2 seconds
	SleepThreshold time.Duration

	// MaxAttempts is the number of restart attempts per recovery. Default: 3
	MaxAttempts int

	// Backoff is the initial delay between restart attempts
	Backoff time.Duration
}

// DefaultRecoveryConfig returns sensible defaults for recovery
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Enabled:        true,
		SleepThreshold: 2 * time.Second,
		MaxAttempts:    3,
		Backoff:        100 * time.Millisecond,
	}
}

// DetectSleep checks if the elapsed time since the last poll indicates a
// system sleep: elapsed exceeds pollInterval + SleepThreshold.
func (cfg RecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	return elapsed > pollInterval+cfg.SleepThreshold
}

// Config holds session options
type Config struct {
	// PollInterval is how often the keypad is polled. It should be well
	// under the panel's frame spacing so no frame is missed.
	PollInterval time.Duration
	// TraceSize is how many frame halves are kept for bus-lost errors.
	TraceSize int
	// Recovery configures automatic keypad restarts
	Recovery RecoveryConfig
}

// DefaultConfig returns the default session configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 5 * time.Millisecond,
		TraceSize:    16,
		Recovery:     DefaultRecoveryConfig(),
	}
}
