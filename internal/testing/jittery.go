// go-keybus
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-keybus.
//
// go-keybus is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-keybus is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-keybus; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package testing

import (
	"math/rand/v2"
	"time"
)

// JitterConfig configures clock skew injected by VirtualPanel.
type JitterConfig struct {
	// MaxSkew is the largest extra delay added to one clock half period.
	MaxSkew time.Duration
	// MaxGapSkew is the largest extra delay added to the idle gap between
	// frames.
	MaxGapSkew time.Duration
	// Seed makes the skew sequence reproducible. Zero picks a random seed.
	Seed uint64
}

// DefaultJitterConfig returns skew well inside the default silence timeout.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxSkew:    300 * time.Microsecond,
		MaxGapSkew: 5 * time.Millisecond,
	}
}

// skewSource produces reproducible timing noise.
type skewSource struct {
	rng    *rand.Rand
	config JitterConfig
}

func newSkewSource(config JitterConfig) *skewSource {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}
	return &skewSource{rng: rng, config: config}
}

// halfPeriod returns base plus a random skew up to MaxSkew.
func (s *skewSource) halfPeriod(base time.Duration) time.Duration {
	if s == nil {
		return base
	}
	return base + s.skew(s.config.MaxSkew)
}

// gap returns base plus a random skew up to MaxGapSkew.
func (s *skewSource) gap(base time.Duration) time.Duration {
	if s == nil {
		return base
	}
	return base + s.skew(s.config.MaxGapSkew)
}

func (s *skewSource) skew(maxSkew time.Duration) time.Duration {
	if maxSkew <= 0 {
		return 0
	}
	return time.Duration(s.rng.Int64N(int64(maxSkew) + 1))
}
