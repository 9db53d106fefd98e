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
	"io"
	"testing"
	"time"

	ktesting "github.com/ZaparooProject/go-keybus/internal/testing"
	"github.com/stretchr/testify/require"
)

// simPlatform adapts the virtual panel to the Platform interface.
type simPlatform struct {
	panel *ktesting.VirtualPanel
	// plain lists pins returned without their edge and duty capabilities.
	plain map[string]bool
}

func (s *simPlatform) Now() time.Duration {
	return s.panel.Now()
}

func (s *simPlatform) Pin(name string) (Pin, error) {
	pin, err := s.panel.Pin(name)
	if err != nil {
		return nil, err
	}
	if s.plain[name] {
		return plainPin{pin}, nil
	}
	return pin, nil
}

// countdownPlatform adds the simulated countdown timer.
type countdownPlatform struct {
	*simPlatform
}

func (c countdownPlatform) NewCountdown(fire func()) Countdown {
	return c.panel.NewCountdown(fire)
}

// plainPin hides every method but Read and Write.
type plainPin struct {
	pin *ktesting.SimPin
}

func (p plainPin) Read() bool            { return p.pin.Read() }
func (p plainPin) Write(high bool) error { return p.pin.Write(high) }

type testOptions struct {
	configure func(*Config)
	panel     []ktesting.Option
	plain     []string
	countdown bool
	noStart   bool
}

type testOption func(*testOptions)

func withConfig(fn func(*Config)) testOption {
	return func(o *testOptions) { o.configure = fn }
}

func withCountdown() testOption {
	return func(o *testOptions) { o.countdown = true }
}

func withPanel(opts ...ktesting.Option) testOption {
	return func(o *testOptions) { o.panel = append(o.panel, opts...) }
}

func withPlainPins(names ...string) testOption {
	return func(o *testOptions) { o.plain = append(o.plain, names...) }
}

func withoutStart() testOption {
	return func(o *testOptions) { o.noStart = true }
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ClockPin = ktesting.PinClock
	cfg.ReadPin = ktesting.PinData
	cfg.WritePin = ktesting.PinWrite
	cfg.SounderPin = ktesting.PinSounder
	return cfg
}

func newSimPlatform(o *testOptions) Platform {
	sp := &simPlatform{
		panel: ktesting.NewVirtualPanel(o.panel...),
		plain: make(map[string]bool),
	}
	for _, name := range o.plain {
		sp.plain[name] = true
	}
	if o.countdown {
		return countdownPlatform{sp}
	}
	return sp
}

func panelOf(p Platform) *ktesting.VirtualPanel {
	switch v := p.(type) {
	case countdownPlatform:
		return v.panel
	case *simPlatform:
		return v.panel
	default:
		return nil
	}
}

// newTestKeypad creates a started keypad on a fresh virtual panel.
func newTestKeypad(t *testing.T, opts ...testOption) (*Keypad, *ktesting.VirtualPanel) {
	t.Helper()

	o := &testOptions{}
	for _, opt := range opts {
		opt(o)
	}
	cfg := testConfig()
	if o.configure != nil {
		o.configure(cfg)
	}

	platform := newSimPlatform(o)
	k, err := New(platform, cfg)
	require.NoError(t, err)

	if !o.noStart {
		require.NoError(t, k.Start(io.Discard))
		t.Cleanup(func() {
			if k.Started() {
				_ = k.Stop()
			}
		})
	}
	return k, panelOf(platform)
}

func mustSimPin(t *testing.T, panel *ktesting.VirtualPanel, name string) *ktesting.SimPin {
	t.Helper()
	pin, err := panel.Pin(name)
	require.NoError(t, err)
	return pin
}
