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
	"errors"
	"fmt"
	"time"
)

// MemoryClass selects the key buffer size for the target host.
type MemoryClass int

const (
	// MemorySmall suits constrained hosts; the buffer tolerates brief
	// consumer stalls only.
	MemorySmall MemoryClass = iota
	// MemoryLarge suits hosts with room for a longer backlog.
	MemoryLarge
)

// KeyBufferSize returns the buffer capacity for the class.
func (m MemoryClass) KeyBufferSize() int {
	if m == MemoryLarge {
		return 50
	}
	return 10
}

// Config binds a Keypad to its lines and sets the bus timing.
type Config struct {
	// AlarmAcknowledged reports whether a polled frame shows the panel
	// accepted an alarm key. Nil means only the suppression window applies.
	AlarmAcknowledged func(Snapshot) bool

	// ClockPin, ReadPin and WritePin name the bus lines on the platform.
	ClockPin string
	ReadPin  string
	WritePin string
	// SounderPin names an optional output for beep/tone/buzzer. Empty
	// disables sound output; requests are still sequenced.
	SounderPin string

	// MemoryClass sizes the key buffer unless KeyBufferSize is set.
	MemoryClass   MemoryClass
	KeyBufferSize int

	// SilenceTimeout resets framing when no edge arrives for this long.
	SilenceTimeout time.Duration
	// KeyInterval is the minimum time between two written keys.
	KeyInterval time.Duration
	// KeyRepeatInterval debounces keys seen from attached keypads.
	KeyRepeatInterval time.Duration
	// AlarmKeyHold is how long an alarm key is held on the bus.
	AlarmKeyHold time.Duration
	// AlarmKeySuppress is the minimum quiet time after an alarm key.
	AlarmKeySuppress time.Duration
	// AlarmAckTimeout ends the wait for an acknowledgement.
	AlarmAckTimeout time.Duration
	// DisconnectTimeout is how long without frames before Connected is false.
	DisconnectTimeout time.Duration
	// CommandInterval is the nominal spacing of panel frames.
	CommandInterval time.Duration

	BeepDuration time.Duration
	BeepGap      time.Duration
	ToneUnit     time.Duration
	BuzzerUnit   time.Duration
	// ToneLowDuty is the PWM duty used for the continuous tone.
	ToneLowDuty float64

	// PanelSounds plays beep, tone and buzzer commands sent by the panel.
	PanelSounds bool
}

// DefaultConfig returns timings matching a Classic panel.
func DefaultConfig() *Config {
	return &Config{
		ClockPin:          "GPIO18",
		ReadPin:           "GPIO19",
		WritePin:          "GPIO21",
		MemoryClass:       MemorySmall,
		SilenceTimeout:    2 * time.Millisecond,
		KeyInterval:       50 * time.Millisecond,
		KeyRepeatInterval: 150 * time.Millisecond,
		AlarmKeyHold:      time.Second,
		AlarmKeySuppress:  500 * time.Millisecond,
		AlarmAckTimeout:   3 * time.Second,
		DisconnectTimeout: 3 * time.Second,
		CommandInterval:   26 * time.Millisecond,
		BeepDuration:      100 * time.Millisecond,
		BeepGap:           100 * time.Millisecond,
		ToneUnit:          time.Second,
		BuzzerUnit:        time.Second,
		ToneLowDuty:       0.25,
		PanelSounds:       true,
	}
}

// bufferSize resolves the key buffer capacity.
func (c *Config) bufferSize() int {
	if c.KeyBufferSize > 0 {
		return c.KeyBufferSize
	}
	return c.MemoryClass.KeyBufferSize()
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.ClockPin == "" {
		errs = append(errs, errors.New("clock pin is required"))
	}
	if c.ReadPin == "" {
		errs = append(errs, errors.New("read pin is required"))
	}
	if c.WritePin == "" {
		errs = append(errs, errors.New("write pin is required"))
	}
	if c.ClockPin != "" && c.ClockPin == c.ReadPin {
		errs = append(errs, errors.New("clock and read pins must differ"))
	}
	if c.WritePin != "" && (c.WritePin == c.ClockPin || c.WritePin == c.ReadPin) {
		errs = append(errs, errors.New("write pin must differ from clock and read pins"))
	}
	if c.MemoryClass != MemorySmall && c.MemoryClass != MemoryLarge {
		errs = append(errs, fmt.Errorf("unknown memory class %d", c.MemoryClass))
	}
	if c.KeyBufferSize < 0 {
		errs = append(errs, fmt.Errorf("key buffer size %d is negative", c.KeyBufferSize))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"silence timeout", c.SilenceTimeout},
		{"beep duration", c.BeepDuration},
		{"tone unit", c.ToneUnit},
		{"buzzer unit", c.BuzzerUnit},
		{"disconnect timeout", c.DisconnectTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.BeepGap < 0 || c.KeyInterval < 0 || c.KeyRepeatInterval < 0 ||
		c.AlarmKeyHold < 0 || c.AlarmKeySuppress < 0 || c.AlarmAckTimeout < 0 {
		errs = append(errs, errors.New("key and beep intervals must not be negative"))
	}
	if c.ToneLowDuty < 0 || c.ToneLowDuty > 1 {
		errs = append(errs, fmt.Errorf("tone duty %.2f out of range 0..1", c.ToneLowDuty))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
