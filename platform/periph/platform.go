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

// Package periph binds a keybus.Keypad to real GPIO lines through periph.io.
package periph

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/internal/syncutil"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultToneFrequency is the PWM carrier used for the low sounder level.
	DefaultToneFrequency = 2 * physic.KiloHertz
	// DefaultEdgeWait bounds each edge wait so StopWatching is honoured.
	DefaultEdgeWait = 100 * time.Millisecond
)

// Options tune the platform. The zero value is usable.
type Options struct {
	// Lookup resolves a pin name. Nil initializes periph's host drivers and
	// uses gpioreg.ByName.
	Lookup func(name string) gpio.PinIO
	// ToneFrequency is the PWM frequency for DutyPin writes.
	ToneFrequency physic.Frequency
	// EdgeWait bounds a single wait for a clock edge.
	EdgeWait time.Duration
	// CPU pins the edge goroutine to a core when >= 0.
	CPU int
	// Nice raises the edge thread's scheduling priority when negative.
	Nice int
}

// DefaultOptions returns options that use the host GPIO registry.
func DefaultOptions() Options {
	return Options{
		ToneFrequency: DefaultToneFrequency,
		EdgeWait:      DefaultEdgeWait,
		CPU:           -1,
	}
}

// Platform implements keybus.Platform and keybus.CountdownPlatform on top of
// periph.io GPIO.
type Platform struct {
	start  time.Time
	lookup func(name string) gpio.PinIO
	lines  map[string]*Line
	opts   Options
	mu     syncutil.Mutex
	closed atomic.Bool
	// hostInit is set when lookup goes through the host registry.
	hostInit bool
}

// New initializes the GPIO host, unless opts carries its own Lookup.
func New(opts Options) (*Platform, error) {
	if opts.ToneFrequency <= 0 {
		opts.ToneFrequency = DefaultToneFrequency
	}
	if opts.EdgeWait <= 0 {
		opts.EdgeWait = DefaultEdgeWait
	}

	p := &Platform{
		start:  time.Now(),
		lookup: opts.Lookup,
		lines:  make(map[string]*Line),
		opts:   opts,
	}
	if p.lookup == nil {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize periph host: %w", err)
		}
		p.lookup = gpioreg.ByName
		p.hostInit = true
	}
	return p, nil
}

// Now returns monotonic time since the platform was created.
func (p *Platform) Now() time.Duration {
	return time.Since(p.start)
}

// Pin returns the line named name, such as "GPIO17". Repeated calls return
// the same line.
func (p *Platform) Pin(name string) (keybus.Pin, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("pin %s: %w", name, keybus.ErrPlatformClosed)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.lines[name]; ok {
		return l, nil
	}
	gp := p.lookup(name)
	if gp == nil {
		return nil, keybus.NewPinNotFoundError("lookup", name)
	}
	l := newLine(name, gp, &p.opts)
	p.lines[name] = l
	keybus.Debugf("periph: bound %s to %s", name, gp)
	return l, nil
}

// NewCountdown returns a countdown backed by a runtime timer.
func (*Platform) NewCountdown(fire func()) keybus.Countdown {
	return &countdown{fire: fire}
}

// Reinit re-resolves every bound line, for use after the GPIO chip went
// away and came back. It matches polling.ReinitFunc.
func (p *Platform) Reinit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed.Load() {
		return keybus.ErrPlatformClosed
	}
	if p.hostInit {
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("failed to initialize periph host: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, l := range p.lines {
		gp := p.lookup(name)
		if gp == nil {
			return keybus.NewPinNotFoundError("reinit", name)
		}
		l.rebind(gp)
	}
	return nil
}

// Close stops edge watching on every line and halts them. Pin fails
// afterwards.
func (p *Platform) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, l := range p.lines {
		if err := l.StopWatching(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := l.halt(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// countdown is a one-shot timer re-armed on every clock edge.
type countdown struct {
	timer *time.Timer
	fire  func()
	mu    syncutil.Mutex
}

func (c *countdown) Reset(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		c.timer = time.AfterFunc(d, c.fire)
		return
	}
	c.timer.Reset(d)
}

func (c *countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}
