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
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-keybus/internal/frame"
	"github.com/ZaparooProject/go-keybus/internal/syncutil"
)

// Pin names exposed by VirtualPanel
const (
	PinClock   = "CLK"
	PinData    = "DATA"
	PinWrite   = "WRITE"
	PinSounder = "SOUNDER"
)

// Default bus timing. The half period stays well under the 2 ms silence
// timeout and the gap well over it.
const (
	DefaultHalfPeriod = 500 * time.Microsecond
	DefaultFrameGap   = 10 * time.Millisecond
)

// Errors returned by simulated pins
var (
	ErrUnknownPin  = errors.New("unknown simulated pin")
	ErrInputOnly   = errors.New("simulated pin is input only")
	ErrNoEdges     = errors.New("simulated pin has no edge detection")
	ErrPanelClosed = errors.New("virtual panel closed")
)

// Transition records one output change on a simulated pin.
type Transition struct {
	At   time.Duration
	Duty float64
	High bool
}

// VirtualPanel simulates a Classic panel clocking frames onto a bus. It owns
// a manual clock: time only moves in Advance, Idle and the Send methods, and
// countdown timers fire synchronously as the clock passes their deadline.
//
// The data line is open collector. While the clock is high the panel drives
// it; while the clock is low it floats high unless a keypad pulls it down.
// The keypad under test pulls it down by writing WRITE high.
//
// VirtualPanel mirrors keybus.Platform to avoid an import cycle; tests adapt
// it with a thin wrapper.
type VirtualPanel struct {
	pins       map[string]*SimPin
	handler    func(high bool)
	skew       *skewSource
	countdowns []*SimCountdown
	foreign    [frame.Bytes]byte
	now        time.Duration
	halfPeriod time.Duration
	frameGap   time.Duration
	frames     int
	mu         syncutil.Mutex
	clockHigh  bool
	panelBit   bool
	pulled     bool
	closed     bool
}

// Option configures a VirtualPanel.
type Option func(*VirtualPanel)

// WithHalfPeriod sets the time between clock edges within a frame.
func WithHalfPeriod(d time.Duration) Option {
	return func(p *VirtualPanel) { p.halfPeriod = d }
}

// WithFrameGap sets the idle time after each frame.
func WithFrameGap(d time.Duration) Option {
	return func(p *VirtualPanel) { p.frameGap = d }
}

// WithJitter adds seeded skew to edge and gap timing.
func WithJitter(cfg JitterConfig) Option {
	return func(p *VirtualPanel) { p.skew = newSkewSource(cfg) }
}

// NewVirtualPanel creates an idle bus with the clock high.
func NewVirtualPanel(opts ...Option) *VirtualPanel {
	p := &VirtualPanel{
		halfPeriod: DefaultHalfPeriod,
		frameGap:   DefaultFrameGap,
		clockHigh:  true,
		panelBit:   true,
		foreign:    [frame.Bytes]byte{frame.IdleByte, frame.IdleByte},
	}
	p.pins = map[string]*SimPin{
		PinClock:   {panel: p, name: PinClock},
		PinData:    {panel: p, name: PinData},
		PinWrite:   {panel: p, name: PinWrite},
		PinSounder: {panel: p, name: PinSounder},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Now returns the simulated clock.
func (p *VirtualPanel) Now() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// Pin returns a simulated pin by name.
func (p *VirtualPanel) Pin(name string) (*SimPin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPanelClosed
	}
	pin, ok := p.pins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPin, name)
	}
	return pin, nil
}

// NewCountdown creates a countdown timer driven by the simulated clock.
func (p *VirtualPanel) NewCountdown(fire func()) *SimCountdown {
	p.mu.Lock()
	defer p.mu.Unlock()
	cd := &SimCountdown{panel: p, fire: fire}
	p.countdowns = append(p.countdowns, cd)
	return cd
}

// Close makes further Pin calls fail, as a removed GPIO chip would.
func (p *VirtualPanel) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// PressKey makes another keypad on the bus hold code in its module byte
// until ReleaseKey.
func (p *VirtualPanel) PressKey(code byte) {
	p.mu.Lock()
	p.foreign[0] = code
	p.mu.Unlock()
}

// ReleaseKey returns the other keypad to idle.
func (p *VirtualPanel) ReleaseKey() {
	p.mu.Lock()
	p.foreign[0] = frame.IdleByte
	p.mu.Unlock()
}

// Frames returns how many complete frames were sent.
func (p *VirtualPanel) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Watching reports whether an edge handler is registered on the clock.
func (p *VirtualPanel) Watching() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler != nil
}

// SendFrame clocks out a full frame followed by the idle gap. It returns
// the module bytes observed on the data line during the keypad windows.
func (p *VirtualPanel) SendFrame(command, status byte) [frame.Bytes]byte {
	observed := p.sendCycles(command, status, frame.Bits)
	p.mu.Lock()
	p.frames++
	gap := p.skew.gap(p.frameGap)
	p.mu.Unlock()
	p.Advance(gap)
	return observed
}

// SendFrames sends the same frame n times.
func (p *VirtualPanel) SendFrames(n int, command, status byte) {
	for range n {
		p.SendFrame(command, status)
	}
}

// SendPartial clocks out only the first cycles of a frame and leaves the
// clock high without a gap, as a panel reset mid-frame would.
func (p *VirtualPanel) SendPartial(command, status byte, cycles int) [frame.Bytes]byte {
	return p.sendCycles(command, status, min(cycles, frame.Bits))
}

// Idle lets the bus sit with the clock high.
func (p *VirtualPanel) Idle(d time.Duration) {
	p.Advance(d)
}

func (p *VirtualPanel) sendCycles(command, status byte, cycles int) [frame.Bytes]byte {
	panel := []byte{command, status}
	observed := make([]byte, frame.Bytes)

	for pos := range cycles {
		p.mu.Lock()
		p.clockHigh = false
		p.pulled = !frame.Bit(p.foreign[:], pos)
		half := p.skew.halfPeriod(p.halfPeriod)
		p.mu.Unlock()
		p.deliver(false)
		frame.SetBit(observed, pos, p.readData())
		p.Advance(half)

		p.mu.Lock()
		p.pulled = false
		p.panelBit = frame.Bit(panel, pos)
		p.clockHigh = true
		half = p.skew.halfPeriod(p.halfPeriod)
		p.mu.Unlock()
		p.deliver(true)
		p.Advance(half)
	}

	var out [frame.Bytes]byte
	copy(out[:], observed)
	return out
}

func (p *VirtualPanel) deliver(high bool) {
	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()
	if handler != nil {
		handler(high)
	}
}

func (p *VirtualPanel) readData() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dataLevelLocked()
}

func (p *VirtualPanel) dataLevelLocked() bool {
	level := true
	switch {
	case p.clockHigh:
		level = p.panelBit
	case p.pulled:
		level = false
	}
	if p.pins[PinWrite].level {
		level = false
	}
	return level
}

// Advance moves the simulated clock forward, firing any countdown whose
// deadline is reached, in deadline order.
func (p *VirtualPanel) Advance(d time.Duration) {
	p.mu.Lock()
	target := p.now + d
	p.mu.Unlock()

	for {
		p.mu.Lock()
		var next *SimCountdown
		for _, cd := range p.countdowns {
			if cd.armed && cd.deadline <= target && (next == nil || cd.deadline < next.deadline) {
				next = cd
			}
		}
		if next == nil {
			p.now = target
			p.mu.Unlock()
			return
		}
		if next.deadline > p.now {
			p.now = next.deadline
		}
		next.armed = false
		next.fired++
		fire := next.fire
		p.mu.Unlock()

		if fire != nil {
			fire()
		}
	}
}

// SimPin is one simulated line.
type SimPin struct {
	panel       *VirtualPanel
	name        string
	transitions []Transition
	duty        float64
	level       bool
}

// Read returns the line level as the keypad would sample it.
func (s *SimPin) Read() bool {
	p := s.panel
	p.mu.Lock()
	defer p.mu.Unlock()
	switch s.name {
	case PinClock:
		return p.clockHigh
	case PinData:
		return p.dataLevelLocked()
	default:
		return s.level
	}
}

// Write sets an output line.
func (s *SimPin) Write(high bool) error {
	duty := 0.0
	if high {
		duty = 1
	}
	return s.set(high, duty)
}

// WriteDuty sets an output line to a PWM duty cycle.
func (s *SimPin) WriteDuty(duty float64) error {
	return s.set(duty > 0, duty)
}

func (s *SimPin) set(high bool, duty float64) error {
	p := s.panel
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.name == PinClock || s.name == PinData {
		return fmt.Errorf("%w: %s", ErrInputOnly, s.name)
	}
	if s.level == high && s.duty == duty {
		return nil
	}
	s.level = high
	s.duty = duty
	s.transitions = append(s.transitions, Transition{At: p.now, High: high, Duty: duty})
	return nil
}

// WatchEdges registers the clock edge handler.
func (s *SimPin) WatchEdges(handler func(high bool)) error {
	if s.name != PinClock {
		return fmt.Errorf("%w: %s", ErrNoEdges, s.name)
	}
	p := s.panel
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPanelClosed
	}
	p.handler = handler
	return nil
}

// StopWatching removes the clock edge handler.
func (s *SimPin) StopWatching() error {
	if s.name != PinClock {
		return fmt.Errorf("%w: %s", ErrNoEdges, s.name)
	}
	p := s.panel
	p.mu.Lock()
	p.handler = nil
	p.mu.Unlock()
	return nil
}

// Level returns the last written output level.
func (s *SimPin) Level() bool {
	s.panel.mu.Lock()
	defer s.panel.mu.Unlock()
	return s.level
}

// Transitions returns a copy of every recorded output change.
func (s *SimPin) Transitions() []Transition {
	s.panel.mu.Lock()
	defer s.panel.mu.Unlock()
	out := make([]Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// Pulses returns the durations of completed high periods, counting any
// non-zero duty as high only when Duty is 1.
func (s *SimPin) Pulses() []time.Duration {
	var pulses []time.Duration
	var start time.Duration
	inPulse := false
	for _, t := range s.Transitions() {
		full := t.High && t.Duty >= 1
		switch {
		case full && !inPulse:
			start = t.At
			inPulse = true
		case !full && inPulse:
			pulses = append(pulses, t.At-start)
			inPulse = false
		}
	}
	return pulses
}

// ResetTransitions clears the recorded output history.
func (s *SimPin) ResetTransitions() {
	s.panel.mu.Lock()
	s.transitions = nil
	s.panel.mu.Unlock()
}

// SimCountdown is a one-shot timer on the simulated clock.
type SimCountdown struct {
	panel    *VirtualPanel
	fire     func()
	deadline time.Duration
	fired    int
	armed    bool
}

// Reset arms the countdown to fire d from now.
func (c *SimCountdown) Reset(d time.Duration) {
	c.panel.mu.Lock()
	c.deadline = c.panel.now + d
	c.armed = true
	c.panel.mu.Unlock()
}

// Stop disarms the countdown.
func (c *SimCountdown) Stop() {
	c.panel.mu.Lock()
	c.armed = false
	c.panel.mu.Unlock()
}

// Fired returns how many times the countdown has fired.
func (c *SimCountdown) Fired() int {
	c.panel.mu.Lock()
	defer c.panel.mu.Unlock()
	return c.fired
}
