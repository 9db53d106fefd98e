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

package periph

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/internal/syncutil"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

var errAlreadyWatching = errors.New("edges already watched")

type pinMode int32

const (
	modeNone pinMode = iota
	modeIn
	modeEdge
	modeOut
)

type pinRef struct {
	gpio.PinIO
}

// Line is one GPIO line. It implements keybus.EdgePin and keybus.DutyPin;
// its direction follows the first use.
type Line struct {
	pin      atomic.Pointer[pinRef]
	done     chan struct{}
	name     string
	wg       sync.WaitGroup
	freq     physic.Frequency
	edgeWait time.Duration
	cpu      int
	nice     int
	mode     atomic.Int32
	watchMu  syncutil.Mutex
}

func newLine(name string, gp gpio.PinIO, opts *Options) *Line {
	l := &Line{
		name:     name,
		freq:     opts.ToneFrequency,
		edgeWait: opts.EdgeWait,
		cpu:      opts.CPU,
		nice:     opts.Nice,
	}
	l.pin.Store(&pinRef{gp})
	return l
}

// Name returns the name the line was bound by.
func (l *Line) Name() string { return l.name }

// Read returns the line level, switching it to an input on first use.
func (l *Line) Read() bool {
	gp := l.pin.Load().PinIO
	if pinMode(l.mode.Load()) == modeNone {
		if err := gp.In(gpio.PullNoChange, gpio.NoEdge); err == nil {
			l.mode.Store(int32(modeIn))
		}
	}
	return gp.Read() == gpio.High
}

// Write drives the line as an output.
func (l *Line) Write(high bool) error {
	level := gpio.Low
	if high {
		level = gpio.High
	}
	if err := l.pin.Load().Out(level); err != nil {
		return keybus.NewPinWriteError("write", l.name, err)
	}
	l.mode.Store(int32(modeOut))
	return nil
}

// WriteDuty drives a PWM duty cycle between 0 and 1. The extremes are
// plain levels, so lines without PWM still play beeps.
func (l *Line) WriteDuty(duty float64) error {
	switch {
	case duty <= 0:
		return l.Write(false)
	case duty >= 1:
		return l.Write(true)
	}
	d := gpio.Duty(duty * float64(gpio.DutyMax))
	if err := l.pin.Load().PWM(d, l.freq); err != nil {
		return keybus.NewPinWriteError("pwm", l.name, err)
	}
	l.mode.Store(int32(modeOut))
	return nil
}

// WatchEdges arms both-edge detection and calls handler from a dedicated
// goroutine, locked to its OS thread, with the level after each edge.
func (l *Line) WatchEdges(handler func(high bool)) error {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()

	if l.done != nil {
		return keybus.NewPinError("watch", l.name, errAlreadyWatching, keybus.ErrorTypePermanent)
	}
	gp := l.pin.Load().PinIO
	if err := gp.In(gpio.PullNoChange, gpio.BothEdges); err != nil {
		return keybus.NewPinError("watch", l.name,
			fmt.Errorf("%w: %w", keybus.ErrEdgeUnsupported, err), keybus.ErrorTypePermanent)
	}
	l.mode.Store(int32(modeEdge))

	done := make(chan struct{})
	l.done = done
	l.wg.Add(1)
	go l.watch(done, handler)
	return nil
}

func (l *Line) watch(done <-chan struct{}, handler func(high bool)) {
	defer l.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := pinThread(l.cpu, l.nice); err != nil {
		keybus.Debugf("periph: %s edge thread left at default priority: %v", l.name, err)
	}

	for {
		select {
		case <-done:
			return
		default:
		}
		gp := l.pin.Load().PinIO
		if !gp.WaitForEdge(l.edgeWait) {
			continue
		}
		select {
		case <-done:
			return
		default:
		}
		handler(gp.Read() == gpio.High)
	}
}

// StopWatching disarms edge detection and waits for the handler goroutine
// to exit.
func (l *Line) StopWatching() error {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()

	if l.done == nil {
		return nil
	}
	close(l.done)
	l.done = nil
	l.wg.Wait()

	if err := l.pin.Load().In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return keybus.NewPinError("unwatch", l.name, err, keybus.ErrorTypeTransient)
	}
	l.mode.Store(int32(modeIn))
	return nil
}

// rebind swaps the underlying pin. An armed edge watch is re-armed on the
// new pin.
func (l *Line) rebind(gp gpio.PinIO) {
	l.pin.Store(&pinRef{gp})
	switch pinMode(l.mode.Load()) {
	case modeEdge:
		if err := gp.In(gpio.PullNoChange, gpio.BothEdges); err != nil {
			keybus.Debugf("periph: re-arming edges on %s: %v", l.name, err)
		}
	case modeIn:
		_ = gp.In(gpio.PullNoChange, gpio.NoEdge)
	case modeNone, modeOut:
	}
}

func (l *Line) halt() error {
	if err := l.pin.Load().Halt(); err != nil {
		return fmt.Errorf("halt %s: %w", l.name, err)
	}
	return nil
}
