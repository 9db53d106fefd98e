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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/internal/syncutil"
)

// Keypad is the part of *keybus.Keypad a session drives.
type Keypad interface {
	Poll() bool
	Snapshot() keybus.Snapshot
	ChangedLights() []keybus.Indicator
	Light(i keybus.Indicator) keybus.Light
	Key() (keybus.Key, bool)
	ClearKey()
	BufferOverflow(clear bool) bool
	Connected() bool
}

// Session polls a keypad and turns what it decodes into callbacks. All
// callbacks run on the polling goroutine.
type Session struct {
	keypad         Keypad
	recoverer      Recoverer
	OnFrame        func(snap keybus.Snapshot) error
	OnKey          func(key keybus.Key) error
	OnLightChanged func(ind keybus.Indicator, light keybus.Light) error
	OnBusLost      func(err error)
	OnBusRestored  func()
	OnOverflow     func()
	config         *Config
	trace          *keybus.TraceBuffer
	pauseChan      chan struct{}
	resumeChan     chan struct{}
	ackChan        chan struct{}
	lastCycle      time.Time
	status         BusStatus
	stateMutex     syncutil.RWMutex
	closed         atomic.Bool
	isPaused       atomic.Bool
}

// NewSession creates a session for keypad. A nil config uses DefaultConfig.
func NewSession(keypad Keypad, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	return &Session{
		keypad:     keypad,
		config:     config,
		trace:      keybus.NewTraceBuffer("keybus", config.TraceSize),
		pauseChan:  make(chan struct{}, 1),
		resumeChan: make(chan struct{}, 1),
		ackChan:    make(chan struct{}, 1),
	}
}

// SetRecoverer sets what is tried when the bus is lost or the host wakes.
func (s *Session) SetRecoverer(r Recoverer) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.recoverer = r
}

// SetOnFrame sets the callback for every polled frame.
func (s *Session) SetOnFrame(callback func(keybus.Snapshot) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnFrame = callback
}

// SetOnKey sets the callback for keys pressed on other keypads.
func (s *Session) SetOnKey(callback func(keybus.Key) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnKey = callback
}

// SetOnLightChanged sets the callback for indicator changes.
func (s *Session) SetOnLightChanged(callback func(keybus.Indicator, keybus.Light) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnLightChanged = callback
}

// SetOnBusLost sets the callback for when frames stop arriving. The error
// carries a trace of the last frames; see keybus.GetTrace.
func (s *Session) SetOnBusLost(callback func(error)) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnBusLost = callback
}

// SetOnBusRestored sets the callback for the first frame after a loss.
func (s *Session) SetOnBusRestored(callback func()) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnBusRestored = callback
}

// SetOnOverflow sets the callback for a key buffer overflow. The overflow
// flag is cleared when the callback is due.
func (s *Session) SetOnOverflow(callback func()) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnOverflow = callback
}

// GetState returns the current bus status
func (s *Session) GetState() BusStatus {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.status
}

// Start polls until ctx is done, the session is closed or a callback fails.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.lastCycle = time.Now()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.handleContextAndPause(ctx); err != nil {
			return err
		}
		if s.closed.Load() {
			return nil
		}

		if err := s.executeSinglePollingCycle(ctx); err != nil {
			return err
		}

		if err := s.waitForNextPollOrPause(ctx, ticker); err != nil {
			return err
		}
	}
}

// Close stops the polling loop at its next cycle.
func (s *Session) Close() error {
	s.closed.Store(true)
	s.isPaused.Store(false)

	// drain so a later pause does not see a stale signal
	select {
	case <-s.pauseChan:
	default:
	}
	select {
	case s.resumeChan <- struct{}{}:
	default:
	}
	return nil
}

// Pause temporarily stops the polling loop. Edge sampling continues, so
// only the most recent frame is seen after Resume.
func (s *Session) Pause() {
	if s.isPaused.CompareAndSwap(false, true) {
		select {
		case s.pauseChan <- struct{}{}:
		default:
		}
	}
}

// Resume restarts the polling loop after a pause
func (s *Session) Resume() {
	if s.isPaused.CompareAndSwap(true, false) {
		select {
		case s.resumeChan <- struct{}{}:
		default:
		}
	}
}

// PauseWithAck pauses polling and waits briefly for the loop to confirm.
func (s *Session) PauseWithAck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !s.isPaused.CompareAndSwap(false, true) {
		return nil
	}

	select {
	case s.pauseChan <- struct{}{}:
		ackTimeout := time.NewTimer(100 * time.Millisecond)
		defer ackTimeout.Stop()

		select {
		case <-s.ackChan:
			return nil
		case <-ackTimeout.C:
			// no loop running; the flag is enough
			return nil
		case <-ctx.Done():
			s.isPaused.Store(false)
			return ctx.Err()
		}
	case <-ctx.Done():
		s.isPaused.Store(false)
		return ctx.Err()
	default:
		return nil
	}
}

// executeSinglePollingCycle polls once and dispatches what changed
func (s *Session) executeSinglePollingCycle(ctx context.Context) error {
	now := time.Now()
	elapsed := now.Sub(s.lastCycle)
	s.lastCycle = now

	if s.config.Recovery.DetectSleep(elapsed, s.config.PollInterval) {
		keybus.Debugf("poll gap of %v, host likely slept", elapsed)
		if err := s.recover(ctx); err != nil {
			return err
		}
	}

	if !s.keypad.Poll() {
		return s.checkBusLoss(ctx, now)
	}
	return s.processFrame(now)
}

func (s *Session) processFrame(now time.Time) error {
	snap := s.keypad.Snapshot()

	s.stateMutex.Lock()
	s.trace.RecordSnapshot(snap)
	restored := s.status.RecordFrame(now)
	onFrame, onKey, onLight := s.OnFrame, s.OnKey, s.OnLightChanged
	onRestored, onOverflow := s.OnBusRestored, s.OnOverflow
	s.stateMutex.Unlock()

	if restored {
		keybus.Debugf("bus restored at frame %d", snap.Seq)
		if onRestored != nil {
			onRestored()
		}
	}

	if onFrame != nil {
		if err := safeCall("frame", func() error { return onFrame(snap) }); err != nil {
			return fmt.Errorf("callback error during polling: %w", err)
		}
	}

	for _, ind := range s.keypad.ChangedLights() {
		if onLight == nil {
			break
		}
		light := s.keypad.Light(ind)
		if err := safeCall("light", func() error { return onLight(ind, light) }); err != nil {
			return fmt.Errorf("callback error during polling: %w", err)
		}
	}

	if key, ok := s.keypad.Key(); ok {
		s.keypad.ClearKey()
		if onKey != nil {
			if err := safeCall("key", func() error { return onKey(key) }); err != nil {
				return fmt.Errorf("callback error during polling: %w", err)
			}
		}
	}

	if onOverflow != nil && s.keypad.BufferOverflow(true) {
		onOverflow()
	}
	return nil
}

// checkBusLoss moves a connected session to lost once the keypad reports
// no recent frames, then tries recovery.
func (s *Session) checkBusLoss(ctx context.Context, now time.Time) error {
	if s.keypad.Connected() {
		return nil
	}

	s.stateMutex.Lock()
	if !s.status.TransitionToLost(now) {
		s.stateMutex.Unlock()
		return nil
	}
	lostErr := s.trace.WrapError(keybus.NewBusSilentError("poll", ""))
	onLost := s.OnBusLost
	s.stateMutex.Unlock()

	keybus.Debugf("bus lost: %v", lostErr)
	if onLost != nil {
		onLost(lostErr)
	}
	return s.recover(ctx)
}

// recover runs the recoverer, if any. Only fatal errors end the session.
func (s *Session) recover(ctx context.Context) error {
	s.stateMutex.RLock()
	r := s.recoverer
	s.stateMutex.RUnlock()
	if r == nil || !s.config.Recovery.Enabled {
		return nil
	}

	err := r.AttemptRecovery(ctx)
	if err == nil {
		s.stateMutex.Lock()
		s.status.Recoveries++
		s.stateMutex.Unlock()
		return nil
	}
	if keybus.IsFatal(err) {
		return fmt.Errorf("bus recovery failed: %w", err)
	}
	keybus.Debugf("bus recovery failed, waiting for frames: %v", err)
	return nil
}

// safeCall runs a callback, turning a panic into an error
func safeCall(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s callback panicked: %v", name, r)
		}
	}()
	if err = fn(); err != nil {
		return fmt.Errorf("%s callback failed: %w", name, err)
	}
	return nil
}

// waitForNextPollOrPause waits for the next poll interval or handles pause signals
func (s *Session) waitForNextPollOrPause(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ticker.C:
		return nil
	case <-s.pauseChan:
		return s.handlePauseSignal(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handlePauseSignal sends acknowledgment and waits for resume
func (s *Session) handlePauseSignal(ctx context.Context) error {
	select {
	case s.ackChan <- struct{}{}:
	default:
	}
	return s.waitForResume(ctx)
}

func (s *Session) handleContextAndPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.pauseChan:
		return s.handlePauseSignal(ctx)
	default:
		return nil
	}
}

func (s *Session) waitForResume(ctx context.Context) error {
	select {
	case <-s.resumeChan:
		// the poll gap while paused is not host sleep
		s.lastCycle = time.Now()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
