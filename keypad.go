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

// Package keybus emulates a keypad on a DSC Classic Keybus.
//
// A Keypad samples the two-wire bus from a clock edge handler, drives queued
// key codes onto the keypad half of each frame and decodes panel frames into
// indicator lights when the application calls Poll. Hardware access goes
// through the Platform interface; see platform/periph for a Linux GPIO
// implementation.
package keybus

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/ZaparooProject/go-keybus/internal/syncutil"
)

// Keypad is a virtual keypad bound to one bus.
//
// Edge context (the clock handler and the countdown callback) owns the
// cursors and encoder state under isrMu. Complete frames are handed to the
// polling side as one Snapshot under shared. Everything Poll derives is kept
// under loopMu. The key buffer and the alarm flags are lock-free.
type Keypad struct {
	platform  Platform
	clk       EdgePin
	read      Pin
	write     Pin
	keys      *KeyBuffer
	enc       *encoder
	snd       *sounder
	countdown Countdown
	trace     io.Writer
	cfg       Config

	changed  []Indicator
	lights   LightDecoder
	detector keyDetector
	last     Snapshot
	lastSeq  uint64

	published Snapshot

	cmd        Frame
	mod        Frame
	lastEdge   time.Duration
	seq        uint64
	moduleBits int
	panelBits  int

	isrMu   syncutil.Mutex
	shared  syncutil.Mutex
	loopMu  syncutil.Mutex
	pushMu  syncutil.Mutex
	traceMu syncutil.Mutex

	started  atomic.Bool
	inFrame  bool
	seenEdge bool
	key      Key
	keyReady bool
}

// New binds a keypad to the platform lines named in cfg. A nil cfg uses
// DefaultConfig. No bus activity begins until Start.
func New(platform Platform, cfg *Config) (*Keypad, error) {
	if platform == nil {
		return nil, fmt.Errorf("%w: platform is nil", ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k := &Keypad{
		platform: platform,
		cfg:      *cfg,
		trace:    os.Stdout,
	}

	clkPin, err := platform.Pin(cfg.ClockPin)
	if err != nil {
		return nil, fmt.Errorf("failed to open clock pin: %w", err)
	}
	clk, ok := clkPin.(EdgePin)
	if !ok {
		return nil, NewEdgeUnsupportedError("initialize", cfg.ClockPin)
	}
	k.clk = clk

	if k.read, err = platform.Pin(cfg.ReadPin); err != nil {
		return nil, fmt.Errorf("failed to open read pin: %w", err)
	}
	if k.write, err = platform.Pin(cfg.WritePin); err != nil {
		return nil, fmt.Errorf("failed to open write pin: %w", err)
	}

	var sound Pin
	if cfg.SounderPin != "" {
		if sound, err = platform.Pin(cfg.SounderPin); err != nil {
			return nil, fmt.Errorf("failed to open sounder pin: %w", err)
		}
	}

	k.keys = NewKeyBuffer(cfg.bufferSize())
	k.enc = newEncoder(k.write, k.keys, &k.cfg)
	k.snd = newSounder(sound, &k.cfg)
	k.detector = keyDetector{repeat: k.cfg.KeyRepeatInterval, alarmHold: k.cfg.AlarmKeyHold}
	return k, nil
}

// Start arms the clock edge handler and, where the platform has one, the
// silence countdown. Trace output goes to trace, or os.Stdout when nil.
func (k *Keypad) Start(trace io.Writer) error {
	if !k.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if trace == nil {
		trace = os.Stdout
	}
	k.traceMu.Lock()
	k.trace = trace
	k.traceMu.Unlock()

	if err := k.write.Write(false); err != nil {
		k.started.Store(false)
		return NewPinWriteError("start", k.cfg.WritePin, err)
	}

	k.isrMu.Lock()
	k.clearCursorsLocked()
	k.seenEdge = false
	if cp, ok := k.platform.(CountdownPlatform); ok {
		k.countdown = cp.NewCountdown(k.onSilence)
	}
	k.isrMu.Unlock()

	if err := k.clk.WatchEdges(k.onClockEdge); err != nil {
		k.started.Store(false)
		if IsFatal(err) {
			return err
		}
		return NewPinError("watch edges", k.cfg.ClockPin, err, ErrorTypeTransient)
	}

	Debugf("keypad started: clock=%s read=%s write=%s buffer=%d",
		k.cfg.ClockPin, k.cfg.ReadPin, k.cfg.WritePin, k.keys.Cap())
	return nil
}

// Stop disarms the edge handler and releases the write line. Queued keys and
// decoded state are kept for a later Start.
func (k *Keypad) Stop() error {
	if !k.started.CompareAndSwap(true, false) {
		return ErrNotStarted
	}

	err := k.clk.StopWatching()

	k.isrMu.Lock()
	if k.countdown != nil {
		k.countdown.Stop()
	}
	k.resetFrameLocked()
	k.isrMu.Unlock()

	if werr := k.write.Write(false); werr != nil && err == nil {
		err = NewPinWriteError("stop", k.cfg.WritePin, werr)
	}

	Debugf("keypad stopped")
	if err != nil {
		return fmt.Errorf("failed to stop keypad: %w", err)
	}
	return nil
}

// Started reports whether the edge handler is armed.
func (k *Keypad) Started() bool {
	return k.started.Load()
}

// Config returns a copy of the keypad configuration.
func (k *Keypad) Config() Config {
	return k.cfg
}

// Poll checks for a frame captured since the last call. It returns true
// exactly once per new frame, after decoding it. Poll never blocks on the bus.
func (k *Keypad) Poll() bool {
	now := k.platform.Now()
	k.snd.tick(now)
	if err := k.snd.takeErr(); err != nil {
		Debugf("sounder write failed: %v", err)
	}

	k.loopMu.Lock()
	defer k.loopMu.Unlock()

	k.shared.Lock()
	snap := k.published
	k.shared.Unlock()

	if snap.Seq == k.lastSeq {
		return false
	}
	k.lastSeq = snap.Seq
	k.last = snap
	k.interpretLocked(now, snap)
	return true
}

// Snapshot returns the frame pair last returned by Poll.
func (k *Keypad) Snapshot() Snapshot {
	k.loopMu.Lock()
	defer k.loopMu.Unlock()
	return k.last
}

// CommandFrame returns the panel bytes of the last polled frame.
func (k *Keypad) CommandFrame() Frame {
	return k.Snapshot().Command
}

// ModuleFrame returns the keypad bytes of the last polled frame.
func (k *Keypad) ModuleFrame() Frame {
	return k.Snapshot().Module
}

// Light returns the decoded state of one indicator.
func (k *Keypad) Light(i Indicator) Light {
	k.loopMu.Lock()
	defer k.loopMu.Unlock()
	return k.lights.Light(i)
}

// Lights returns every decoded indicator state.
func (k *Keypad) Lights() [IndicatorCount]Light {
	k.loopMu.Lock()
	defer k.loopMu.Unlock()
	return k.lights.Lights()
}

// ChangedLights returns the indicators whose state changed in the frame
// last returned by Poll.
func (k *Keypad) ChangedLights() []Indicator {
	k.loopMu.Lock()
	defer k.loopMu.Unlock()
	out := make([]Indicator, len(k.changed))
	copy(out, k.changed)
	return out
}

// Key returns the last key seen from an attached keypad and whether it is
// still unread.
func (k *Keypad) Key() (Key, bool) {
	k.loopMu.Lock()
	defer k.loopMu.Unlock()
	return k.key, k.keyReady
}

// ClearKey marks the current key as read.
func (k *Keypad) ClearKey() {
	k.loopMu.Lock()
	k.keyReady = false
	k.loopMu.Unlock()
}

// PushKey queues a raw wire code for the encoder. It returns false and
// raises the overflow flag when the buffer is full.
func (k *Keypad) PushKey(code byte) bool {
	k.pushMu.Lock()
	defer k.pushMu.Unlock()
	return k.keys.Push(code)
}

// WriteKey queues a printable key; see KeyForRune.
func (k *Keypad) WriteKey(r rune) error {
	key, ok := KeyForRune(r)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, r)
	}
	if !k.PushKey(byte(key)) {
		return ErrKeyBufferFull
	}
	return nil
}

// WriteKeys queues each key of s, skipping whitespace, and stops at the
// first failure. It returns how many keys were queued.
func (k *Keypad) WriteKeys(s string) (int, error) {
	n := 0
	for _, r := range s {
		if isKeySpace(r) {
			continue
		}
		if err := k.WriteKey(r); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func isKeySpace(r rune) bool {
	return unicode.IsSpace(r)
}

// PendingKeys returns the number of queued keys.
func (k *Keypad) PendingKeys() int {
	return k.keys.Len()
}

// BufferOverflow reports whether the key buffer has rejected a key,
// optionally clearing the flag.
func (k *Keypad) BufferOverflow(clear bool) bool {
	if clear {
		return k.keys.ClearOverflow()
	}
	return k.keys.Overflow()
}

// ResponsePending reports whether an alarm key is waiting on the panel.
func (k *Keypad) ResponsePending() bool {
	return k.enc.responsePending()
}

// Connected reports whether a frame arrived within DisconnectTimeout.
func (k *Keypad) Connected() bool {
	k.shared.Lock()
	snap := k.published
	k.shared.Unlock()
	return snap.Seq > 0 && k.platform.Now()-snap.Captured < k.cfg.DisconnectTimeout
}

// Beep sounds count short beeps (1-128). Zero is ignored and larger
// counts are clamped.
func (k *Keypad) Beep(count int) {
	k.beepAt(k.platform.Now(), count)
}

// Tone repeats count beeps (0-7) every interval units (1-15), optionally
// over a continuous low tone. Tone(0, false, 0) silences a running tone.
func (k *Keypad) Tone(count int, continuous bool, interval int) {
	k.snd.request(k.platform.Now(), newTone(count, continuous, interval))
}

// Buzzer sounds the buzzer for duration units (1-255).
func (k *Keypad) Buzzer(duration int) {
	k.buzzerAt(k.platform.Now(), duration)
}

// Sounding returns the kind of acoustic request currently playing.
func (k *Keypad) Sounding() Sound {
	return k.snd.current(k.platform.Now())
}

func (k *Keypad) beepAt(now time.Duration, count int) {
	if req, ok := newBeep(count); ok {
		k.snd.request(now, req)
	}
}

func (k *Keypad) buzzerAt(now time.Duration, duration int) {
	if req, ok := newBuzzer(duration); ok {
		k.snd.request(now, req)
	}
}

// PrintFrame writes the last polled frame pair in binary to the trace sink.
func (k *Keypad) PrintFrame() error {
	snap := k.Snapshot()
	return k.tracef("%08d Panel: %s  Module: %s\n", snap.Seq, snap.Command, snap.Module)
}

// PrintLights writes every indicator state to the trace sink.
func (k *Keypad) PrintLights() error {
	lights := k.Lights()
	var sb strings.Builder
	for i, l := range lights {
		if i > 0 {
			_, _ = sb.WriteString(" ")
		}
		_, _ = sb.WriteString(fmt.Sprintf("%s:%s", Indicator(i), l))
	}
	return k.tracef("%s\n", sb.String())
}

// PrintModule writes the last polled module bytes and any key they carry.
func (k *Keypad) PrintModule() error {
	snap := k.Snapshot()
	switch {
	case snap.Driven:
		return k.tracef("Module: %s (sent %s)\n", snap.Module, Key(snap.DrivenCode))
	case snap.Module[0] != byte(KeyNone):
		return k.tracef("Module: %s (key %s)\n", snap.Module, Key(snap.Module[0]))
	default:
		return k.tracef("Module: %s\n", snap.Module)
	}
}

func (k *Keypad) tracef(format string, args ...any) error {
	k.traceMu.Lock()
	defer k.traceMu.Unlock()
	if _, err := fmt.Fprintf(k.trace, format, args...); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}
	return nil
}
