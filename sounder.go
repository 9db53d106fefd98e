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
	"time"

	"github.com/ZaparooProject/go-keybus/internal/syncutil"
)

// Sound is the kind of acoustic request being played.
type Sound uint8

const (
	SoundNone Sound = iota
	SoundBeep
	SoundTone
	SoundBuzzer
)

func (s Sound) String() string {
	switch s {
	case SoundBeep:
		return "beep"
	case SoundTone:
		return "tone"
	case SoundBuzzer:
		return "buzzer"
	default:
		return "none"
	}
}

// Request limits
const (
	MaxBeepCount     = 128
	MaxToneCount     = 7
	MaxToneInterval  = 15
	MaxBuzzerSeconds = 255
)

type soundLevel uint8

const (
	levelOff soundLevel = iota
	levelLow
	levelHigh
)

type soundRequest struct {
	kind       Sound
	count      int
	interval   int
	duration   int
	continuous bool
}

// silent reports a tone with nothing to play, which stops a running tone
// at once instead of waiting for its cycle to end.
func (r soundRequest) silent() bool {
	return r.kind == SoundTone && r.count == 0 && !r.continuous
}

// newBeep clamps a beep request. A zero count is a no-op.
func newBeep(count int) (soundRequest, bool) {
	if count <= 0 {
		return soundRequest{}, false
	}
	return soundRequest{kind: SoundBeep, count: min(count, MaxBeepCount)}, true
}

// newTone clamps a tone request. Tone(0, false) is a valid silent tone.
func newTone(count int, continuous bool, interval int) soundRequest {
	return soundRequest{
		kind:       SoundTone,
		count:      max(0, min(count, MaxToneCount)),
		interval:   max(1, min(interval, MaxToneInterval)),
		continuous: continuous,
	}
}

// newBuzzer clamps a buzzer request. A zero duration is a no-op.
func newBuzzer(duration int) (soundRequest, bool) {
	if duration <= 0 {
		return soundRequest{}, false
	}
	return soundRequest{kind: SoundBuzzer, duration: min(duration, MaxBuzzerSeconds)}, true
}

// sounder sequences acoustic requests against the platform clock. It is
// ticked from both the edge handler and Poll, so all state sits behind mu.
type sounder struct {
	pin     Pin
	duty    DutyPin
	lastErr error

	active  soundRequest
	pending soundRequest
	start   time.Duration
	// switchAt is when a queued tone replaces the active one.
	switchAt time.Duration

	pulse    time.Duration
	gap      time.Duration
	toneUnit time.Duration
	buzzUnit time.Duration
	lowDuty  float64

	mu         syncutil.Mutex
	level      soundLevel
	hasActive  bool
	hasPending bool
}

func newSounder(pin Pin, cfg *Config) *sounder {
	s := &sounder{
		pin:      pin,
		pulse:    cfg.BeepDuration,
		gap:      cfg.BeepGap,
		toneUnit: cfg.ToneUnit,
		buzzUnit: cfg.BuzzerUnit,
		lowDuty:  cfg.ToneLowDuty,
	}
	if dp, ok := pin.(DutyPin); ok {
		s.duty = dp
	}
	return s
}

// request starts or queues a request. A different kind preempts the active
// request at once; the same kind waits for the active one's last edge, with
// the newest queued request winning.
func (s *sounder) request(now time.Duration, req soundRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasActive || req.kind != s.active.kind || req.silent() {
		s.startLocked(now, req)
		s.hasPending = false
		s.tickLocked(now)
		return
	}

	s.pending = req
	s.hasPending = true
	if req.kind == SoundTone {
		// the cycle in progress always finishes, even one starting at now
		cycle := s.cycle(s.active)
		elapsed := max(0, now-s.start)
		s.switchAt = s.start + (elapsed/cycle+1)*cycle
	}
	s.tickLocked(now)
}

func (s *sounder) startLocked(now time.Duration, req soundRequest) {
	s.active = req
	s.hasActive = true
	s.start = now
}

func (s *sounder) tick(now time.Duration) {
	s.mu.Lock()
	s.tickLocked(now)
	s.mu.Unlock()
}

func (s *sounder) tickLocked(now time.Duration) {
	for s.hasActive {
		level, done := s.levelAt(now)
		if !done {
			s.setLevel(level)
			return
		}
		s.hasActive = false
		if s.hasPending {
			s.hasPending = false
			s.startLocked(now, s.pending)
			if s.active.kind == SoundBeep {
				// keep the queued beeps discrete
				s.start += s.gap
			}
		}
	}
	s.setLevel(levelOff)
}

// levelAt returns the output level of the active request and whether it
// has passed its last scheduled edge.
func (s *sounder) levelAt(now time.Duration) (soundLevel, bool) {
	elapsed := now - s.start
	if elapsed < 0 {
		return levelOff, false
	}
	period := s.pulse + s.gap

	switch s.active.kind {
	case SoundBeep:
		length := time.Duration(s.active.count)*period - s.gap
		if elapsed >= length {
			return levelOff, true
		}
		if elapsed%period < s.pulse {
			return levelHigh, false
		}
		return levelOff, false

	case SoundTone:
		if s.hasPending && now >= s.switchAt {
			return levelOff, true
		}
		if s.active.count == 0 && !s.active.continuous {
			return levelOff, true
		}
		pos := elapsed % s.cycle(s.active)
		if int(pos/period) < s.active.count && pos%period < s.pulse {
			return levelHigh, false
		}
		if s.active.continuous {
			return levelLow, false
		}
		return levelOff, false

	case SoundBuzzer:
		if elapsed >= time.Duration(s.active.duration)*s.buzzUnit {
			return levelOff, true
		}
		return levelHigh, false

	default:
		return levelOff, true
	}
}

// cycle is the tone repeat period. It stretches past the interval when the
// pulses would not fit in it.
func (s *sounder) cycle(req soundRequest) time.Duration {
	return max(time.Duration(req.interval)*s.toneUnit, time.Duration(req.count)*(s.pulse+s.gap))
}

func (s *sounder) setLevel(level soundLevel) {
	if level == s.level || s.pin == nil {
		s.level = level
		return
	}
	s.level = level

	var err error
	switch {
	case s.duty != nil && level == levelHigh:
		err = s.duty.WriteDuty(1)
	case s.duty != nil && level == levelLow:
		err = s.duty.WriteDuty(s.lowDuty)
	case s.duty != nil:
		err = s.duty.WriteDuty(0)
	default:
		err = s.pin.Write(level == levelHigh)
	}
	if err != nil {
		s.lastErr = err
	}
}

// current returns the kind being played after advancing to now.
func (s *sounder) current(now time.Duration) Sound {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickLocked(now)
	if !s.hasActive {
		return SoundNone
	}
	return s.active.kind
}

// takeErr returns and clears the last output error.
func (s *sounder) takeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lastErr
	s.lastErr = nil
	return err
}
