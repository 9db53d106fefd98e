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
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	ktesting "github.com/ZaparooProject/go-keybus/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	t.Run("nil platform", func(t *testing.T) {
		t.Parallel()
		_, err := New(nil, testConfig())
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.ClockPin = ""
		_, err := New(newSimPlatform(&testOptions{}), cfg)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("unknown pin", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.ReadPin = "GPIO99"
		_, err := New(newSimPlatform(&testOptions{}), cfg)
		require.ErrorIs(t, err, ktesting.ErrUnknownPin)
	})

	t.Run("clock without edges", func(t *testing.T) {
		t.Parallel()
		_, err := New(newSimPlatform(&testOptions{plain: []string{ktesting.PinClock}}), testConfig())
		require.ErrorIs(t, err, ErrEdgeUnsupported)
		assert.True(t, IsFatal(err))
	})
}

func TestNew_DefaultsBufferFromMemoryClass(t *testing.T) {
	t.Parallel()

	k, _ := newTestKeypad(t, withoutStart(), withConfig(func(c *Config) {
		c.MemoryClass = MemoryLarge
	}))
	assert.Equal(t, 50, k.keys.Cap())

	k, _ = newTestKeypad(t, withoutStart(), withConfig(func(c *Config) {
		c.KeyBufferSize = 3
	}))
	assert.Equal(t, 3, k.keys.Cap())
}

func TestKeypad_StartStop(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t, withoutStart())
	require.ErrorIs(t, k.Stop(), ErrNotStarted)

	require.NoError(t, k.Start(nil))
	assert.True(t, k.Started())
	assert.True(t, panel.Watching())
	require.ErrorIs(t, k.Start(nil), ErrAlreadyStarted)

	require.True(t, k.PushKey(byte(Key1)))
	require.NoError(t, k.Stop())
	assert.False(t, k.Started())
	assert.False(t, panel.Watching())
	assert.Equal(t, 1, k.PendingKeys(), "queued keys survive a stop")

	require.NoError(t, k.Start(nil))
	assert.Equal(t, [2]byte{0xBE, 0xFF}, panel.SendFrame(CmdStatusLights, 0x00))
	require.NoError(t, k.Stop())
}

func TestKeypad_StartWatchFailure(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t, withoutStart())
	panel.Close()

	err := k.Start(nil)
	require.ErrorIs(t, err, ktesting.ErrPanelClosed)
	assert.False(t, k.Started())
}

func TestKeypad_PollReturnsEachFrameOnce(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)
	assert.False(t, k.Poll(), "no frame yet")

	panel.SendFrame(0x05, 0x81)
	require.True(t, k.Poll())
	assert.False(t, k.Poll(), "same frame must not be returned twice")

	assert.Equal(t, Frame{0x05, 0x81}, k.CommandFrame())
	assert.Equal(t, Frame{0xFF, 0xFF}, k.ModuleFrame())
	assert.Equal(t, uint64(1), k.Snapshot().Seq)

	patterns := [][2]byte{{0x00, 0x00}, {0xAA, 0x55}, {0x80, 0x01}, {0xFF, 0xFE}}
	for _, p := range patterns {
		panel.SendFrame(p[0], p[1])
		require.True(t, k.Poll())
		assert.Equal(t, Frame{p[0], p[1]}, k.CommandFrame())
	}
	assert.Equal(t, uint64(len(patterns)+1), k.Snapshot().Seq)
}

func TestKeypad_PollKeepsLatestOfSkippedFrames(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)
	panel.SendFrame(0x11, 0x01)
	panel.SendFrame(0x22, 0x02)

	require.True(t, k.Poll())
	assert.Equal(t, Frame{0x22, 0x02}, k.CommandFrame())
	assert.False(t, k.Poll())
}

func TestKeypad_ReadyLight(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)
	panel.SendFrame(CmdStatusLights, 0x01)
	require.True(t, k.Poll())

	lights := k.Lights()
	for i, l := range lights {
		if Indicator(i) == IndicatorReady {
			assert.Equal(t, LightOn, l)
			continue
		}
		assert.Equal(t, LightOff, l, "indicator %s", Indicator(i))
	}
	assert.Empty(t, k.ChangedLights(), "first frame seeds without changes")
}

func TestKeypad_LightChanges(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)

	panel.SendFrame(CmdStatusLights, 0x01)
	require.True(t, k.Poll())

	panel.SendFrame(CmdStatusLights, 0x03)
	require.True(t, k.Poll())
	assert.Equal(t, []Indicator{IndicatorArmed}, k.ChangedLights())

	panel.SendFrame(CmdLightsBlink, 0x02)
	require.True(t, k.Poll())
	assert.Equal(t, []Indicator{IndicatorArmed}, k.ChangedLights())
	assert.Equal(t, LightBlink, k.Light(IndicatorArmed))

	panel.SendFrame(CmdLightsBlink, 0x02)
	require.True(t, k.Poll())
	assert.Empty(t, k.ChangedLights(), "identical bytes change nothing")

	panel.SendFrame(CmdZoneLights, 0x81)
	require.True(t, k.Poll())
	assert.Empty(t, k.ChangedLights(), "first zone frame seeds the zones")
	assert.Equal(t, LightOn, k.Light(IndicatorZone8))

	panel.SendFrame(CmdZoneLights, 0x01)
	require.True(t, k.Poll())
	assert.Equal(t, []Indicator{IndicatorZone8}, k.ChangedLights())

	panel.SendFrame(0x11, 0x00)
	require.True(t, k.Poll())
	assert.Empty(t, k.ChangedLights(), "non-light frames report no changes")
	assert.Equal(t, LightOn, k.Light(IndicatorZone1))
}

func TestKeypad_BlinkBeforeLightsDoesNotSeed(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)

	panel.SendFrame(CmdLightsBlink, 0x00)
	require.True(t, k.Poll())
	assert.Empty(t, k.ChangedLights())

	panel.SendFrame(CmdStatusLights, 0x01)
	require.True(t, k.Poll())
	assert.Empty(t, k.ChangedLights(), "first status frame seeds")
	assert.Equal(t, LightOn, k.Light(IndicatorReady))
}

func TestKeypad_PushKeyDrivesCode(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)
	require.True(t, k.PushKey(0x7A))

	observed := panel.SendFrame(CmdStatusLights, 0x00)
	assert.Equal(t, [2]byte{0x7A, 0xFF}, observed)
	assert.Zero(t, k.PendingKeys())
	assert.False(t, mustSimPin(t, panel, ktesting.PinWrite).Level(), "write line released")

	require.True(t, k.Poll())
	snap := k.Snapshot()
	assert.True(t, snap.Driven)
	assert.Equal(t, byte(0x7A), snap.DrivenCode)
	assert.Equal(t, Frame{0x7A, 0xFF}, snap.Module)

	_, ready := k.Key()
	assert.False(t, ready, "own key is not reported as a foreign key")
}

func TestKeypad_KeyInterval(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)
	n, err := k.WriteKeys("12")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var got []byte
	for range 5 {
		got = append(got, panel.SendFrame(CmdStatusLights, 0x00)[0])
	}
	assert.Equal(t, []byte{0xBE, 0xFF, 0xFF, 0xDE, 0xFF}, got)
}

func TestKeypad_WriteKeys(t *testing.T) {
	t.Parallel()

	k, _ := newTestKeypad(t, withoutStart(), withConfig(func(c *Config) {
		c.KeyBufferSize = 4
	}))

	n, err := k.WriteKeys("1 2\t3")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = k.WriteKeys("x")
	require.ErrorIs(t, err, ErrUnknownKey)
	assert.Zero(t, n)

	n, err = k.WriteKeys("#*")
	require.ErrorIs(t, err, ErrKeyBufferFull)
	assert.Equal(t, 1, n)
	assert.Equal(t, 4, k.PendingKeys())

	assert.True(t, k.BufferOverflow(false))
	assert.True(t, k.BufferOverflow(true))
	assert.False(t, k.BufferOverflow(false))
}

func TestKeypad_SilenceResetsFraming(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []testOption
	}{
		{name: "timestamp check"},
		{name: "countdown", opts: []testOption{withCountdown()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			k, panel := newTestKeypad(t, tt.opts...)
			panel.SendPartial(0x11, 0x22, 5)
			panel.Idle(5 * time.Millisecond)
			assert.False(t, k.Poll())

			panel.SendFrame(0x05, 0x81)
			require.True(t, k.Poll())
			assert.Equal(t, Frame{0x05, 0x81}, k.CommandFrame())
			assert.Equal(t, uint64(1), k.Snapshot().Seq)
		})
	}
}

func TestKeypad_SilenceCountdownFires(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t, withCountdown())
	cd, ok := k.countdown.(*ktesting.SimCountdown)
	require.True(t, ok)

	panel.SendPartial(0x11, 0x22, 5)
	panel.Idle(5 * time.Millisecond)
	assert.Equal(t, 1, cd.Fired())

	k.isrMu.Lock()
	assert.False(t, k.inFrame)
	assert.Zero(t, k.moduleBits)
	k.isrMu.Unlock()
}

func TestKeypad_StaleCountdownIgnored(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t, withCountdown())
	panel.SendPartial(0x11, 0x22, 5)

	// the last edge is half a period old, well inside the silence window
	k.onSilence()

	k.isrMu.Lock()
	assert.True(t, k.inFrame)
	assert.Equal(t, 5, k.moduleBits)
	k.isrMu.Unlock()
}

func TestKeypad_SilenceKeepsInterruptedKey(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)
	require.NoError(t, k.WriteKey('1'))

	panel.SendPartial(0x05, 0x00, 4)
	panel.Idle(5 * time.Millisecond)
	assert.Equal(t, 1, k.PendingKeys())

	assert.Equal(t, [2]byte{0xBE, 0xFF}, panel.SendFrame(0x05, 0x00))
	assert.Zero(t, k.PendingKeys())
}

func TestKeypad_AlarmKeyHeld(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)
	require.NoError(t, k.WriteKey('f'))

	frames := 0
	for k.PendingKeys() > 0 && frames < 100 {
		observed := panel.SendFrame(CmdStatusLights, 0x00)
		require.Equal(t, byte(KeyFire), observed[0], "frame %d", frames)
		frames++
	}
	assert.GreaterOrEqual(t, frames, 38, "alarm key held for the full hold time")
	assert.True(t, k.ResponsePending())

	require.NoError(t, k.WriteKey('1'))
	assert.Equal(t, byte(0xFF), panel.SendFrame(CmdStatusLights, 0x00)[0], "suppressed after alarm")

	panel.Idle(500 * time.Millisecond)
	assert.Equal(t, byte(Key1), panel.SendFrame(CmdStatusLights, 0x00)[0])
	assert.False(t, k.ResponsePending())
}

func TestKeypad_AlarmKeyAcknowledged(t *testing.T) {
	t.Parallel()

	const ackCommand = 0x4C
	k, panel := newTestKeypad(t, withConfig(func(c *Config) {
		c.AlarmAcknowledged = func(s Snapshot) bool {
			return s.Command.Command() == ackCommand
		}
	}))
	require.True(t, k.PushKey(byte(KeyPanic)))

	for k.PendingKeys() > 0 {
		panel.SendFrame(CmdStatusLights, 0x00)
		k.Poll()
	}
	require.True(t, k.ResponsePending())

	require.NoError(t, k.WriteKey('2'))
	panel.Idle(600 * time.Millisecond)
	assert.Equal(t, byte(0xFF), panel.SendFrame(CmdStatusLights, 0x00)[0], "waiting for acknowledgement")
	k.Poll()

	panel.SendFrame(ackCommand, 0x00)
	k.Poll()
	assert.Equal(t, byte(Key2), panel.SendFrame(CmdStatusLights, 0x00)[0])
	assert.False(t, k.ResponsePending())
}

func TestKeypad_AlarmAckTimeout(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t, withConfig(func(c *Config) {
		c.AlarmAcknowledged = func(Snapshot) bool { return false }
	}))
	require.True(t, k.PushKey(byte(KeyAux)))
	for k.PendingKeys() > 0 {
		panel.SendFrame(CmdStatusLights, 0x00)
	}

	require.NoError(t, k.WriteKey('3'))
	panel.Idle(time.Second)
	assert.Equal(t, byte(0xFF), panel.SendFrame(CmdStatusLights, 0x00)[0])

	panel.Idle(3 * time.Second)
	assert.Equal(t, byte(Key3), panel.SendFrame(CmdStatusLights, 0x00)[0])
}

func TestKeypad_ForeignKey(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)
	panel.PressKey(byte(Key1))

	panel.SendFrame(CmdStatusLights, 0x00)
	require.True(t, k.Poll())
	key, ready := k.Key()
	require.True(t, ready)
	assert.Equal(t, Key1, key)
	k.ClearKey()

	for i := range 5 {
		panel.SendFrame(CmdStatusLights, 0x00)
		require.True(t, k.Poll())
		_, ready = k.Key()
		assert.False(t, ready, "debounced frame %d", i)
	}

	panel.SendFrame(CmdStatusLights, 0x00)
	require.True(t, k.Poll())
	_, ready = k.Key()
	assert.True(t, ready, "held key repeats")
	k.ClearKey()

	panel.PressKey(byte(Key2))
	panel.SendFrame(CmdStatusLights, 0x00)
	require.True(t, k.Poll())
	key, ready = k.Key()
	require.True(t, ready)
	assert.Equal(t, Key2, key)
}

func TestKeypad_ForeignAlarmKeyNeedsHold(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)
	panel.PressKey(byte(KeyFire))

	seen := 0
	for range 60 {
		panel.SendFrame(CmdStatusLights, 0x00)
		k.Poll()
		if key, ready := k.Key(); ready {
			assert.Equal(t, KeyFire, key)
			seen++
			k.ClearKey()
		}
	}
	assert.Equal(t, 1, seen)
}

func TestKeypad_PanelSounds(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)

	panel.SendFrame(CmdBeep, 0x06)
	require.True(t, k.Poll())
	assert.Equal(t, SoundBeep, k.Sounding())

	panel.SendFrame(CmdBuzzer, 0x02)
	require.True(t, k.Poll())
	assert.Equal(t, SoundBuzzer, k.Sounding())

	panel.SendFrame(CmdTone, EncodeTone(2, true, 3))
	require.True(t, k.Poll())
	assert.Equal(t, SoundTone, k.Sounding())

	panel.SendFrame(CmdTone, 0x00)
	require.True(t, k.Poll())
	assert.Equal(t, SoundNone, k.Sounding())
}

func TestKeypad_PanelSoundsDisabled(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t, withConfig(func(c *Config) {
		c.PanelSounds = false
	}))

	panel.SendFrame(CmdBeep, 0x06)
	require.True(t, k.Poll())
	assert.Equal(t, SoundNone, k.Sounding())

	k.Beep(1)
	assert.Equal(t, SoundBeep, k.Sounding())
	panel.Idle(200 * time.Millisecond)
	assert.Equal(t, SoundNone, k.Sounding())
}

func TestKeypad_BeepPulses(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)
	sounder := mustSimPin(t, panel, ktesting.PinSounder)

	k.Beep(3)
	for range 600 {
		panel.Idle(time.Millisecond)
		k.Sounding()
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond,
	}, sounder.Pulses())
}

func TestKeypad_Connected(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t)
	assert.False(t, k.Connected())

	panel.SendFrame(CmdStatusLights, 0x00)
	assert.True(t, k.Connected())

	panel.Idle(3 * time.Second)
	assert.False(t, k.Connected())
}

func TestKeypad_Print(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t, withoutStart())
	var buf bytes.Buffer
	require.NoError(t, k.Start(&buf))
	defer func() { _ = k.Stop() }()

	require.NoError(t, k.WriteKey('1'))
	panel.SendFrame(CmdStatusLights, 0x81)
	require.True(t, k.Poll())

	require.NoError(t, k.PrintFrame())
	assert.Contains(t, buf.String(), "Panel: 00000101 10000001  Module: 10111110 11111111")

	buf.Reset()
	require.NoError(t, k.PrintLights())
	assert.Contains(t, buf.String(), "ready:on")
	assert.Contains(t, buf.String(), "backlight:on")
	assert.Contains(t, buf.String(), "zone1:off")

	buf.Reset()
	require.NoError(t, k.PrintModule())
	assert.Contains(t, buf.String(), "(sent 1)")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("sink gone")
}

func TestKeypad_PrintWriteFailure(t *testing.T) {
	t.Parallel()

	k, _ := newTestKeypad(t, withoutStart())
	require.NoError(t, k.Start(failingWriter{}))
	defer func() { _ = k.Stop() }()

	require.Error(t, k.PrintFrame())
}

func TestKeypad_JitteredBus(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t, withPanel(ktesting.WithJitter(ktesting.JitterConfig{
		MaxSkew:    300 * time.Microsecond,
		MaxGapSkew: 5 * time.Millisecond,
		Seed:       42,
	})))

	for i := range 50 {
		cmd, status := byte(i*7), byte(0xFF-i)
		panel.SendFrame(cmd, status)
		require.True(t, k.Poll(), "frame %d", i)
		require.Equal(t, Frame{cmd, status}, k.CommandFrame(), "frame %d", i)
	}
}

func TestKeypad_ConcurrentProducer(t *testing.T) {
	t.Parallel()

	k, panel := newTestKeypad(t, withCountdown())
	want := []byte{byte(Key1), byte(Key2), byte(Key3), byte(Key4), byte(Key5), byte(Key6), byte(Key7), byte(Key8)}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, code := range want {
			for !k.PushKey(code) {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	var got []byte
	for i := 0; i < 10000 && len(got) < len(want); i++ {
		if code := panel.SendFrame(CmdStatusLights, 0x00)[0]; code != 0xFF {
			got = append(got, code)
		}
		k.Poll()
	}
	wg.Wait()

	assert.Equal(t, want, got)
	assert.False(t, k.BufferOverflow(false))
}
