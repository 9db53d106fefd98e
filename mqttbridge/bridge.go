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

package mqttbridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	keybus "github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/polling"
)

const (
	// keyWriteTimeout bounds the wait for buffer space for one keys message.
	keyWriteTimeout = 10 * time.Second
	// keyQueueSize is how many keys messages may wait for the writer.
	keyQueueSize = 16
)

// Broker is the part of *Client a Bridge uses.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// Controller is the part of *keybus.Keypad driven by incoming commands.
type Controller interface {
	WriteKeys(s string) (int, error)
	Beep(count int)
	Tone(count int, continuous bool, interval int)
	Buzzer(duration int)
	Lights() [keybus.IndicatorCount]keybus.Light
}

// Bridge publishes decoded keypad activity and turns command topics into
// keypad requests. Keys messages are written by a single goroutine so a
// full key buffer never holds up the other command topics.
type Bridge struct {
	broker    Broker
	keypad    Controller
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	keyQueue  chan string
	topics    Topics
	clientID  string
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	down      atomic.Bool
	qos       byte
	frames    bool
}

// New returns a bridge publishing under opts.TopicPrefix.
func New(broker Broker, keypad Controller, opts Options, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		broker:   broker,
		keypad:   keypad,
		logger:   logger.With("component", "bridge"),
		ctx:      ctx,
		cancel:   cancel,
		keyQueue: make(chan string, keyQueueSize),
		topics:   Topics{Prefix: opts.TopicPrefix},
		clientID: opts.ClientID,
		qos:      opts.QoS,
		frames:   opts.PublishFrames,
	}
}

// Topics returns the topic layout in use.
func (b *Bridge) Topics() Topics {
	return b.topics
}

// Start runs the key writer and subscribes to the command topics.
func (b *Bridge) Start() error {
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.runKeyWriter()
	})

	subs := []struct {
		handler MessageHandler
		topic   string
	}{
		{topic: b.topics.KeysSet(), handler: b.handleKeys},
		{topic: b.topics.BeepSet(), handler: b.handleBeep},
		{topic: b.topics.ToneSet(), handler: b.handleTone},
		{topic: b.topics.BuzzerSet(), handler: b.handleBuzzer},
	}
	for _, sub := range subs {
		if err := b.broker.Subscribe(sub.topic, b.qos, sub.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.topic, err)
		}
	}
	return nil
}

// Close stops the key writer, dropping keys messages still queued.
func (b *Bridge) Close() error {
	b.closeOnce.Do(b.cancel)
	b.wg.Wait()
	return nil
}

// Attach installs publishing callbacks on session. It replaces any frame,
// key, light, bus and overflow callbacks already set. Broker outages are
// logged instead of stopping the session.
func (b *Bridge) Attach(session *polling.Session) {
	if b.frames {
		session.SetOnFrame(b.ForwardFrame)
	}
	session.SetOnKey(func(key keybus.Key) error {
		return b.tolerate("key", b.PublishKey(key))
	})
	session.SetOnLightChanged(func(ind keybus.Indicator, light keybus.Light) error {
		return b.tolerate("light", b.PublishLight(ind, light))
	})
	session.SetOnBusLost(func(err error) {
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		b.publishStatus(StatusBusLost, reason)
	})
	session.SetOnBusRestored(func() {
		b.publishStatus(StatusConnected, "")
	})
	session.SetOnOverflow(func() {
		b.logger.Warn("key buffer overflowed")
	})
}

// ForwardFrame publishes snap like PublishFrame, logging broker outages
// instead of returning them. It suits session frame callbacks.
func (b *Bridge) ForwardFrame(snap keybus.Snapshot) error {
	return b.tolerate("frame", b.PublishFrame(snap))
}

// tolerate swallows publish errors caused by the broker being unreachable.
// Paho reconnects by itself and lights are republished once it does. Only
// the first failure of an outage is logged.
func (b *Bridge) tolerate(what string, err error) error {
	if err == nil {
		if b.down.Swap(false) {
			b.logger.Info("publishing resumed", "kind", what)
		}
		return nil
	}
	if !errors.Is(err, ErrNotConnected) && !errors.Is(err, ErrPublishFailed) {
		return err
	}
	if !b.down.Swap(true) {
		b.logger.Warn("publishing failed, dropping updates until the broker is back", "kind", what, "error", err)
	}
	return nil
}

// PublishLight publishes one indicator as a retained state.
func (b *Bridge) PublishLight(ind keybus.Indicator, light keybus.Light) error {
	return b.broker.Publish(b.topics.Light(ind), []byte(light.String()), b.qos, true)
}

// PublishLights publishes every indicator, for example after a reconnect.
func (b *Bridge) PublishLights() error {
	lights := b.keypad.Lights()
	for i, light := range lights {
		if err := b.PublishLight(keybus.Indicator(i), light); err != nil {
			return err
		}
	}
	return nil
}

type keyMessage struct {
	Key   string `json:"key"`
	Code  byte   `json:"code"`
	Value byte   `json:"value"`
	Alarm bool   `json:"alarm,omitempty"`
}

// PublishKey publishes a key pressed on another keypad.
func (b *Bridge) PublishKey(key keybus.Key) error {
	payload, err := json.Marshal(keyMessage{
		Key:   key.String(),
		Code:  byte(key),
		Value: key.Value(),
		Alarm: key.IsAlarm(),
	})
	if err != nil {
		return fmt.Errorf("encode key: %w", err)
	}
	return b.broker.Publish(b.topics.Key(), payload, b.qos, false)
}

type frameMessage struct {
	Command string `json:"command"`
	Module  string `json:"module"`
	Seq     uint64 `json:"seq"`
	Driven  bool   `json:"driven,omitempty"`
}

// PublishFrame publishes a raw frame at QoS 0.
func (b *Bridge) PublishFrame(snap keybus.Snapshot) error {
	payload, err := json.Marshal(frameMessage{
		Command: hex.EncodeToString(snap.Command[:]),
		Module:  hex.EncodeToString(snap.Module[:]),
		Seq:     snap.Seq,
		Driven:  snap.Driven,
	})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return b.broker.Publish(b.topics.Frame(), payload, 0, false)
}

func (b *Bridge) publishStatus(status, reason string) {
	if err := b.broker.Publish(b.topics.Status(), statusPayload(status, b.clientID, reason), b.qos, true); err != nil {
		b.logger.Warn("publishing status failed", "status", status, "error", err)
	}
}

// handleKeys validates a key string and hands it to the key writer.
func (b *Bridge) handleKeys(_ string, payload []byte) error {
	keys := string(payload)
	if strings.TrimSpace(keys) == "" {
		return fmt.Errorf("%w: empty key string", ErrInvalidPayload)
	}
	for _, r := range keys {
		if _, ok := keybus.KeyForRune(r); !ok && !unicode.IsSpace(r) {
			return fmt.Errorf("%w: %q", keybus.ErrUnknownKey, r)
		}
	}
	select {
	case b.keyQueue <- keys:
		return nil
	default:
		return ErrKeyQueueFull
	}
}

func (b *Bridge) runKeyWriter() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case keys := <-b.keyQueue:
			b.writeKeys(keys)
		}
	}
}

func (b *Bridge) writeKeys(keys string) {
	ctx, cancel := context.WithTimeout(b.ctx, keyWriteTimeout)
	defer cancel()
	if err := keybus.WriteKeysWithRetry(ctx, b.keypad, keys, 0); err != nil {
		b.logger.Warn("writing keys failed", "keys", len(keys), "error", err)
		return
	}
	b.logger.Debug("queued keys", "keys", len(keys))
}

func (b *Bridge) handleBeep(_ string, payload []byte) error {
	count, err := parseCount(payload)
	if err != nil {
		return err
	}
	b.keypad.Beep(count)
	return nil
}

func (b *Bridge) handleBuzzer(_ string, payload []byte) error {
	duration, err := parseCount(payload)
	if err != nil {
		return err
	}
	b.keypad.Buzzer(duration)
	return nil
}

type toneMessage struct {
	Count      int  `json:"count"`
	Interval   int  `json:"interval"`
	Continuous bool `json:"continuous"`
}

// handleTone accepts a JSON tone or a single status byte in decimal.
func (b *Bridge) handleTone(_ string, payload []byte) error {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var msg toneMessage
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		b.keypad.Tone(msg.Count, msg.Continuous, msg.Interval)
		return nil
	}
	status, err := strconv.ParseUint(text, 0, 8)
	if err != nil {
		return fmt.Errorf("%w: tone %q", ErrInvalidPayload, text)
	}
	b.keypad.Tone(keybus.PanelTone(byte(status)))
	return nil
}

func parseCount(payload []byte) (int, error) {
	text := strings.TrimSpace(string(payload))
	n, err := strconv.Atoi(text)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: count %q", ErrInvalidPayload, text)
	}
	return n, nil
}
