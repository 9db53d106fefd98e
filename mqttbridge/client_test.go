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
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	pahomqtt.Token
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakePaho records what a Client sends to paho.
type fakePaho struct {
	pahomqtt.Client
	handlers     map[string]pahomqtt.MessageHandler
	publishErr   error
	subscribeErr error
	published    []published
	subscribed   []string
	mu           sync.Mutex
	connected    bool
	disconnected bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	f.published = append(f.published, published{topic: topic, payload: data, qos: qos, retained: retained})
	return &fakeToken{err: f.publishErr}
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	f.handlers[topic] = callback
	return &fakeToken{err: f.subscribeErr}
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.connected = false
	f.mu.Unlock()
}

func (f *fakePaho) deliver(topic string, payload []byte) {
	f.mu.Lock()
	handler := f.handlers[topic]
	f.mu.Unlock()
	handler(f, &fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

func newTestClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(DefaultOptions(), nil)
	c.client = fake
	c.connected = true
	return c, fake
}

func TestClient_Publish(t *testing.T) {
	t.Parallel()

	t.Run("Success", func(t *testing.T) {
		t.Parallel()
		c, fake := newTestClient(t)

		require.NoError(t, c.Publish("keybus/key", []byte("1"), 1, false))
		require.Len(t, fake.published, 1)
		assert.Equal(t, "keybus/key", fake.published[0].topic)
		assert.Equal(t, []byte("1"), fake.published[0].payload)
	})

	t.Run("Validation", func(t *testing.T) {
		t.Parallel()
		c, fake := newTestClient(t)

		require.ErrorIs(t, c.Publish("", nil, 0, false), ErrInvalidTopic)
		require.ErrorIs(t, c.Publish("t", nil, 3, false), ErrInvalidQoS)
		require.ErrorIs(t, c.Publish("t", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed)
		assert.Empty(t, fake.published)
	})

	t.Run("NotConnected", func(t *testing.T) {
		t.Parallel()
		c, fake := newTestClient(t)
		fake.connected = false

		require.ErrorIs(t, c.Publish("t", nil, 0, false), ErrNotConnected)
	})

	t.Run("TokenError", func(t *testing.T) {
		t.Parallel()
		c, fake := newTestClient(t)
		fake.publishErr = errors.New("broker refused")

		err := c.Publish("t", nil, 0, false)
		require.ErrorIs(t, err, ErrPublishFailed)
		assert.Contains(t, err.Error(), "broker refused")
	})
}

func TestClient_Subscribe(t *testing.T) {
	t.Parallel()

	t.Run("TracksAndRestores", func(t *testing.T) {
		t.Parallel()
		c, fake := newTestClient(t)

		require.NoError(t, c.Subscribe("keybus/beep/set", 1, func(string, []byte) error { return nil }))
		assert.Equal(t, 1, c.SubscriptionCount())

		connects := 0
		c.SetOnConnect(func() { connects++ })
		c.handleDisconnect(errors.New("reset by peer"))
		c.handleConnect()

		assert.Equal(t, []string{"keybus/beep/set", "keybus/beep/set"}, fake.subscribed)
		assert.Equal(t, 1, connects)
		last := fake.published[len(fake.published)-1]
		assert.Equal(t, "keybus/status", last.topic)
		assert.True(t, last.retained)
		assert.Contains(t, string(last.payload), StatusOnline)
	})

	t.Run("FailureIsNotTracked", func(t *testing.T) {
		t.Parallel()
		c, fake := newTestClient(t)
		fake.subscribeErr = errors.New("not authorized")

		err := c.Subscribe("keybus/keys/set", 1, func(string, []byte) error { return nil })
		require.ErrorIs(t, err, ErrSubscribeFailed)
		assert.Zero(t, c.SubscriptionCount())
	})

	t.Run("NilHandler", func(t *testing.T) {
		t.Parallel()
		c, _ := newTestClient(t)
		require.ErrorIs(t, c.Subscribe("t", 0, nil), ErrSubscribeFailed)
	})
}

func TestClient_HandlerPanicRecovered(t *testing.T) {
	t.Parallel()
	c, fake := newTestClient(t)

	calls := 0
	require.NoError(t, c.Subscribe("keybus/tone/set", 0, func(string, []byte) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return errors.New("bad tone")
	}))

	assert.NotPanics(t, func() { fake.deliver("keybus/tone/set", []byte("x")) })
	assert.NotPanics(t, func() { fake.deliver("keybus/tone/set", []byte("x")) })
	assert.Equal(t, 2, calls)
}

func TestClient_Close(t *testing.T) {
	t.Parallel()
	c, fake := newTestClient(t)

	require.NoError(t, c.Close())

	assert.True(t, fake.disconnected)
	assert.False(t, c.IsConnected())
	require.Len(t, fake.published, 1)

	var msg statusMessage
	require.NoError(t, json.Unmarshal(fake.published[0].payload, &msg))
	assert.Equal(t, StatusOffline, msg.Status)
	assert.Equal(t, "graceful_shutdown", msg.Reason)
	assert.Equal(t, "keybus", msg.ClientID)
}

func TestBuildClientOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.TLS = true
	opts.Username = "panel"
	po := buildClientOptions(opts)

	require.Len(t, po.Servers, 1)
	assert.True(t, strings.HasPrefix(po.Servers[0].String(), "ssl://localhost:1883"))
	assert.Equal(t, "panel", po.Username)
	assert.NotNil(t, po.TLSConfig)
}
