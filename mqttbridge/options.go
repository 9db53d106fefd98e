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
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
)

// Options configures the broker connection.
type Options struct {
	Host     string
	ClientID string
	Username string
	Password string
	// TopicPrefix roots every topic, e.g. "keybus".
	TopicPrefix      string
	Port             int
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	QoS              byte
	TLS              bool
	// PublishFrames publishes every polled frame, not only decoded events.
	PublishFrames bool
}

// DefaultOptions returns options for a local broker.
func DefaultOptions() Options {
	return Options{
		Host:             "localhost",
		Port:             1883,
		ClientID:         "keybus",
		TopicPrefix:      "keybus",
		QoS:              1,
		ReconnectInitial: time.Second,
		ReconnectMax:     time.Minute,
	}
}

// buildClientOptions creates paho options: auto-reconnect with backoff, a
// clean session and TLS when enabled.
func buildClientOptions(opts Options) *pahomqtt.ClientOptions {
	po := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if opts.TLS {
		scheme = "ssl"
		po.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	po.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, opts.Host, opts.Port))
	po.SetClientID(opts.ClientID)

	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	po.SetCleanSession(true)
	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	po.SetConnectRetryInterval(opts.ReconnectInitial)
	po.SetMaxReconnectInterval(opts.ReconnectMax)
	po.SetConnectTimeout(defaultConnectTimeout)
	po.SetKeepAlive(defaultKeepAlive)
	return po
}

// configureLWT has the broker publish a retained offline status if the
// connection drops without a clean Close.
func configureLWT(po *pahomqtt.ClientOptions, topics Topics, clientID string) {
	po.SetWill(topics.Status(), string(statusPayload(StatusOffline, clientID, "unexpected_disconnect")), 1, true)
}

// Bridge and bus status values published on the status topic
const (
	StatusOnline    = "online"
	StatusOffline   = "offline"
	StatusBusLost   = "bus_lost"
	StatusConnected = "bus_connected"
)

type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(status, clientID, reason string) []byte {
	b, _ := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}
