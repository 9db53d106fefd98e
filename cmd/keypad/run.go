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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	keybus "github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/internal/config"
	"github.com/ZaparooProject/go-keybus/mqttbridge"
	"github.com/ZaparooProject/go-keybus/polling"
	"github.com/spf13/cobra"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the keypad headless",
		Long: `Run the keypad without a terminal UI.

Decoded lights and keys are logged. With mqtt.enabled they are also
published to the broker, and keys, beeps, tones and buzzer requests are
taken from its command topics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Logging, version)
			return runDaemon(cmd.Context(), cfg, logger)
		},
	}
}

func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	d, err := openDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logSession(d.session, logger)

	var publishFrame func(keybus.Snapshot) error
	if cfg.MQTT.Enabled {
		bridge, client, err := startBridge(cfg.BridgeOptions(), d.keypad, logger)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, client.Close, bridge.Close)
		bridge.Attach(d.session)
		if cfg.MQTT.PublishFrames {
			publishFrame = bridge.ForwardFrame
		}
	}
	if hook := d.frameHook(publishFrame); hook != nil {
		d.session.SetOnFrame(hook)
	}

	logger.Info("keypad running",
		"clock", cfg.Bus.ClockPin, "read", cfg.Bus.ReadPin, "write", cfg.Bus.WritePin)

	err = d.session.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("polling stopped: %w", err)
	}
	logger.Info("keypad stopped", "frames", d.session.GetState().Frames)
	return nil
}

// logSession installs logging callbacks. A bridge attached later replaces
// the key and light callbacks.
func logSession(session *polling.Session, logger *slog.Logger) {
	session.SetOnKey(func(key keybus.Key) error {
		logger.Info("key pressed", "key", key.String())
		return nil
	})
	session.SetOnLightChanged(func(ind keybus.Indicator, light keybus.Light) error {
		logger.Info("light changed", "light", ind.String(), "state", light.String())
		return nil
	})
	session.SetOnBusLost(func(err error) {
		logger.Warn("bus lost", "error", err)
	})
	session.SetOnBusRestored(func() {
		logger.Info("bus restored")
	})
	session.SetOnOverflow(func() {
		logger.Warn("key buffer overflowed")
	})
}

// startBridge connects to the broker and subscribes the command topics.
// Lights are republished after every reconnect.
func startBridge(
	opts mqttbridge.Options,
	keypad mqttbridge.Controller,
	logger *slog.Logger,
) (*mqttbridge.Bridge, *mqttbridge.Client, error) {
	client, err := mqttbridge.Connect(opts, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	bridge := mqttbridge.New(client, keypad, opts, logger)
	if err := bridge.Start(); err != nil {
		_ = bridge.Close()
		_ = client.Close()
		return nil, nil, err
	}
	client.SetOnConnect(func() {
		if err := bridge.PublishLights(); err != nil {
			logger.Warn("republishing lights failed", "error", err)
		}
	})
	logger.Info("bridge connected", "host", opts.Host, "status_topic", bridge.Topics().Status())
	return bridge, client, nil
}
