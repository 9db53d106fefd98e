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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	keybus "github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/capture"
	"github.com/ZaparooProject/go-keybus/internal/config"
	"github.com/ZaparooProject/go-keybus/platform/periph"
	"github.com/ZaparooProject/go-keybus/polling"
	"github.com/ZaparooProject/go-keybus/sink/uart"
)

// daemon owns a started keypad and the session polling it.
type daemon struct {
	logger   *slog.Logger
	keypad   *keybus.Keypad
	session  *polling.Session
	capture  *capture.Writer
	trace    io.Writer
	platform *periph.Platform
	closers  []func() error
}

// openDaemon opens the GPIO platform, the optional trace sink, session log
// and capture file, then starts the keypad. On error everything opened so
// far is closed.
func openDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{logger: logger, trace: io.Discard}
	if err := d.open(cfg); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *daemon) open(cfg *config.Config) error {
	if cfg.Trace.SessionLog {
		path, err := keybus.InitSessionLog(cfg.Trace.SessionLogDir)
		if err != nil {
			return fmt.Errorf("failed to open session log: %w", err)
		}
		d.closers = append(d.closers, keybus.CloseSessionLog)
		d.logger.Info("session log opened", "path", path)
	}

	if cfg.Trace.Port != "" {
		sink, err := uart.Open(cfg.Trace.Port, cfg.Trace.Baud)
		if err != nil {
			return fmt.Errorf("failed to open trace port: %w", err)
		}
		d.trace = sink
		d.closers = append(d.closers, sink.Close)
	}

	platform, err := periph.New(cfg.PeriphOptions())
	if err != nil {
		return fmt.Errorf("failed to open GPIO: %w", err)
	}
	d.platform = platform
	d.closers = append(d.closers, platform.Close)

	keypad, err := keybus.New(platform, cfg.KeypadConfig())
	if err != nil {
		return fmt.Errorf("failed to create keypad: %w", err)
	}
	if err := keypad.Start(d.trace); err != nil {
		return fmt.Errorf("failed to start keypad: %w", err)
	}
	d.keypad = keypad
	d.closers = append(d.closers, keypad.Stop)

	sessionCfg := cfg.SessionConfig()
	d.session = polling.NewSession(keypad, sessionCfg)
	d.session.SetRecoverer(polling.RecovererFromConfig(keypad, d.trace, platform.Reinit, sessionCfg.Recovery))
	d.closers = append(d.closers, d.session.Close)

	if cfg.Capture.Path != "" {
		return d.openCapture(cfg.Capture.Path)
	}
	return nil
}

func (d *daemon) openCapture(path string) error {
	f, err := os.Create(path) //nolint:gosec // path comes from the operator's config
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	w, err := capture.NewWriter(f, "keypad "+version)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to start capture: %w", err)
	}
	d.capture = w
	d.closers = append(d.closers, f.Close)
	d.logger.Info("capturing frames", "path", path)
	return nil
}

// frameHook returns the frame callback: the capture writer, then next.
// It returns next unchanged when nothing is captured.
func (d *daemon) frameHook(next func(keybus.Snapshot) error) func(keybus.Snapshot) error {
	if d.capture == nil {
		return next
	}
	return func(snap keybus.Snapshot) error {
		if err := d.capture.Write(snap); err != nil {
			return err
		}
		if next != nil {
			return next(snap)
		}
		return nil
	}
}

// Close releases everything in reverse order of opening.
func (d *daemon) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && !errors.Is(err, keybus.ErrNotStarted) {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	if d.capture != nil {
		d.logger.Info("capture closed", "frames", d.capture.Count())
	}
	return errors.Join(errs...)
}
