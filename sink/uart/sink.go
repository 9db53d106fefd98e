// go-keybus
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-keybus.
//
// go-keybus is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-keybus is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-keybus; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package uart writes keypad trace output to a serial port.
package uart

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/internal/syncutil"
	"go.bug.st/serial"
)

// DefaultBaudRate matches the usual USB-serial console setting.
const DefaultBaudRate = 115200

// ErrSinkClosed is returned by Write after Close.
var ErrSinkClosed = errors.New("trace sink closed")

// port is the part of serial.Port a sink needs.
type port interface {
	io.Writer
	Drain() error
	Close() error
}

// Sink is an io.Writer over a serial port, suitable as keypad trace output.
// Writes are serialized and drained before returning.
type Sink struct {
	port     port
	portName string
	mu       syncutil.Mutex
	closed   bool
}

// Open opens portName at baud, 8N1. A baud of zero uses DefaultBaudRate.
func Open(portName string, baud int) (*Sink, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	p, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}
	return newSink(p, portName), nil
}

func newSink(p port, portName string) *Sink {
	return &Sink{port: p, portName: portName}
}

// Name returns the port the sink writes to.
func (s *Sink) Name() string {
	return s.portName
}

// Write sends p in full, retrying short writes, then drains the port.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSinkClosed
	}

	const maxStalls = 3
	written, stalls := 0, 0
	for written < len(p) {
		n, err := s.port.Write(p[written:])
		written += n
		if err != nil {
			return written, keybus.NewPinWriteError("trace", s.portName, err)
		}
		if n == 0 {
			stalls++
			if stalls >= maxStalls {
				return written, keybus.NewPinWriteError("trace", s.portName, io.ErrShortWrite)
			}
			continue
		}
		stalls = 0
	}

	if err := s.drainWithRetry("trace"); err != nil {
		return written, err
	}
	return written, nil
}

// Close closes the port. Further writes fail with ErrSinkClosed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry drains the port, retrying interrupted system calls
func (s *Sink) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := s.port.Drain()
		if err == nil {
			return nil
		}

		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
			continue
		}

		return fmt.Errorf("UART %s drain failed: %w", operation, err)
	}

	return fmt.Errorf("UART %s drain failed after %d retries", operation, maxRetries)
}
