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
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// Error categories for setup, recovery and retry logic
var (
	// Lifecycle errors
	ErrNotStarted     = errors.New("keypad not started")
	ErrAlreadyStarted = errors.New("keypad already started")

	// Platform errors - generally not retryable
	ErrPinNotFound     = errors.New("pin not found")
	ErrEdgeUnsupported = errors.New("pin does not support edge detection")
	ErrPlatformClosed  = errors.New("platform is closed")

	// Line errors - potentially retryable
	ErrPinWrite  = errors.New("pin write failed")
	ErrBusSilent = errors.New("no frames received from panel")

	// Caller errors - not retryable
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnknownKey    = errors.New("unknown key")
	ErrKeyBufferFull = errors.New("key buffer full")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// PinError wraps line-level errors with the pin and operation involved
type PinError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Pin       string    // Pin name
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *PinError) Error() string {
	if e.Pin != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Pin, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PinError) Unwrap() error {
	return e.Err
}

// NewPinError creates a pin error with consistent formatting
func NewPinError(op, pin string, err error, errType ErrorType) *PinError {
	return &PinError{
		Op:        op,
		Pin:       pin,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewPinNotFoundError creates a permanent error for an unknown pin name
func NewPinNotFoundError(op, pin string) *PinError {
	return NewPinError(op, pin, ErrPinNotFound, ErrorTypePermanent)
}

// NewEdgeUnsupportedError creates a permanent error for a clock pin without edges
func NewEdgeUnsupportedError(op, pin string) *PinError {
	return NewPinError(op, pin, ErrEdgeUnsupported, ErrorTypePermanent)
}

// NewPinWriteError creates a transient write error
func NewPinWriteError(op, pin string, err error) *PinError {
	return NewPinError(op, pin, fmt.Errorf("%w: %w", ErrPinWrite, err), ErrorTypeTransient)
}

// NewBusSilentError creates a timeout error for a panel that stopped clocking
func NewBusSilentError(op, pin string) *PinError {
	return NewPinError(op, pin, ErrBusSilent, ErrorTypeTimeout)
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pe *PinError
	if errors.As(err, &pe) {
		return pe.Retryable
	}

	switch {
	case errors.Is(err, ErrPinWrite),
		errors.Is(err, ErrBusSilent):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the bus lines are gone and
// recovery should stop entirely. This is distinct from IsRetryable which
// indicates whether a single operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var pe *PinError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrPlatformClosed),
		errors.Is(err, ErrPinNotFound),
		errors.Is(err, ErrEdgeUnsupported),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors indicating the GPIO chip or
// trace adapter disappeared during I/O.
func isDeviceGoneError(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
			return true
		}

		if runtime.GOOS == "windows" {
			//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
			switch errno {
			case errAccessDenied, errGenFailure, errNoSuchDevice:
				return true
			}
		}
	}

	return false
}

// =============================================================================
// Frame Trace Logging
// =============================================================================
// TraceableError embeds recent bus frames in errors, allowing consumer
// applications to see what the panel sent before something went wrong.

// TraceDirection indicates which side of the bus produced the bytes
type TraceDirection string

const (
	// TracePanel indicates a command frame clocked out by the panel
	TracePanel TraceDirection = "PANEL"
	// TraceModule indicates bytes written back by keypads
	TraceModule TraceDirection = "MODULE"
)

// TraceEntry represents a single captured frame half
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	bits := formatBinaryBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, bits, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, bits)
}

// TraceableError wraps an error with recent bus frames for debugging.
// Consumer applications can use errors.As() to extract trace information:
//
//	var te *keybus.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Bus trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Bus   string
	Trace []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s] (no trace data)", e.Bus)
	}

	var sb strings.Builder
	_, _ = sb.WriteString(fmt.Sprintf("[%s] Bus trace (%d entries):\n", e.Bus, len(e.Trace)))

	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceModule {
			direction = "<"
		}
		bits := formatBinaryBytes(entry.Data)
		if entry.Note != "" {
			_, _ = sb.WriteString(fmt.Sprintf("  %s %s (%s)\n", direction, bits, entry.Note))
		} else {
			_, _ = sb.WriteString(fmt.Sprintf("  %s %s\n", direction, bits))
		}
	}

	return sb.String()
}

// TraceBuffer collects recent frames for attaching to errors.
// It uses a fixed-size circular buffer to limit memory usage.
// It is not safe for concurrent use.
type TraceBuffer struct {
	bus     string
	entries []TraceEntry
	maxSize int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(bus string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
		bus:     bus,
	}
}

// RecordPanel records a command frame
func (tb *TraceBuffer) RecordPanel(data []byte, note string) {
	tb.record(TracePanel, data, note)
}

// RecordModule records keypad response bytes
func (tb *TraceBuffer) RecordModule(data []byte, note string) {
	tb.record(TraceModule, data, note)
}

// RecordSnapshot records both halves of a polled frame
func (tb *TraceBuffer) RecordSnapshot(s Snapshot) {
	tb.RecordPanel(s.Command[:], fmt.Sprintf("seq %d", s.Seq))
	note := ""
	if s.Driven {
		note = "driven " + Key(s.DrivenCode).String()
	}
	tb.RecordModule(s.Module[:], note)
}

// RecordSilence records a bus silence event
func (tb *TraceBuffer) RecordSilence(note string) {
	tb.record(TracePanel, nil, "SILENCE: "+note)
}

// record adds an entry to the buffer, evicting oldest if full
func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	entry := TraceEntry{
		Direction: dir,
		Data:      dataCopy,
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// Len returns the number of recorded entries
func (tb *TraceBuffer) Len() int {
	return len(tb.entries)
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}

	entriesCopy := make([]TraceEntry, len(tb.entries))
	copy(entriesCopy, tb.entries)

	return &TraceableError{
		Err:   err,
		Trace: entriesCopy,
		Bus:   tb.bus,
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// HasTrace checks if an error contains trace data
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
