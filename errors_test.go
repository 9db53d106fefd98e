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
	"strings"
	"syscall"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "pin write", err: ErrPinWrite, want: true},
		{name: "bus silent", err: ErrBusSilent, want: true},
		{name: "wrapped bus silent", err: fmt.Errorf("poll: %w", ErrBusSilent), want: true},
		{name: "write error", err: NewPinWriteError("write", "GPIO21", syscall.EBUSY), want: true},
		{name: "silent error", err: NewBusSilentError("watch", "GPIO18"), want: true},
		{name: "pin not found", err: NewPinNotFoundError("open", "GPIO99"), want: false},
		{name: "edge unsupported", err: NewEdgeUnsupportedError("open", "GPIO4"), want: false},
		{name: "unknown key", err: ErrUnknownKey, want: false},
		{name: "buffer full", err: ErrKeyBufferFull, want: false},
		{name: "generic", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "platform closed", err: ErrPlatformClosed, want: true},
		{name: "invalid config", err: fmt.Errorf("%w: clock pin is required", ErrInvalidConfig), want: true},
		{name: "pin not found", err: NewPinNotFoundError("open", "GPIO99"), want: true},
		{name: "edge unsupported", err: NewEdgeUnsupportedError("open", "GPIO4"), want: true},
		{name: "permanent pin error", err: NewPinError("open", "GPIO4", syscall.EIO, ErrorTypePermanent), want: true},
		{name: "transient pin error", err: NewPinWriteError("write", "GPIO21", syscall.EIO), want: false},
		{name: "eof", err: io.EOF, want: true},
		{name: "closed pipe", err: fmt.Errorf("trace: %w", io.ErrClosedPipe), want: true},
		{name: "ENODEV", err: syscall.ENODEV, want: true},
		{name: "ENXIO wrapped", err: fmt.Errorf("read: %w", syscall.ENXIO), want: true},
		{name: "EAGAIN", err: syscall.EAGAIN, want: false},
		{name: "bus silent", err: ErrBusSilent, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPinError(t *testing.T) {
	t.Parallel()

	err := NewPinWriteError("start", "GPIO21", syscall.EBUSY)
	if got := err.Error(); !strings.HasPrefix(got, "start GPIO21: ") {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrPinWrite) || !errors.Is(err, syscall.EBUSY) {
		t.Error("write error should match both the sentinel and the cause")
	}
	if !err.Retryable || err.Type != ErrorTypeTransient {
		t.Errorf("write error type = %v retryable = %v", err.Type, err.Retryable)
	}

	noPin := NewPinError("initialize", "", ErrPlatformClosed, ErrorTypePermanent)
	if got := noPin.Error(); got != "initialize: platform is closed" {
		t.Errorf("Error() = %q", got)
	}

	silent := NewBusSilentError("poll", "GPIO18")
	if silent.Type != ErrorTypeTimeout || !silent.Retryable {
		t.Error("bus silence should be a retryable timeout")
	}

	var pe *PinError
	wrapped := fmt.Errorf("restart: %w", NewEdgeUnsupportedError("initialize", "GPIO4"))
	if !errors.As(wrapped, &pe) || pe.Pin != "GPIO4" {
		t.Error("errors.As should find the pin error")
	}
}

func TestTraceBuffer_RecordSnapshot(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("GPIO18", 10)
	tb.RecordSnapshot(Snapshot{
		Command:    Frame{0x05, 0x81},
		Module:     Frame{0xBE, 0xFF},
		Seq:        7,
		Driven:     true,
		DrivenCode: 0xBE,
	})
	if tb.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tb.Len())
	}

	te := GetTrace(tb.WrapError(ErrBusSilent))
	if te == nil {
		t.Fatal("WrapError should return a TraceableError")
	}
	if te.Bus != "GPIO18" {
		t.Errorf("Bus = %q", te.Bus)
	}
	if te.Trace[0].Direction != TracePanel || te.Trace[1].Direction != TraceModule {
		t.Error("snapshot should record the panel half first")
	}
	if te.Trace[0].Note != "seq 7" || te.Trace[1].Note != "driven 1" {
		t.Errorf("notes = %q, %q", te.Trace[0].Note, te.Trace[1].Note)
	}
}

func TestTraceableError_Unwrap(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("GPIO18", 4)
	tb.RecordPanel([]byte{0x05, 0x01}, "")
	err := tb.WrapError(ErrBusSilent)

	if !errors.Is(err, ErrBusSilent) {
		t.Error("errors.Is should match through TraceableError")
	}
	if !IsRetryable(err) {
		t.Error("trace wrapping should keep the error retryable")
	}
	if err.Error() != ErrBusSilent.Error() {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestTraceableError_FormatTrace(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("GPIO18", 10)
	tb.RecordPanel([]byte{0x05, 0x81}, "seq 1")
	tb.RecordModule([]byte{0xFF, 0xFF}, "")
	tb.RecordSilence("no edge for 2ms")

	te := GetTrace(tb.WrapError(ErrBusSilent))
	formatted := te.FormatTrace()

	for _, want := range []string{
		"[GPIO18] Bus trace (3 entries):",
		"> 00000101 10000001 (seq 1)",
		"< 11111111 11111111",
		"> (empty) (SILENCE: no edge for 2ms)",
	} {
		if !strings.Contains(formatted, want) {
			t.Errorf("FormatTrace() missing %q:\n%s", want, formatted)
		}
	}

	empty := &TraceableError{Err: ErrBusSilent, Bus: "GPIO18"}
	if got := empty.FormatTrace(); got != "[GPIO18] (no trace data)" {
		t.Errorf("FormatTrace() = %q", got)
	}
}

func TestTraceBuffer_CircularBuffer(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("GPIO18", 3)
	for i := range 5 {
		tb.RecordPanel([]byte{byte(i)}, "")
	}
	if tb.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tb.Len())
	}

	te := GetTrace(tb.WrapError(ErrBusSilent))
	for i, entry := range te.Trace {
		if entry.Data[0] != byte(i+2) {
			t.Errorf("entry %d = %#02x, want %#02x", i, entry.Data[0], i+2)
		}
	}
}

func TestTraceBuffer_CopiesData(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("GPIO18", 0)
	data := []byte{0x05, 0x01}
	tb.RecordPanel(data, "")
	data[0] = 0xAA

	te := GetTrace(tb.WrapError(ErrBusSilent))
	if te.Trace[0].Data[0] != 0x05 {
		t.Error("recorded data should be a copy")
	}
}

func TestTraceBuffer_WrapNilAndClear(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("GPIO18", 4)
	tb.RecordPanel([]byte{0x01}, "")
	if err := tb.WrapError(nil); err != nil {
		t.Errorf("WrapError(nil) = %v", err)
	}

	tb.Clear()
	if tb.Len() != 0 {
		t.Errorf("Len() after Clear = %d", tb.Len())
	}
	if HasTrace(ErrBusSilent) {
		t.Error("plain error has no trace")
	}
	if GetTrace(errors.New("x")) != nil {
		t.Error("GetTrace should be nil without a trace")
	}
}

func TestTraceEntry_String(t *testing.T) {
	t.Parallel()

	entry := TraceEntry{Direction: TraceModule, Data: []byte{0x7A}, Note: "driven 0x7A"}
	got := entry.String()
	if !strings.Contains(got, "MODULE: 01111010 (driven 0x7A)") {
		t.Errorf("String() = %q", got)
	}
}
