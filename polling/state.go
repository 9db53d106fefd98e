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

package polling

import (
	"errors"
	"time"
)

// ErrSessionClosed is returned by Start on a closed session
var ErrSessionClosed = errors.New("session closed")

// BusState is the session's view of the panel
type BusState int

const (
	// StateWaiting means no frame has been seen yet
	StateWaiting BusState = iota
	// StateConnected means frames are arriving
	StateConnected
	// StateLost means frames stopped after the bus was connected
	StateLost
)

func (s BusState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateConnected:
		return "connected"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// BusStatus tracks the bus as seen by a session
type BusStatus struct {
	LastFrameTime time.Time
	LostSince     time.Time
	Frames        uint64
	Losses        int
	Recoveries    int
	State         BusState
}

// RecordFrame counts a polled frame and moves to connected. It reports
// whether the bus was restored from the lost state.
func (bs *BusStatus) RecordFrame(now time.Time) bool {
	restored := bs.State == StateLost
	bs.Frames++
	bs.LastFrameTime = now
	bs.State = StateConnected
	bs.LostSince = time.Time{}
	return restored
}

// TransitionToLost marks the bus lost. Only a connected bus can be lost.
func (bs *BusStatus) TransitionToLost(now time.Time) bool {
	if bs.State != StateConnected {
		return false
	}
	bs.State = StateLost
	bs.LostSince = now
	bs.Losses++
	return true
}

// TransitionToWaiting resets to the initial state, keeping counters
func (bs *BusStatus) TransitionToWaiting() {
	bs.State = StateWaiting
	bs.LostSince = time.Time{}
}
