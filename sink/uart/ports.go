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

package uart

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port a trace sink could use.
type PortInfo struct {
	Path         string
	Product      string
	SerialNumber string
	// VIDPID is "VVVV:PPPP" for USB adapters, empty otherwise.
	VIDPID string
	USB    bool
}

// ListOptions filters ListPorts.
type ListOptions struct {
	// Blocklist holds VID:PID pairs, case-insensitive, to leave out.
	Blocklist []string
	// IgnorePaths holds device paths to leave out.
	IgnorePaths []string
	// USBOnly drops built-in ports.
	USBOnly bool
}

// ListPorts enumerates serial ports. A nil opts lists everything.
func ListPorts(opts *ListOptions) ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{
			Path:         d.Name,
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
			USB:          d.IsUSB,
		}
		if d.IsUSB && d.VID != "" && d.PID != "" {
			info.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
		}
		ports = append(ports, info)
	}
	return filterPorts(ports, opts), nil
}

func filterPorts(ports []PortInfo, opts *ListOptions) []PortInfo {
	if opts == nil {
		return ports
	}
	var filtered []PortInfo
	for _, p := range ports {
		if opts.USBOnly && !p.USB {
			continue
		}
		if p.VIDPID != "" && IsBlocked(p.VIDPID, opts.Blocklist) {
			continue
		}
		if IsPathIgnored(p.Path, opts.IgnorePaths) {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

// IsBlocked checks if a USB VID:PID is in the blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	for _, blocked := range blocklist {
		if vidpid == strings.ToUpper(strings.TrimSpace(blocked)) {
			return true
		}
	}
	return false
}

// IsPathIgnored checks if a device path should be ignored. Paths are
// compared cleaned and case-insensitively.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" || len(ignorePaths) == 0 {
		return false
	}

	normalizedDevice := normalizedPath(devicePath)
	for _, ignorePath := range ignorePaths {
		if ignorePath == "" {
			continue
		}
		if normalizedDevice == normalizedPath(ignorePath) {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
