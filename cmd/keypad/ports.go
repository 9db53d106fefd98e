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
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ZaparooProject/go-keybus/sink/uart"
	"github.com/spf13/cobra"
)

func newPortsCmd() *cobra.Command {
	var opts uart.ListOptions

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports usable as a trace sink",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := uart.ListPorts(&opts)
			if err != nil {
				return err
			}
			return printPorts(cmd.OutOrStdout(), ports)
		},
	}
	cmd.Flags().BoolVar(&opts.USBOnly, "usb", false, "Only list USB adapters")
	cmd.Flags().StringSliceVar(&opts.Blocklist, "block", nil, "VID:PID pairs to leave out")
	cmd.Flags().StringSliceVar(&opts.IgnorePaths, "ignore", nil, "Device paths to leave out")
	return cmd
}

func printPorts(w io.Writer, ports []uart.PortInfo) error {
	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "No serial ports found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PATH\tVID:PID\tPRODUCT\tSERIAL")
	for _, p := range ports {
		vidpid := p.VIDPID
		if !p.USB {
			vidpid = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Path, vidpid, p.Product, p.SerialNumber)
	}
	return tw.Flush()
}
