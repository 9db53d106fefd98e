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
	"os"
	"slices"
	"strings"

	keybus "github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/capture"
	"github.com/spf13/cobra"
)

func newReplayCmd(flags *globalFlags) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Decode a frame capture",
		Long: `Decode a capture written by run or tui with capture.path set.

Prints the lights at the end of the capture, the keys pressed on other
keypads and the sounds the panel requested. With --verbose every light
change and key is printed as it is decoded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			return replayFile(cmd, args[0], cfg.KeypadConfig(), verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every decoded event")
	return cmd
}

func replayFile(cmd *cobra.Command, path string, cfg *keybus.Config, verbose bool) error {
	f, err := os.Open(path) //nolint:gosec // path is a command argument
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer func() { _ = f.Close() }()

	r, err := capture.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read capture: %w", err)
	}

	out := cmd.OutOrStdout()
	hdr := r.Header
	_, _ = fmt.Fprintf(out, "Capture from %s started %s\n", hdr.Source, hdr.Started.Format("2006-01-02 15:04:05"))

	var fn capture.ReplayFunc
	if verbose {
		fn = func(rec capture.Record, ev keybus.Event) error {
			printEvent(out, rec, ev)
			return nil
		}
	}

	summary, err := capture.Replay(cmd.Context(), r, cfg, fn)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	printSummary(out, summary)
	return nil
}

func printEvent(w io.Writer, rec capture.Record, ev keybus.Event) {
	for _, ind := range ev.Changed {
		_, _ = fmt.Fprintf(w, "%6d  light %s\n", rec.Seq, ind)
	}
	if ev.HasKey {
		_, _ = fmt.Fprintf(w, "%6d  key %s\n", rec.Seq, ev.Key)
	}
	if ev.Sound != keybus.SoundNone {
		_, _ = fmt.Fprintf(w, "%6d  %s 0x%02X\n", rec.Seq, ev.Sound, rec.Command[1])
	}
}

func printSummary(w io.Writer, s capture.Summary) {
	_, _ = fmt.Fprintf(w, "Frames: %d (gaps %d, corrupt %d)\n", s.Frames, s.Gaps, s.Corrupt)
	_, _ = fmt.Fprintf(w, "Light changes: %d\n", s.LightChanges)

	var on []string
	for i, light := range s.Lights {
		if light != keybus.LightOff {
			on = append(on, fmt.Sprintf("%s=%s", keybus.Indicator(i), light))
		}
	}
	if len(on) == 0 {
		on = append(on, "all off")
	}
	_, _ = fmt.Fprintf(w, "Lights: %s\n", strings.Join(on, " "))

	keys := make([]string, 0, len(s.Keys))
	for _, k := range s.Keys {
		keys = append(keys, k.String())
	}
	_, _ = fmt.Fprintf(w, "Keys: %s\n", strings.Join(keys, " "))

	sounds := make([]string, 0, len(s.Sounds))
	for sound, n := range s.Sounds {
		sounds = append(sounds, fmt.Sprintf("%s=%d", sound, n))
	}
	slices.Sort(sounds)
	_, _ = fmt.Fprintf(w, "Sounds: %s\n", strings.Join(sounds, " "))
}
