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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	keybus "github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "keypad",
		Short: "DSC Classic Keybus keypad emulator",
		Long: `keypad joins a DSC Classic (PC1500/PC1550) Keybus as a keypad.

It decodes the panel's lights and the keys pressed on other keypads, writes
keys of its own and plays the panel's beeps and tones on an optional sounder.

Configuration is read from --config (YAML) and KEYBUS_* environment
variables. Without a config file the defaults from the library apply.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug output")

	root.AddCommand(
		newRunCmd(flags),
		newTUICmd(flags),
		newPortsCmd(),
		newReplayCmd(flags),
	)
	return root
}

// loadConfig loads the configuration and applies the debug flag.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.debug {
		cfg.Trace.Debug = true
	}
	if cfg.Trace.Debug {
		keybus.SetDebugEnabled(true)
	}
	return cfg, nil
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:], os.Stderr))
}

func mainWithExitCode(args []string, stderr io.Writer) int {
	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			// User requested shutdown, exit cleanly
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
