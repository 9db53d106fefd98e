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
	"os"
	"strings"
	"time"

	keybus "github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/internal/config"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const maxKeyLog = 12

// errNoTerminal is returned when the TUI is started without a terminal.
var errNoTerminal = errors.New("tui needs an interactive terminal; use run instead")

func newTUICmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Show lights and keys live, and type keys",
		Long: `Show the panel's lights and the keys pressed on other keypads.

Type digits, '*', '#', or f/a/p for the fire, aux and panic keys, then press
Enter to send them. Press Esc or Ctrl+C to quit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errNoTerminal
			}
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			// info logs would tear the alt screen
			cfg.Logging.Level = "warn"
			return runTUI(cmd.Context(), cfg)
		},
	}
}

func runTUI(ctx context.Context, cfg *config.Config) error {
	logger := config.NewLogger(cfg.Logging, version)
	d, err := openDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	m := newTUIModel(d.keypad, cfg.Bus.ClockPin)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	d.session.SetOnKey(func(key keybus.Key) error {
		p.Send(keyMsg{key: key, at: time.Now()})
		return nil
	})
	d.session.SetOnLightChanged(func(ind keybus.Indicator, light keybus.Light) error {
		p.Send(lightMsg{ind: ind, light: light})
		return nil
	})
	d.session.SetOnBusLost(func(error) { p.Send(busMsg{connected: false}) })
	d.session.SetOnBusRestored(func() { p.Send(busMsg{connected: true}) })
	d.session.SetOnOverflow(func() { p.Send(statusMsg("key buffer full")) })
	d.session.SetOnFrame(d.frameHook(func(keybus.Snapshot) error {
		p.Send(frameMsg{})
		return nil
	}))

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := d.session.Start(sessionCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.Send(statusMsg(fmt.Sprintf("polling stopped: %v", err)))
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// keyEntry is the part of *keybus.Keypad the TUI writes keys to.
type keyEntry interface {
	WriteKeys(s string) (int, error)
	PendingKeys() int
}

// Messages
type keyMsg struct {
	at  time.Time
	key keybus.Key
}
type lightMsg struct {
	ind   keybus.Indicator
	light keybus.Light
}
type busMsg struct {
	connected bool
}
type frameMsg struct{}
type statusMsg string
type blinkMsg struct{}

type keyLogEntry struct {
	at  time.Time
	key keybus.Key
}

// tuiModel is the bubbletea model of the tui command.
type tuiModel struct {
	keypad    keyEntry
	input     textinput.Model
	source    string
	status    string
	keys      []keyLogEntry
	lights    [keybus.IndicatorCount]keybus.Light
	frames    uint64
	connected bool
	blinkOn   bool
	quitting  bool
}

func newTUIModel(keypad keyEntry, source string) tuiModel {
	ti := textinput.New()
	ti.Placeholder = "1234#"
	ti.CharLimit = 16
	ti.Width = 20
	ti.Focus()

	return tuiModel{
		keypad: keypad,
		input:  ti,
		source: source,
		status: "waiting for the panel",
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, blinkCmd())
}

func blinkCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg {
		return blinkMsg{}
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.sendKeys()
			return m, nil
		default:
		}

	case blinkMsg:
		m.blinkOn = !m.blinkOn
		return m, blinkCmd()

	case keyMsg:
		m.keys = append(m.keys, keyLogEntry(msg))
		if len(m.keys) > maxKeyLog {
			m.keys = m.keys[len(m.keys)-maxKeyLog:]
		}
		return m, nil

	case lightMsg:
		if int(msg.ind) < keybus.IndicatorCount {
			m.lights[msg.ind] = msg.light
		}
		return m, nil

	case busMsg:
		m.connected = msg.connected
		if msg.connected {
			m.status = "bus restored"
		} else {
			m.status = "bus lost"
		}
		return m, nil

	case frameMsg:
		m.frames++
		if !m.connected && m.frames == 1 {
			m.connected = true
			m.status = "connected"
		}
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *tuiModel) sendKeys() {
	keys := strings.TrimSpace(m.input.Value())
	if keys == "" {
		return
	}
	n, err := m.keypad.WriteKeys(keys)
	if err != nil {
		m.status = fmt.Sprintf("sent %d keys: %v", n, err)
	} else {
		m.status = fmt.Sprintf("sent %d keys (%d queued)", n, m.keypad.PendingKeys())
	}
	m.input.SetValue("")
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	onStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	offStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	warningStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("KEYBUS KEYPAD"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Clock: %s | Frames: %d | Esc to quit", m.source, m.frames)))
	s.WriteString("\n\n")

	var lights strings.Builder
	for i, light := range m.lights {
		ind := keybus.Indicator(i)
		if i == int(keybus.IndicatorZone1) {
			lights.WriteString("\n")
		}
		name := fmt.Sprintf("%-9s", ind.String())
		switch {
		case light == keybus.LightOn, light == keybus.LightBlink && m.blinkOn:
			lights.WriteString(onStyle.Render("● " + name))
		default:
			lights.WriteString(offStyle.Render("○ " + name))
		}
	}
	s.WriteString(boxStyle.Render(lights.String()))
	s.WriteString("\n\n")

	var keys strings.Builder
	keys.WriteString("Keys from other keypads:\n")
	if len(m.keys) == 0 {
		keys.WriteString(headerStyle.Render("  none yet"))
	}
	for _, k := range m.keys {
		keys.WriteString(fmt.Sprintf("  %s  %s\n", k.at.Format("15:04:05"), k.key))
	}
	s.WriteString(boxStyle.Render(strings.TrimRight(keys.String(), "\n")))
	s.WriteString("\n\n")

	s.WriteString("Send: ")
	s.WriteString(m.input.View())
	s.WriteString("\n")
	if m.connected {
		s.WriteString(headerStyle.Render(m.status))
	} else {
		s.WriteString(warningStyle.Render(m.status))
	}
	s.WriteString("\n")
	return s.String()
}
