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

// Package config loads the keypad daemon configuration from YAML with
// KEYBUS_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	keybus "github.com/ZaparooProject/go-keybus"
	"github.com/ZaparooProject/go-keybus/mqttbridge"
	"github.com/ZaparooProject/go-keybus/platform/periph"
	"github.com/ZaparooProject/go-keybus/polling"
	"github.com/ZaparooProject/go-keybus/sink/uart"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

// Config is the root configuration of the keypad daemon.
type Config struct {
	Bus     BusConfig     `yaml:"bus"`
	Sound   SoundConfig   `yaml:"sound"`
	Host    HostConfig    `yaml:"host"`
	Session SessionConfig `yaml:"session"`
	Trace   TraceConfig   `yaml:"trace"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Capture CaptureConfig `yaml:"capture"`
	Logging LoggingConfig `yaml:"logging"`
}

// BusConfig binds the keypad to its lines and sets bus timing.
type BusConfig struct {
	ClockPin          string        `yaml:"clock_pin"`
	ReadPin           string        `yaml:"read_pin"`
	WritePin          string        `yaml:"write_pin"`
	MemoryClass       string        `yaml:"memory_class"`
	KeyBufferSize     int           `yaml:"key_buffer_size"`
	SilenceTimeout    time.Duration `yaml:"silence_timeout"`
	KeyInterval       time.Duration `yaml:"key_interval"`
	KeyRepeatInterval time.Duration `yaml:"key_repeat_interval"`
	AlarmKeyHold      time.Duration `yaml:"alarm_key_hold"`
	AlarmKeySuppress  time.Duration `yaml:"alarm_key_suppress"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
}

// SoundConfig configures the optional sounder output.
type SoundConfig struct {
	Pin          string        `yaml:"pin"`
	BeepDuration time.Duration `yaml:"beep_duration"`
	BeepGap      time.Duration `yaml:"beep_gap"`
	ToneUnit     time.Duration `yaml:"tone_unit"`
	BuzzerUnit   time.Duration `yaml:"buzzer_unit"`
	LowDuty      float64       `yaml:"low_duty"`
	FrequencyHz  int           `yaml:"frequency_hz"`
	PanelSounds  bool          `yaml:"panel_sounds"`
}

// HostConfig tunes the edge thread on the host.
type HostConfig struct {
	CPU      int           `yaml:"cpu"`
	Nice     int           `yaml:"nice"`
	EdgeWait time.Duration `yaml:"edge_wait"`
}

// SessionConfig configures polling and recovery.
type SessionConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	TraceSize      int           `yaml:"trace_size"`
	Recovery       bool          `yaml:"recovery"`
	SleepThreshold time.Duration `yaml:"sleep_threshold"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Backoff        time.Duration `yaml:"backoff"`
}

// TraceConfig configures trace output: a serial port, a session log
// directory and debug logging.
type TraceConfig struct {
	Port          string `yaml:"port"`
	Baud          int    `yaml:"baud"`
	SessionLogDir string `yaml:"session_log_dir"`
	SessionLog    bool   `yaml:"session_log"`
	Debug         bool   `yaml:"debug"`
}

// MQTTConfig configures the broker bridge. The bridge runs only when
// Enabled is set.
type MQTTConfig struct {
	Host          string `yaml:"host"`
	ClientID      string `yaml:"client_id"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	TopicPrefix   string `yaml:"topic_prefix"`
	Port          int    `yaml:"port"`
	QoS           int    `yaml:"qos"`
	TLS           bool   `yaml:"tls"`
	PublishFrames bool   `yaml:"publish_frames"`
	Enabled       bool   `yaml:"enabled"`
}

// CaptureConfig names a file every polled frame is recorded to.
type CaptureConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses the defaults alone.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the daemon defaults, built from the library defaults.
func Default() *Config {
	kc := keybus.DefaultConfig()
	sc := polling.DefaultConfig()
	mo := mqttbridge.DefaultOptions()
	po := periph.DefaultOptions()

	return &Config{
		Bus: BusConfig{
			ClockPin:          kc.ClockPin,
			ReadPin:           kc.ReadPin,
			WritePin:          kc.WritePin,
			MemoryClass:       "small",
			SilenceTimeout:    kc.SilenceTimeout,
			KeyInterval:       kc.KeyInterval,
			KeyRepeatInterval: kc.KeyRepeatInterval,
			AlarmKeyHold:      kc.AlarmKeyHold,
			AlarmKeySuppress:  kc.AlarmKeySuppress,
			DisconnectTimeout: kc.DisconnectTimeout,
		},
		Sound: SoundConfig{
			BeepDuration: kc.BeepDuration,
			BeepGap:      kc.BeepGap,
			ToneUnit:     kc.ToneUnit,
			BuzzerUnit:   kc.BuzzerUnit,
			LowDuty:      kc.ToneLowDuty,
			FrequencyHz:  int(po.ToneFrequency / physic.Hertz),
			PanelSounds:  kc.PanelSounds,
		},
		Host: HostConfig{
			CPU:      po.CPU,
			Nice:     po.Nice,
			EdgeWait: po.EdgeWait,
		},
		Session: SessionConfig{
			PollInterval:   sc.PollInterval,
			TraceSize:      sc.TraceSize,
			Recovery:       sc.Recovery.Enabled,
			SleepThreshold: sc.Recovery.SleepThreshold,
			MaxAttempts:    sc.Recovery.MaxAttempts,
			Backoff:        sc.Recovery.Backoff,
		},
		Trace: TraceConfig{
			Baud: uart.DefaultBaudRate,
		},
		MQTT: MQTTConfig{
			Host:        mo.Host,
			Port:        mo.Port,
			ClientID:    mo.ClientID,
			TopicPrefix: mo.TopicPrefix,
			QoS:         int(mo.QoS),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies KEYBUS_* variables. Only values that commonly
// differ between hosts are covered.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	strs := []struct {
		dst *string
		key string
	}{
		{&cfg.Bus.ClockPin, "KEYBUS_CLOCK_PIN"},
		{&cfg.Bus.ReadPin, "KEYBUS_READ_PIN"},
		{&cfg.Bus.WritePin, "KEYBUS_WRITE_PIN"},
		{&cfg.Sound.Pin, "KEYBUS_SOUNDER_PIN"},
		{&cfg.Trace.Port, "KEYBUS_TRACE_PORT"},
		{&cfg.Capture.Path, "KEYBUS_CAPTURE"},
		{&cfg.MQTT.Host, "KEYBUS_MQTT_HOST"},
		{&cfg.MQTT.Username, "KEYBUS_MQTT_USERNAME"},
		{&cfg.MQTT.Password, "KEYBUS_MQTT_PASSWORD"},
		{&cfg.Logging.Level, "KEYBUS_LOG_LEVEL"},
	}
	for _, s := range strs {
		if v := getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		dst *int
		key string
	}{
		{&cfg.Trace.Baud, "KEYBUS_TRACE_BAUD"},
		{&cfg.MQTT.Port, "KEYBUS_MQTT_PORT"},
		{&cfg.Host.CPU, "KEYBUS_CPU"},
	}
	for _, i := range ints {
		v := getenv(i.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", i.key, err)
		}
		*i.dst = n
	}

	if v := getenv("KEYBUS_MQTT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing KEYBUS_MQTT_ENABLED: %w", err)
		}
		cfg.MQTT.Enabled = enabled
	}
	return nil
}

func (c *Config) memoryClass() (keybus.MemoryClass, bool) {
	switch strings.ToLower(c.Bus.MemoryClass) {
	case "", "small":
		return keybus.MemorySmall, true
	case "large":
		return keybus.MemoryLarge, true
	default:
		return keybus.MemorySmall, false
	}
}

// Validate checks the configuration, including the keypad settings it
// produces.
func (c *Config) Validate() error {
	var errs []string

	if _, ok := c.memoryClass(); !ok {
		errs = append(errs, fmt.Sprintf("bus.memory_class %q must be small or large", c.Bus.MemoryClass))
	}
	if c.Session.PollInterval <= 0 {
		errs = append(errs, "session.poll_interval must be positive")
	}
	if c.Session.MaxAttempts < 0 {
		errs = append(errs, "session.max_attempts must not be negative")
	}
	if c.Trace.Baud <= 0 {
		errs = append(errs, "trace.baud must be positive")
	}
	if c.Sound.FrequencyHz <= 0 {
		errs = append(errs, "sound.frequency_hz must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && (c.MQTT.Port < 1 || c.MQTT.Port > 65535) {
		errs = append(errs, "mqtt.port must be between 1 and 65535")
	}
	if c.MQTT.Enabled && c.MQTT.Host == "" {
		errs = append(errs, "mqtt.host is required when mqtt is enabled")
	}

	if kc := c.KeypadConfig(); kc != nil {
		if err := kc.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// KeypadConfig returns the library configuration for the keypad.
func (c *Config) KeypadConfig() *keybus.Config {
	kc := keybus.DefaultConfig()
	kc.ClockPin = c.Bus.ClockPin
	kc.ReadPin = c.Bus.ReadPin
	kc.WritePin = c.Bus.WritePin
	kc.SounderPin = c.Sound.Pin
	kc.MemoryClass, _ = c.memoryClass()
	kc.KeyBufferSize = c.Bus.KeyBufferSize
	kc.SilenceTimeout = c.Bus.SilenceTimeout
	kc.KeyInterval = c.Bus.KeyInterval
	kc.KeyRepeatInterval = c.Bus.KeyRepeatInterval
	kc.AlarmKeyHold = c.Bus.AlarmKeyHold
	kc.AlarmKeySuppress = c.Bus.AlarmKeySuppress
	kc.DisconnectTimeout = c.Bus.DisconnectTimeout
	kc.BeepDuration = c.Sound.BeepDuration
	kc.BeepGap = c.Sound.BeepGap
	kc.ToneUnit = c.Sound.ToneUnit
	kc.BuzzerUnit = c.Sound.BuzzerUnit
	kc.ToneLowDuty = c.Sound.LowDuty
	kc.PanelSounds = c.Sound.PanelSounds
	return kc
}

// SessionConfig returns the polling session configuration.
func (c *Config) SessionConfig() *polling.Config {
	return &polling.Config{
		PollInterval: c.Session.PollInterval,
		TraceSize:    c.Session.TraceSize,
		Recovery: polling.RecoveryConfig{
			Enabled:        c.Session.Recovery,
			SleepThreshold: c.Session.SleepThreshold,
			MaxAttempts:    c.Session.MaxAttempts,
			Backoff:        c.Session.Backoff,
		},
	}
}

// BridgeOptions returns the MQTT options.
func (c *Config) BridgeOptions() mqttbridge.Options {
	opts := mqttbridge.DefaultOptions()
	opts.Host = c.MQTT.Host
	opts.Port = c.MQTT.Port
	opts.ClientID = c.MQTT.ClientID
	opts.Username = c.MQTT.Username
	opts.Password = c.MQTT.Password
	opts.TopicPrefix = c.MQTT.TopicPrefix
	opts.QoS = byte(c.MQTT.QoS)
	opts.TLS = c.MQTT.TLS
	opts.PublishFrames = c.MQTT.PublishFrames
	return opts
}

// PeriphOptions returns the GPIO platform options.
func (c *Config) PeriphOptions() periph.Options {
	opts := periph.DefaultOptions()
	opts.ToneFrequency = physic.Frequency(c.Sound.FrequencyHz) * physic.Hertz
	opts.EdgeWait = c.Host.EdgeWait
	opts.CPU = c.Host.CPU
	opts.Nice = c.Host.Nice
	return opts
}
