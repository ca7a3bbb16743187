// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics

// Package config loads and validates the coordinator's YAML configuration:
// rig geometry, host link, bus transport, and per-channel servo profiles.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Robot   RobotConfig   `yaml:"robot"`
	Host    HostConfig    `yaml:"host"`
	Bus     BusConfig     `yaml:"bus"`
	Journal JournalConfig `yaml:"journal"`
}

// RobotConfig fixes the rig geometry. The channel count is configuration,
// not negotiated at runtime; there is no discovery protocol on the bus.
type RobotConfig struct {
	Channels      int `yaml:"channels"`
	Circumference int `yaml:"circumference"` // spool circumference, tenths of a millimetre
	CrossingZone  int `yaml:"crossing_zone"` // wrap dead-band, tenths of a degree

	// Servos carries the per-channel subordinate calibration, keyed by
	// position. Consumed by the provision command; the control loop itself
	// never needs PWM figures.
	Servos []ServoProfile `yaml:"servos"`
}

// ServoProfile is one subordinate's PWM calibration, measured per device
// on the bench and flashed alongside its channel id.
type ServoProfile struct {
	ID int `yaml:"id"`

	FeedbackPWMMin int `yaml:"feedback_pwm_min"`
	FeedbackPWMMax int `yaml:"feedback_pwm_max"`
	CommandPWMMin  int `yaml:"command_pwm_min"`
	CommandPWMMax  int `yaml:"command_pwm_max"`

	ClockwisePWMMin   int `yaml:"clockwise_pwm_min"`
	ClockwisePWMMax   int `yaml:"clockwise_pwm_max"`
	ClockwiseSpeedMin int `yaml:"clockwise_speed_min"`
	ClockwiseSpeedMax int `yaml:"clockwise_speed_max"`

	AnticlockwisePWMMin   int `yaml:"anticlockwise_pwm_min"`
	AnticlockwisePWMMax   int `yaml:"anticlockwise_pwm_max"`
	AnticlockwiseSpeedMin int `yaml:"anticlockwise_speed_min"`
	AnticlockwiseSpeedMax int `yaml:"anticlockwise_speed_max"`
}

// HostConfig selects the upstream link: a serial port, or a WebSocket URL
// for bench and remote sessions. Port wins when both are set.
type HostConfig struct {
	Port     string `yaml:"port"`
	Baud     int    `yaml:"baud"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
}

// BusConfig describes the subordinate bus transport: one shared downlink
// and one uplink port per channel, in channel order.
type BusConfig struct {
	DownlinkPort  string   `yaml:"downlink_port"`
	UplinkPorts   []string `yaml:"uplink_ports"`
	Baud          int      `yaml:"baud"`
	Retries       int      `yaml:"retries"`
	ReadTimeoutMs int      `yaml:"read_timeout_ms"`
}

// ReadTimeout returns the per-attempt uplink read bound.
func (b BusConfig) ReadTimeout() time.Duration {
	return time.Duration(b.ReadTimeoutMs) * time.Millisecond
}

// JournalConfig enables the CBOR flight-recorder trace.
type JournalConfig struct {
	Path       string `yaml:"path"`
	IntervalMs int    `yaml:"interval_ms"` // 0: record only on shutdown
}

// Load reads a YAML config file over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
