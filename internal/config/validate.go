// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics

package config

import (
	"errors"
	"fmt"
)

// Validate rejects configurations the coordinator cannot run with. It does
// not check that ports exist; that is left to open time.
func (c Config) Validate() error {
	if c.Robot.Channels <= 0 {
		return errors.New("config: robot.channels must be > 0")
	}
	if c.Robot.Circumference <= 0 {
		return errors.New("config: robot.circumference must be > 0")
	}
	if c.Robot.CrossingZone <= 0 || c.Robot.CrossingZone >= 3600 {
		return fmt.Errorf("config: robot.crossing_zone %d out of range (0, 3600)", c.Robot.CrossingZone)
	}
	if len(c.Robot.Servos) > 0 && len(c.Robot.Servos) != c.Robot.Channels {
		return fmt.Errorf("config: %d servo profiles for %d channels", len(c.Robot.Servos), c.Robot.Channels)
	}
	if c.Host.Baud <= 0 {
		return errors.New("config: host.baud must be > 0")
	}
	if c.Bus.Baud <= 0 {
		return errors.New("config: bus.baud must be > 0")
	}
	if c.Bus.Retries <= 0 {
		return errors.New("config: bus.retries must be > 0")
	}
	if c.Bus.ReadTimeoutMs <= 0 {
		return errors.New("config: bus.read_timeout_ms must be > 0")
	}
	if len(c.Bus.UplinkPorts) > 0 && len(c.Bus.UplinkPorts) != c.Robot.Channels {
		return fmt.Errorf("config: %d uplink ports for %d channels", len(c.Bus.UplinkPorts), c.Robot.Channels)
	}
	return nil
}
