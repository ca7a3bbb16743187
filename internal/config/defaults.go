// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics

package config

// Default returns the configuration for the reference eight-winch rig.
func Default() Config {
	return Config{
		Robot: RobotConfig{
			Channels:      8,
			Circumference: 1355, // tenths of a millimetre
			CrossingZone:  70,   // tenths of a degree
		},
		Host: HostConfig{
			Baud: 115200,
		},
		Bus: BusConfig{
			Baud:          115200,
			Retries:       3,
			ReadTimeoutMs: 5,
		},
	}
}
