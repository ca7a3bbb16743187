// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoolworks Robotics

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgPath string

	// Host link flag overrides (take precedence over the config file)
	portName string
	baudRate int

	// WebSocket host link flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "arachne",
	Short: "Cable robot winch coordinator",
	Long: `Arachne - coordinator for a cable-driven parallel robot.

Tracks the spool angle and cable length of every winch channel and brokers
the serial protocol between the host controller (length commands in, length
feedback out) and the half-duplex bus of per-channel servo subordinates
(angle feedback in, crossing/angle commands out).

Host link modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the ARACHNE_PASSWORD
environment variable, or prompted interactively if not set. A --password
flag is intentionally not provided to avoid leaking credentials in shell
history.`,
	Version: "1.2.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML config file")

	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Host link serial port")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Host link baud rate (serial only)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Host link WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
