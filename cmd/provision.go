// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoolworks Robotics

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/spoolworks/arachne/internal/config"
)

var (
	provisionChannel int
	provisionFormat  string
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Show per-channel servo calibration profiles",
	Long: `Print the servo calibration profile for one channel, or for every
channel, from the config file. Each subordinate is flashed with its
channel's PWM feedback/command ranges and speed envelope; this command is
the reference when preparing a replacement device.`,
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().IntVar(&provisionChannel, "channel", -1, "Channel index (default: all)")
	provisionCmd.Flags().StringVar(&provisionFormat, "format", "text", "Output format: text or yaml")
	rootCmd.AddCommand(provisionCmd)
}

func runProvision(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if len(cfg.Robot.Servos) == 0 {
		return fmt.Errorf("no servo profiles in the config")
	}

	profiles := cfg.Robot.Servos
	if provisionChannel >= 0 {
		if provisionChannel >= len(profiles) {
			return fmt.Errorf("channel %d out of range (0..%d)", provisionChannel, len(profiles)-1)
		}
		profiles = profiles[provisionChannel : provisionChannel+1]
	}

	switch provisionFormat {
	case "yaml":
		out, err := yaml.Marshal(profiles)
		if err != nil {
			return fmt.Errorf("encode profiles: %v", err)
		}
		fmt.Print(string(out))
	case "text":
		for i, p := range profiles {
			ch := i
			if provisionChannel >= 0 {
				ch = provisionChannel
			}
			fmt.Printf("channel %d (device id %d)\n", ch, p.ID)
			fmt.Printf("  feedback PWM:       %d..%d\n", p.FeedbackPWMMin, p.FeedbackPWMMax)
			fmt.Printf("  command PWM:        %d..%d\n", p.CommandPWMMin, p.CommandPWMMax)
			fmt.Printf("  clockwise PWM:      %d..%d (speed %d..%d)\n",
				p.ClockwisePWMMin, p.ClockwisePWMMax, p.ClockwiseSpeedMin, p.ClockwiseSpeedMax)
			fmt.Printf("  anticlockwise PWM:  %d..%d (speed %d..%d)\n",
				p.AnticlockwisePWMMin, p.AnticlockwisePWMMax, p.AnticlockwiseSpeedMin, p.AnticlockwiseSpeedMax)
		}
	default:
		return fmt.Errorf("unknown format %q (use text or yaml)", provisionFormat)
	}
	return nil
}
