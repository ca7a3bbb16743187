// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoolworks Robotics

package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spoolworks/arachne/internal/config"
	"github.com/spoolworks/arachne/pkg/cable"
	"github.com/spoolworks/arachne/pkg/hostlink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the coordinator loop",
	Long: `Run the coordinator: consume host command lines, poll the subordinate
bus, and stream length feedback back to the host.

One host line is handled per loop iteration; all bus traffic for that line
completes synchronously before the next line is read. The loop ends when
the host link closes or the process receives SIGINT/SIGTERM.

With journal.path configured, CBOR snapshots of the session are appended
there: one on shutdown, and one at most every journal.interval_ms while
running.`,
	RunE: runCoordinator,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	host, connInfo, err := OpenHostConnection(cfg.Host)
	if err != nil {
		return err
	}
	defer host.Close()

	b, busCloser, err := OpenBus(cfg.Bus, cfg.Robot.Channels)
	if err != nil {
		return err
	}
	defer busCloser.Close()

	d := hostlink.New(hostlink.Config{
		Channels: cfg.Robot.Channels,
		Params: cable.Params{
			Circumference: cfg.Robot.Circumference,
			CrossingZone:  cfg.Robot.CrossingZone,
		},
	}, b, host)

	var journal *hostlink.Journal
	if cfg.Journal.Path != "" {
		f, err := os.OpenFile(cfg.Journal.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open journal %s: %v", cfg.Journal.Path, err)
		}
		defer f.Close()
		journal = hostlink.NewJournal(f)

		if cfg.Journal.IntervalMs > 0 {
			interval := time.Duration(cfg.Journal.IntervalMs) * time.Millisecond
			var lastRecord time.Time
			// The listener runs inside the control loop, so periodic
			// records need no locking.
			d.SetListener(func(snap hostlink.Snapshot) {
				if snap.At.Sub(lastRecord) >= interval {
					lastRecord = snap.At
					if err := journal.Record(snap); err != nil {
						log.Printf("journal: %v", err)
					}
				}
			})
		}
	}

	// A signal closes the host link, which unblocks the loop's line read.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	shuttingDown := make(chan struct{})
	go func() {
		sig := <-sigCh
		log.Printf("received %v, shutting down", sig)
		close(shuttingDown)
		host.Close()
	}()

	log.Printf("arachne: %d channels, host %s, bus %s", cfg.Robot.Channels, connInfo, cfg.Bus.DownlinkPort)

	loopErr := d.Run(host)

	if journal != nil {
		if err := journal.Record(d.Snapshot()); err != nil {
			log.Printf("journal: %v", err)
		}
	}
	stats := d.Stats()
	fmt.Fprint(os.Stderr, stats.String())

	// A closed link during shutdown is the normal exit path.
	select {
	case <-shuttingDown:
	default:
		if loopErr != nil {
			return loopErr
		}
	}
	return nil
}
