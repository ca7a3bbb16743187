// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoolworks Robotics

package cmd

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/spoolworks/arachne/internal/config"
	"github.com/spoolworks/arachne/pkg/cable"
	"github.com/spoolworks/arachne/pkg/hostlink"
	"github.com/spoolworks/arachne/pkg/wire"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the coordinator with a live channel table",
	Long: `Run the coordinator loop with an interactive terminal UI showing each
channel's angle, integrated length, and command memory, plus the session
gates and traffic counters.

The control loop is unchanged from 'run'; the UI consumes read-only state
snapshots emitted after every handled host line. Press q to quit (this
closes the host link).`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// Messages
type snapshotMsg hostlink.Snapshot
type loopDoneMsg struct{ err error }

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	onStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

type monitorModel struct {
	connInfo string
	channels int
	tbl      table.Model
	snap     hostlink.Snapshot
	loopErr  error
	done     bool
	quitting bool
}

func initialMonitorModel(connInfo string, channels int) monitorModel {
	columns := []table.Column{
		{Title: "CH", Width: 4},
		{Title: "ANGLE", Width: 7},
		{Title: "LENGTH", Width: 8},
		{Title: "LAST CMD", Width: 9},
		{Title: "INITIAL", Width: 8},
		{Title: "FB", Width: 6},
	}
	rows := make([]table.Row, channels)
	for i := range rows {
		rows[i] = table.Row{fmt.Sprintf("%d", i), "-", "-", "-", "-", "-"}
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(channels+1),
	)
	return monitorModel{connInfo: connInfo, channels: channels, tbl: tbl}
}

func (m monitorModel) Init() tea.Cmd {
	return nil
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case snapshotMsg:
		m.snap = hostlink.Snapshot(msg)
		rows := make([]table.Row, len(m.snap.Channels))
		for i, ch := range m.snap.Channels {
			rows[i] = table.Row{
				fmt.Sprintf("%d", i),
				fmt.Sprintf("%d", ch.LastAngle),
				fmt.Sprintf("%d", ch.Length),
				fmt.Sprintf("%d", ch.LastLengthCmd),
				fmt.Sprintf("%d", ch.InitialLength),
				wire.EncodeUint(uint(ch.Length), wire.LengthWidth),
			}
		}
		m.tbl.SetRows(rows)
		return m, nil

	case loopDoneMsg:
		m.done = true
		m.loopErr = msg.err
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.tbl, cmd = m.tbl.Update(msg)
	return m, cmd
}

func (m monitorModel) View() string {
	if m.quitting {
		return ""
	}

	header := titleStyle.Render("Arachne Coordinator") + statusStyle.Render("  "+m.connInfo)

	gate := func(name string, on bool) string {
		if on {
			return onStyle.Render(name)
		}
		return offStyle.Render(name)
	}
	session := fmt.Sprintf("%s  %s",
		gate("SYSTEM", m.snap.Session.SystemOn),
		gate("MOTORS", m.snap.Session.MotorsEnabled))

	s := m.snap.Stats
	counters := statusStyle.Render(fmt.Sprintf(
		"lines %d  cycles %d  broadcasts %d  timeouts %d  framing %d",
		s.Lines, s.LengthCmds, s.Broadcasts, s.BusTimeouts, s.FramingErrors))

	return header + "\n" + session + "\n\n" + m.tbl.View() + "\n" + counters + "\n" +
		statusStyle.Render("q: quit") + "\n"
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	host, connInfo, err := OpenHostConnection(cfg.Host)
	if err != nil {
		return err
	}

	b, busCloser, err := OpenBus(cfg.Bus, cfg.Robot.Channels)
	if err != nil {
		host.Close()
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

	p := tea.NewProgram(initialMonitorModel(connInfo, cfg.Robot.Channels), tea.WithAltScreen())

	// Snapshots are immutable copies, safe to hand to the UI goroutine.
	d.SetListener(func(snap hostlink.Snapshot) {
		p.Send(snapshotMsg(snap))
	})

	go func() {
		err := d.Run(host)
		p.Send(loopDoneMsg{err: err})
	}()

	_, uiErr := p.Run()

	// Quitting from the UI: closing the host link unblocks the loop.
	host.Close()

	if uiErr != nil {
		return fmt.Errorf("monitor UI: %v", uiErr)
	}
	return nil
}
