// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// dashboard is the TUI model shared by simulate and monitor
type dashboard struct {
	title         string
	source        string
	slaves        int
	showAll       bool
	stats         *tdma.Statistics
	last          map[int]tdma.BurstReport
	bar           progress.Model
	eventLog      []eventLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
	finished      bool
	finishErr     error
}

// Messages
type tickMsg time.Time
type reportMsg tdma.BurstReport
type finishedMsg struct {
	err error
}

func newDashboard(title, source string, slaves int, showAll bool) dashboard {
	return dashboard{
		title:         title,
		source:        source,
		slaves:        slaves,
		showAll:       showAll,
		stats:         tdma.NewStatistics(),
		last:          make(map[int]tdma.BurstReport),
		bar:           progress.New(progress.WithDefaultGradient(), progress.WithWidth(30), progress.WithoutPercentage()),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

// dashboardReporter forwards reports into a running program
type dashboardReporter struct {
	program *tea.Program
}

func (r dashboardReporter) Report(b tdma.BurstReport) {
	r.program.Send(reportMsg(b))
}

func (m dashboard) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case finishedMsg:
		m.finished = true
		m.finishErr = msg.err
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Link stopped: %v", msg.err), true)
		} else {
			m.addLogEntry("Link stopped", false)
		}

	case reportMsg:
		r := tdma.BurstReport(msg)
		m.stats.Report(r)
		if !r.Skipped {
			m.last[r.Slave] = r
		}
		m.logReport(r)
	}

	return m, nil
}

// logReport adds an event for anything other than a clean burst
func (m *dashboard) logReport(r tdma.BurstReport) {
	if r.Synced {
		m.addLogEntry("Sync countdown broadcast", false)
	}
	switch {
	case r.Skipped:
		return
	case r.Inactive:
		m.addLogEntry(fmt.Sprintf("Slave %d: no response", r.Slave), true)
	case r.Aborted:
		m.addLogEntry(fmt.Sprintf("Slave %d: burst aborted (%d framing errors)", r.Slave, r.FramingErrors), true)
	case len(r.Lost) > 0:
		m.addLogEntry(fmt.Sprintf("Slave %d: lost packets %v of %d", r.Slave, r.Lost, r.Expected), true)
	case r.Recovered > 0:
		m.addLogEntry(fmt.Sprintf("Slave %d: recovered %d packets in %d requests", r.Slave, r.Recovered, r.Requests), false)
	case m.showAll && r.Zero:
		m.addLogEntry(fmt.Sprintf("Slave %d: nothing to send", r.Slave), false)
	case m.showAll:
		m.addLogEntry(fmt.Sprintf("Slave %d: %d packets (rssi %d)", r.Slave, r.Expected, r.RSSI), false)
	}
}

func (m *dashboard) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// deliveryRatio is the share of expected packets that reached the host
func deliveryRatio(ps tdma.SlaveStatistics) float64 {
	expected := ps.Packets + ps.Lost
	if expected == 0 {
		if ps.Bursts > 0 {
			return 1
		}
		return 0
	}
	return float64(ps.Packets) / float64(expected)
}

func (m dashboard) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render(m.title))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Source: %s | Slaves: %d | 'r' resets, 'q' quits", m.source, m.slaves)))
	s.WriteString("\n\n")

	if m.finished {
		if m.finishErr != nil {
			s.WriteString(errorStyle.Render("✗ Link stopped"))
		} else {
			s.WriteString(warningStyle.Render("■ Link stopped"))
		}
	} else {
		s.WriteString(statsValueStyle.Render("✓ Running"))
	}
	s.WriteString("\n\n")

	// Totals
	st := m.stats
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Bursts:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Bursts)),
		statsLabelStyle.Render("Packets:"), statsValueStyle.Render(fmt.Sprintf("%d", st.PacketsReceived)),
		statsLabelStyle.Render("Lost:"), func() string {
			text := fmt.Sprintf("%d (%.1f%%)", st.PacketsLost, st.LossRate*100)
			if st.PacketsLost > 0 {
				return errorStyle.Render(text)
			}
			return statsValueStyle.Render(text)
		}(),
	))
	if st.Requests > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Requests:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Requests)),
			statsLabelStyle.Render("Recovered:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Recovered)),
		))
	}
	if st.AbortedBursts > 0 || st.FramingErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s (%s: %d)\n",
			statsLabelStyle.Render("Aborted:"), errorStyle.Render(fmt.Sprintf("%d", st.AbortedBursts)),
			statsLabelStyle.Render("Framing:"), errorStyle.Render(fmt.Sprintf("%d", st.FramingErrors)),
			headerStyle.Render("origin mismatches"), st.Mismatches,
		))
	}
	if st.InactiveEvents > 0 || st.Skipped > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Inactive:"), warningStyle.Render(fmt.Sprintf("%d", st.InactiveEvents)),
			statsLabelStyle.Render("Skipped:"), warningStyle.Render(fmt.Sprintf("%d", st.Skipped)),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", st.PacketRate)),
		statsLabelStyle.Render("Syncs:"), statsValueStyle.Render(fmt.Sprintf("%d", st.SyncBroadcasts)),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Per-slave delivery
	s.WriteString(statsLabelStyle.Render("Delivery:"))
	s.WriteString("\n")
	slaveContent := strings.Builder{}
	for id := 1; id <= m.slaves; id++ {
		ps := st.PerSlave[id]
		if ps == nil {
			ps = &tdma.SlaveStatistics{}
		}
		ratio := deliveryRatio(*ps)
		status := headerStyle.Render("waiting")
		if last, ok := m.last[id]; ok {
			switch {
			case last.Inactive:
				status = warningStyle.Render("silent")
			case last.Aborted:
				status = errorStyle.Render("aborted")
			case last.Zero:
				status = statsValueStyle.Render("idle")
			default:
				status = statsValueStyle.Render(fmt.Sprintf("%d/%d", last.Delivered(), last.Expected))
			}
		}
		slaveContent.WriteString(fmt.Sprintf("%s %s %5.1f%%  %s  %s\n",
			statsLabelStyle.Render(fmt.Sprintf("Slave %d:", id)),
			m.bar.ViewAs(ratio),
			ratio*100,
			headerStyle.Render(fmt.Sprintf("rssi %4d", ps.LastRSSI)),
			status,
		))
	}
	s.WriteString(boxStyle.Render(strings.TrimSuffix(slaveContent.String(), "\n")))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := max(m.height-18-m.slaves, 5)
	startIdx := max(len(m.eventLog)-logHeight, 0)

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(logContent.String()))

	return s.String()
}
