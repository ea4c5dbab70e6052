// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/pipeline"
	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

// Event log entry
type eventEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// monitorModel is the live display
type monitorModel struct {
	connInfo   string
	sessionID  string
	showAll    bool
	store      *projecta.Store
	stats      *projecta.Statistics
	fields     table.Model
	events     []eventEntry
	maxEvents  int
	connected  bool
	lastUpdate time.Time
	lastLabel  string
	width      int
	height     int
	quitting   bool
}

// Messages
type tickMsg time.Time
type frameMsg struct {
	result pipeline.Result
}
type connectionMsg monitorEvent
type fatalMsg struct {
	err error
}

var fieldColumns = []table.Column{
	{Title: "Field", Width: 24},
	{Title: "Value", Width: 10},
	{Title: "Unit", Width: 5},
	{Title: "", Width: 9},
}

func newMonitorModel(connInfo, sessionID string, store *projecta.Store, stats *projecta.Statistics, showAll bool) monitorModel {
	t := table.New(
		table.WithColumns(fieldColumns),
		table.WithHeight(len(projecta.AllFields())+3),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()
	t.SetStyles(styles)

	m := monitorModel{
		connInfo:  connInfo,
		sessionID: sessionID,
		showAll:   showAll,
		store:     store,
		stats:     stats,
		fields:    t,
		maxEvents: 200,
		connected: true,
	}
	m.refreshFields(store.Snapshot())
	return m
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Init() tea.Cmd {
	return tickCmd()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addEvent("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case frameMsg:
		m.handleFrame(msg.result)

	case connectionMsg:
		m.connected = msg.connected
		if msg.connected {
			m.connInfo = msg.connInfo
		}
		m.addEvent(describeEvent(monitorEvent(msg)), !msg.connected)

	case fatalMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *monitorModel) handleFrame(r pipeline.Result) {
	label := r.Packet.Label()

	if r.Packet.Variant() == projecta.VariantUnknown {
		m.addEvent(fmt.Sprintf("%s (%d bytes) ignored", label, r.Frame.Len()), true)
		return
	}

	for _, a := range r.Anomalies {
		m.addEvent(fmt.Sprintf("%s: %s", label, a.Message), true)
	}

	if r.Changed {
		m.lastUpdate = r.Time
		m.lastLabel = label
		m.refreshFields(r.Snapshot)
		if m.showAll {
			m.addEvent(fmt.Sprintf("%s changed snapshot", label), false)
		}
	} else if m.showAll {
		m.addEvent(fmt.Sprintf("%s (no change)", label), false)
	}
}

// refreshFields rebuilds the table rows from a snapshot
func (m *monitorModel) refreshFields(snap projecta.Snapshot) {
	rows := make([]table.Row, 0, snap.Len())
	for _, f := range projecta.AllFields() {
		v, ok := snap.Get(f)
		if !ok {
			continue
		}
		info := f.Info()
		var notes []string
		if info.Derived {
			notes = append(notes, "derived")
		}
		if info.Tentative {
			notes = append(notes, "*")
		}
		rows = append(rows, table.Row{info.Name, f.FormatValue(v), info.Unit, strings.Join(notes, " ")})
	}
	m.fields.SetRows(rows)
}

func (m *monitorModel) addEvent(message string, isError bool) {
	m.events = append(m.events, eventEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
}

// formatUptime renders an elapsed duration as "1h 02m 03s"
func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %02ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("PMSCOPE - LIVE MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Session %s | 'r' reset stats, 'q' quit",
		m.connInfo, shortSession(m.sessionID))))
	s.WriteString("\n\n")

	if m.connected {
		s.WriteString(valueStyle.Render("✓ Connected"))
	} else {
		s.WriteString(warningStyle.Render("⏳ Reconnecting..."))
	}
	if !m.lastUpdate.IsZero() {
		s.WriteString(headerStyle.Render(fmt.Sprintf("  last change %s from %s",
			m.lastUpdate.Format("15:04:05"), m.lastLabel)))
	}
	s.WriteString("\n\n")

	// Snapshot and statistics side by side
	var snapshot string
	if len(m.fields.Rows()) == 0 {
		snapshot = headerStyle.Render("(no telemetry yet)")
	} else {
		snapshot = m.fields.View()
	}
	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(snapshot),
		" ",
		boxStyle.Render(m.statsView()),
	)
	s.WriteString(panels)
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(m.eventsView(lipgloss.Height(panels)))

	return s.String()
}

func (m monitorModel) statsView() string {
	sum := m.stats.Summary()

	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-11s", label)), value))
	}

	row("Uptime:", valueStyle.Render(formatUptime(sum.Elapsed)))
	row("Frames:", valueStyle.Render(fmt.Sprintf("%d", sum.TotalFrames)))
	row("PMDCS:", valueStyle.Render(fmt.Sprintf("%d", sum.PMDCSFrames)))
	row("Telemetry:", valueStyle.Render(fmt.Sprintf("%d (%d prefixed)", sum.TelemetryFrames, sum.PrefixedFrames)))
	if sum.UnknownFrames > 0 {
		row("Unknown:", warningStyle.Render(fmt.Sprintf("%d", sum.UnknownFrames)))
	}
	row("Changes:", valueStyle.Render(fmt.Sprintf("%d", sum.SnapshotChanges)))
	if sum.Anomalies > 0 {
		row("Anomalies:", warningStyle.Render(fmt.Sprintf("%d", sum.Anomalies)))
	}
	if sum.Disconnects > 0 {
		row("Drops:", errorStyle.Render(fmt.Sprintf("%d (%d bytes)", sum.Disconnects, sum.DroppedBytes)))
	}
	row("Rate:", valueStyle.Render(fmt.Sprintf("%.1f frames/s", sum.FrameRate)))
	if sum.GapSamples > 0 {
		row("Spacing:", valueStyle.Render(fmt.Sprintf("%.0f ms (sd %.0f)", sum.GapMean*1000, sum.GapStdDev*1000)))
	}
	row("Bytes:", valueStyle.Render(fmt.Sprintf("%d", sum.BytesRead)))

	return strings.TrimRight(b.String(), "\n")
}

func (m monitorModel) eventsView(used int) string {
	// Calculate how many log entries we can show
	logHeight := m.height - used - 8
	if logHeight < 5 {
		logHeight = 5
	}

	var b strings.Builder
	startIdx := len(m.events) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.events) == 0 {
		b.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.events[startIdx:] {
			timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
			if entry.isError {
				b.WriteString(fmt.Sprintf("%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message)))
			} else {
				b.WriteString(fmt.Sprintf("%s %s\n", timestamp, warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	return boxStyle.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
