// ABOUTME: Coordinator dashboard for the sync daemon
// ABOUTME: Renders clock, per-device sync and buffer state with bubbletea
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/pkg/resonate"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Action is a user command from the dashboard
type Action int

const (
	ActionQuit Action = iota
	ActionStop
	ActionReplay
	ActionMeasure
)

// Dashboard manages the coordinator TUI
type Dashboard struct {
	program *tea.Program
	updates chan resonate.Status
	actions chan Action
}

type dashboardModel struct {
	name      string
	addr      string
	status    resonate.Status
	startTime time.Time
	quitting  bool
	showDebug bool
	actions   chan Action
}

type tickMsg time.Time
type dashboardStatusMsg resonate.Status

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	helpStyle    = lipgloss.NewStyle().Faint(true)
)

var qualityColors = map[string]lipgloss.Color{
	"excellent": "42",
	"good":      "82",
	"fair":      "214",
	"poor":      "196",
}

// NewDashboard creates a dashboard for the daemon named name listening on addr
func NewDashboard(name, addr string) *Dashboard {
	d := &Dashboard{
		updates: make(chan resonate.Status, 10),
		actions: make(chan Action, 4),
	}
	m := dashboardModel{
		name:      name,
		addr:      addr,
		startTime: time.Now(),
		actions:   d.actions,
	}
	d.program = tea.NewProgram(m, tea.WithAltScreen())
	return d
}

// Run blocks until the user quits or Stop is called
func (d *Dashboard) Run() error {
	go func() {
		for status := range d.updates {
			d.program.Send(dashboardStatusMsg(status))
		}
	}()

	_, err := d.program.Run()
	return err
}

// Update sends a status snapshot without blocking
func (d *Dashboard) Update(status resonate.Status) {
	select {
	case d.updates <- status:
	default:
	}
}

// Stop quits the program
func (d *Dashboard) Stop() {
	d.program.Quit()
	close(d.updates)
}

// Actions delivers user commands
func (d *Dashboard) Actions() <-chan Action {
	return d.actions
}

func (m dashboardModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m dashboardModel) send(a Action) {
	select {
	case m.actions <- a:
	default:
	}
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.send(ActionQuit)
			return m, tea.Quit
		case "s":
			m.send(ActionStop)
		case "p":
			m.send(ActionReplay)
		case "l":
			m.send(ActionMeasure)
		case "d":
			m.showDebug = !m.showDebug
		}

	case tickMsg:
		return m, tickEvery()

	case dashboardStatusMsg:
		m.status = resonate.Status(msg)
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.quitting {
		return "Shutting down coordinator...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Resonate Sync Coordinator"))
	b.WriteString("\n\n")

	field(&b, "Server", fmt.Sprintf("%s (%s)", m.name, m.addr))
	field(&b, "Uptime", time.Since(m.startTime).Round(time.Second).String())

	clock := m.status.Clock
	clockState := "stopped"
	switch {
	case clock.Paused:
		clockState = "paused"
	case clock.Running:
		clockState = "running"
	}
	field(&b, "Clock", fmt.Sprintf("%s, %.1fms (sync %.1fms, %d ticks)", clockState, clock.CurrentTime, clock.SyncTime, clock.TickCount))

	playing := "idle"
	if m.status.Plan != nil {
		playing = fmt.Sprintf("%s [%s] %.1fs", m.status.Title, shortID(m.status.Plan.ID), m.status.Plan.DurationMs/1000)
	}
	field(&b, "Playing", playing)

	drift := m.status.Drift
	field(&b, "Sync", fmt.Sprintf("%s, %d corrections over %d passes, avg drift %.2fms",
		renderQuality(drift.SystemQuality.String()), drift.TotalCorrections, drift.Passes, drift.AverageDriftMs))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Devices (%d)", len(m.status.Devices))))
	b.WriteString("\n\n")

	if len(m.status.Devices) == 0 {
		b.WriteString(valueStyle.Render("  No devices connected"))
		b.WriteString("\n")
	}
	for _, d := range m.status.Devices {
		b.WriteString(renderDevice(d))
		if m.showDebug {
			b.WriteString(valueStyle.Render(fmt.Sprintf("      buffer w=%d r=%d skipped=%d repeated=%d overflows=%d  pending=%.2fms  sink failures=%d",
				d.Buffer.WritePos, d.Buffer.ReadPos, d.Buffer.SamplesSkipped, d.Buffer.SamplesRepeat,
				d.Buffer.Overflows, d.Correction.PendingAdjustmentMs, d.SinkFailures)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("s:Stop  p:Replay  l:Measure  d:Debug  q:Quit"))

	return b.String()
}

func field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(name + ": "))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func renderDevice(d resonate.DeviceStatus) string {
	state := "ready"
	if d.Playing {
		state = "playing"
	}
	latency := "-"
	if d.Latency != nil {
		latency = fmt.Sprintf("%.1fms±%.1f", d.Latency.MeanMs, d.Latency.JitterMs)
	}

	return fmt.Sprintf("  • %-16s %s %s\n",
		truncate(d.Name, 16),
		renderQuality(d.Clock.Quality.String()),
		valueStyle.Render(fmt.Sprintf("offset %+.2fms  drift %+.1fppm  latency %s  buffer %s %3.0f%%  %s  %d chunks",
			d.Clock.OffsetMs, d.Clock.DriftRatePpm, latency,
			renderBar(int(d.Buffer.Utilization*100), 100, 10), d.Buffer.Utilization*100,
			state, d.ChunksSent)))
}

func renderQuality(q string) string {
	style := lipgloss.NewStyle().Bold(true)
	if c, ok := qualityColors[q]; ok {
		style = style.Foreground(c)
	}
	return style.Render(fmt.Sprintf("%-9s", q))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
