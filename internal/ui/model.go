// ABOUTME: Bubbletea model for the device player TUI
// ABOUTME: Shows session, timeline, stream and scheduler state
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Model represents the player TUI state
type Model struct {
	// Connection
	connected  bool
	serverName string
	deviceID   string

	// Timeline
	deviceTimeMs float64
	probes       uint64

	// Stream
	codec      string
	sampleRate int
	channels   int
	bitDepth   int
	title      string
	planID     string

	// Playback
	state  string
	volume int
	muted  bool

	// Stats
	received    int64
	played      int64
	dropped     int64
	flushed     int64
	bufferDepth float64

	showDebug  bool
	volumeCtrl *VolumeControl

	width  int
	height int
}

// StatusMsg updates TUI state. Zero fields leave the model unchanged.
type StatusMsg struct {
	Connected    *bool
	ServerName   string
	DeviceID     string
	DeviceTimeMs float64
	Probes       uint64
	Codec        string
	SampleRate   int
	Channels     int
	BitDepth     int
	State        string
	Title        string
	PlanID       string
	Volume       int
	Received     int64
	Played       int64
	Dropped      int64
	Flushed      int64
	BufferDepth  float64
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Resonate Sync Player"))
	b.WriteString("\n\n")
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderStreamInfo())
	b.WriteString(m.renderControls())
	b.WriteString(m.renderStats())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓:Volume  m:Mute  d:Debug  q:Quit"))
	return b.String()
}

func (m Model) renderHeader() string {
	var b strings.Builder
	status := "Disconnected"
	if m.connected {
		status = "Connected to " + m.serverName
	}
	field(&b, "Status", status)

	timeline := "waiting for first probe"
	if m.probes > 0 {
		timeline = fmt.Sprintf("%.1fms (%d probes answered)", m.deviceTimeMs, m.probes)
	}
	field(&b, "Timeline", timeline)
	return b.String()
}

func (m Model) renderStreamInfo() string {
	var b strings.Builder
	if !m.connected || m.codec == "" {
		field(&b, "Stream", "none")
		return b.String()
	}

	field(&b, "Format", fmt.Sprintf("%s %dHz %s %d-bit", m.codec, m.sampleRate, channelName(m.channels), m.bitDepth))
	if m.state == "playing" {
		field(&b, "Playing", m.title)
	} else {
		field(&b, "Playing", "idle")
	}
	return b.String()
}

func (m Model) renderControls() string {
	var b strings.Builder
	vol := fmt.Sprintf("[%s] %d%%", renderBar(m.volume, 100, 10), m.volume)
	if m.muted {
		vol += " (muted)"
	}
	field(&b, "Volume", vol)
	field(&b, "Buffer", fmt.Sprintf("%.0fms queued", m.bufferDepth))
	return b.String()
}

func (m Model) renderStats() string {
	var b strings.Builder
	field(&b, "Chunks", fmt.Sprintf("RX: %d  Played: %d  Late: %d  Flushed: %d", m.received, m.played, m.dropped, m.flushed))
	return b.String()
}

func (m Model) renderDebug() string {
	var b strings.Builder
	field(&b, "Device", m.deviceID)
	field(&b, "Plan", m.planID)
	return b.String()
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.volumeCtrl != nil {
			select {
			case m.volumeCtrl.Quit <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case "up":
		m.volume = min(100, m.volume+5)
		m.sendVolume()
	case "down":
		m.volume = max(0, m.volume-5)
		m.sendVolume()
	case "m":
		m.muted = !m.muted
		m.sendVolume()
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m Model) sendVolume() {
	if m.volumeCtrl == nil {
		return
	}
	select {
	case m.volumeCtrl.Changes <- VolumeChangeMsg{Volume: m.volume, Muted: m.muted}:
	default:
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.DeviceID != "" {
		m.deviceID = msg.DeviceID
	}
	if msg.Probes != 0 {
		m.probes = msg.Probes
		m.deviceTimeMs = msg.DeviceTimeMs
	}
	if msg.Codec != "" {
		m.codec = msg.Codec
		m.sampleRate = msg.SampleRate
		m.channels = msg.Channels
		m.bitDepth = msg.BitDepth
	}
	if msg.State != "" {
		m.state = msg.State
		m.title = msg.Title
		m.planID = msg.PlanID
	}
	if msg.Volume != 0 {
		m.volume = msg.Volume
	}
	if msg.Received != 0 {
		m.received = msg.Received
		m.played = msg.Played
		m.dropped = msg.Dropped
		m.flushed = msg.Flushed
		m.bufferDepth = msg.BufferDepth
	}
}

func renderBar(value, max, width int) string {
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	if channels == 1 {
		return "Mono"
	}
	return "Stereo"
}

