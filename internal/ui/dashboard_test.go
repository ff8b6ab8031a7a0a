// ABOUTME: Tests for the coordinator dashboard model
// ABOUTME: Checks key actions and device rendering
package ui

import (
	"strings"
	"testing"

	"github.com/Resonate-Protocol/resonate-sync/pkg/buffer"
	"github.com/Resonate-Protocol/resonate-sync/pkg/resonate"
	clocksync "github.com/Resonate-Protocol/resonate-sync/pkg/sync"
	tea "github.com/charmbracelet/bubbletea"
)

func TestDashboardKeyActions(t *testing.T) {
	actions := make(chan Action, 4)
	var m tea.Model = dashboardModel{actions: actions}

	for _, key := range []string{"s", "p", "l"} {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("expected quit command")
	}

	want := []Action{ActionStop, ActionReplay, ActionMeasure, ActionQuit}
	for _, w := range want {
		if got := <-actions; got != w {
			t.Errorf("expected action %d, got %d", w, got)
		}
	}
}

func TestDashboardRendersDevices(t *testing.T) {
	var m tea.Model = dashboardModel{name: "hub", addr: ":8927"}
	m, _ = m.Update(dashboardStatusMsg(resonate.Status{
		Running: true,
		Clock:   clocksync.ClockStats{Running: true, CurrentTime: 1500},
		Devices: []resonate.DeviceStatus{{
			ID:      "kitchen",
			Name:    "Kitchen",
			Playing: true,
			Clock:   clocksync.DeviceClockStats{OffsetMs: 1.25, Quality: clocksync.QualityGood},
			Buffer:  buffer.Stats{Utilization: 0.5},
		}},
	}))

	view := m.View()
	for _, want := range []string{"Devices (1)", "Kitchen", "good", "offset +1.25ms", "playing", "running, 1500.0ms"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestDashboardEmpty(t *testing.T) {
	m := dashboardModel{name: "hub"}
	if view := m.View(); !strings.Contains(view, "No devices connected") || !strings.Contains(view, "idle") {
		t.Errorf("unexpected empty view:\n%s", view)
	}
}
