// ABOUTME: Device player application orchestration
// ABOUTME: Coordinates discovery, sessions with reconnect, audio output and the TUI
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/internal/ui"
	"github.com/Resonate-Protocol/resonate-sync/internal/version"
	"github.com/Resonate-Protocol/resonate-sync/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-sync/pkg/discovery"
	"github.com/Resonate-Protocol/resonate-sync/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-sync/pkg/resonate"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

// Logger is the logging surface the application needs
type Logger interface {
	Printf(format string, v ...any)
}

// Config holds player configuration
type Config struct {
	// ServerAddr skips discovery when set
	ServerAddr string

	DeviceID      string
	Name          string
	FixedOffsetMs float64
	Volume        int
	Formats       []protocol.AudioFormat

	// Headless discards audio instead of opening the sound card
	Headless bool

	UseTUI bool

	// ReconnectDelay is the wait between session attempts (default: 2s)
	ReconnectDelay time.Duration

	Logger Logger
}

// Player represents the device player application
type Player struct {
	config Config
	logger Logger
	output output.Output

	mu      sync.Mutex
	session *resonate.Player
	server  string
	volume  int
	muted   bool

	volumeCtrl *ui.VolumeControl
	tuiProg    *tea.Program

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new player
func New(config Config) *Player {
	if config.DeviceID == "" {
		config.DeviceID = uuid.New().String()
	}
	if config.Name == "" {
		config.Name = config.DeviceID
	}
	if config.Volume <= 0 {
		config.Volume = 100
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 2 * time.Second
	}
	var logger Logger = log.Default()
	if config.Logger != nil {
		logger = config.Logger
	}

	var out output.Output
	if config.Headless {
		out = output.NewNull(nil)
	} else {
		std, _ := logger.(*log.Logger)
		out = output.NewOto(std)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Player{
		config: config,
		logger: logger,
		output: out,
		volume: config.Volume,
		ctx:    ctx,
		cancel: cancel,
	}
	if config.UseTUI {
		p.volumeCtrl = ui.NewVolumeControl()
	}
	return p
}

// Start runs sessions until ctx is cancelled, Stop is called or the user quits
func (p *Player) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			p.cancel()
		case <-p.ctx.Done():
		}
	}()
	defer p.output.Close()
	p.logger.Printf("Starting player %s", p)

	if p.config.UseTUI {
		p.tuiProg = ui.Run(p.volumeCtrl)
		go func() {
			if _, err := p.tuiProg.Run(); err != nil {
				p.logger.Printf("TUI error: %v", err)
			}
			p.cancel()
		}()
		go p.handleVolumeControl()
		go p.statusLoop()
	}

	var disc *discovery.Manager
	if p.config.ServerAddr == "" {
		disc = discovery.NewManager(discovery.Config{Logger: p.logger})
		disc.Browse()
		defer disc.Stop()
	}

	for {
		addr, err := p.resolve(disc)
		if err != nil {
			return nil
		}

		if err := p.runSession(addr); err != nil {
			p.logger.Printf("Session with %s failed: %v", addr, err)
		}

		select {
		case <-p.ctx.Done():
			return nil
		case <-time.After(p.config.ReconnectDelay):
		}
	}
}

// resolve returns the coordinator to connect to, waiting for discovery if needed
func (p *Player) resolve(disc *discovery.Manager) (string, error) {
	if disc == nil {
		return p.config.ServerAddr, nil
	}

	p.mu.Lock()
	last := p.server
	p.mu.Unlock()
	if last != "" {
		return last, nil
	}

	p.logger.Printf("Browsing for %s coordinators...", discovery.ServiceType)
	select {
	case server := <-disc.Servers():
		p.logger.Printf("Discovered %s at %s", server.Name, server.Addr())
		return server.Addr(), nil
	case <-p.ctx.Done():
		return "", p.ctx.Err()
	}
}

// runSession connects once and blocks until the session ends
func (p *Player) runSession(addr string) error {
	p.mu.Lock()
	volume := p.volume
	muted := p.muted
	p.mu.Unlock()

	session, err := resonate.NewPlayer(resonate.PlayerConfig{
		ServerAddr:    addr,
		DeviceID:      p.config.DeviceID,
		PlayerName:    p.config.Name,
		Volume:        volume,
		FixedOffsetMs: p.config.FixedOffsetMs,
		Formats:       p.config.Formats,
		Output:        p.output,
		DeviceInfo: resonate.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
		OnStream: func(s resonate.StreamInfo) {
			if s.Ended {
				p.logger.Printf("Plan %s ended (%s)", s.PlanID, s.Reason)
				return
			}
			p.logger.Printf("Now playing %q (plan %s)", s.Title, s.PlanID)
		},
		Logger: p.logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
	err = session.Connect(ctx)
	cancel()
	if err != nil {
		return err
	}
	session.Mute(muted)

	p.mu.Lock()
	p.session = session
	p.server = addr
	p.mu.Unlock()

	select {
	case <-session.Done():
		p.logger.Printf("Session with %s ended", addr)
	case <-p.ctx.Done():
	}

	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
	return nil
}

// Session returns the active session, or nil
func (p *Player) Session() *resonate.Player {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// handleVolumeControl applies TUI volume changes to the current session
func (p *Player) handleVolumeControl() {
	for {
		select {
		case change := <-p.volumeCtrl.Changes:
			p.mu.Lock()
			p.volume = change.Volume
			p.muted = change.Muted
			session := p.session
			p.mu.Unlock()

			if session != nil {
				session.SetVolume(change.Volume)
				session.Mute(change.Muted)
			}

		case <-p.volumeCtrl.Quit:
			p.cancel()
			return

		case <-p.ctx.Done():
			return
		}
	}
}

// statusLoop pushes session state to the TUI
func (p *Player) statusLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tuiProg.Send(p.statusMsg())
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Player) statusMsg() ui.StatusMsg {
	p.mu.Lock()
	session := p.session
	server := p.server
	p.mu.Unlock()

	connected := session != nil
	msg := ui.StatusMsg{Connected: &connected, DeviceID: p.config.DeviceID}
	if session == nil {
		return msg
	}

	state := session.Status()
	stats := session.Stats()
	msg.ServerName = server
	msg.Codec = state.Codec
	msg.SampleRate = state.SampleRate
	msg.Channels = state.Channels
	msg.BitDepth = state.BitDepth
	msg.State = state.State
	msg.Title = state.Title
	msg.PlanID = state.PlanID
	msg.Volume = state.Volume
	msg.Probes = stats.Probes
	msg.DeviceTimeMs = stats.DeviceTimeMs
	msg.Received = stats.Received
	msg.Played = stats.Played
	msg.Dropped = stats.Dropped
	msg.Flushed = stats.Flushed
	msg.BufferDepth = stats.BufferDepthMs
	return msg
}

// Stop stops the player
func (p *Player) Stop() {
	p.cancel()

	if p.tuiProg != nil {
		p.tuiProg.Quit()
	}
}

// String describes the player for logs
func (p *Player) String() string {
	return fmt.Sprintf("%s (%s)", p.config.Name, p.config.DeviceID)
}
