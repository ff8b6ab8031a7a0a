// ABOUTME: Device-side Player API for coordinator streams
// ABOUTME: Answers probes on a local timeline and plays chunks at their target time
package resonate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/Resonate-Protocol/resonate-sync/internal/player"
	"github.com/Resonate-Protocol/resonate-sync/pkg/audio"
	"github.com/Resonate-Protocol/resonate-sync/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-sync/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-sync/pkg/protocol"
	"github.com/google/uuid"
)

// ErrPlayerClosed is returned by Connect after Close
var ErrPlayerClosed = errors.New("player closed")

// streamStartSlackMs keeps first chunks whose device time landed just
// before the announced start
const streamStartSlackMs = 5

// PlayerConfig holds player configuration
type PlayerConfig struct {
	// ServerAddr is the coordinator address (host:port)
	ServerAddr string

	// DeviceID identifies the device to the coordinator (default: random uuid)
	DeviceID string

	// PlayerName is the display name for this player
	PlayerName string

	// Volume is the initial volume (0-100, default: 100)
	Volume int

	// FixedOffsetMs is a static per-device delay the coordinator adds to plans
	FixedOffsetMs float64

	// Formats lists supported formats in preference order (default: opus, then pcm at 48kHz stereo)
	Formats []protocol.AudioFormat

	// Output receives scheduled audio (default: oto). A supplied output is
	// not closed by the player so it can outlive one session.
	Output output.Output

	// Scheduler tunes the release window
	Scheduler player.SchedulerConfig

	// DeviceInfo provides device identification
	DeviceInfo DeviceInfo

	// OnStream is called when a plan starts or ends on this device
	OnStream func(StreamInfo)

	// OnStateChange is called when playback state changes
	OnStateChange func(PlayerState)

	// OnError is called when errors occur
	OnError func(error)

	Logger Logger
}

// DeviceInfo describes the player device
type DeviceInfo struct {
	ProductName     string
	Manufacturer    string
	SoftwareVersion string
}

// StreamInfo describes the plan a device is playing
type StreamInfo struct {
	PlanID        string
	Title         string
	TargetStartMs float64
	DurationMs    float64
	Ended         bool
	Reason        string
}

// PlayerState describes the current state
type PlayerState struct {
	State      string // "idle", "playing"
	Volume     int
	Muted      bool
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
	Connected  bool
	PlanID     string
	Title      string
}

// PlayerStats contains playback statistics
type PlayerStats struct {
	Received      int64
	Played        int64
	Dropped       int64
	Flushed       int64
	DecodeErrors  int64
	BufferDepthMs float64
	Probes        uint64
	DeviceTimeMs  float64
}

// Player receives a coordinator stream and plays it on time
type Player struct {
	config PlayerConfig
	logger Logger

	timeline  *player.Timeline
	client    *protocol.Client
	scheduler *player.Scheduler
	output    output.Output
	ownOutput bool
	decoders  map[byte]decode.Decoder

	mu           sync.RWMutex
	state        PlayerState
	decodeErrors int64
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPlayer creates a new player with the given configuration
func NewPlayer(config PlayerConfig) (*Player, error) {
	if config.ServerAddr == "" {
		return nil, errors.New("server address is required")
	}
	if config.DeviceID == "" {
		config.DeviceID = uuid.New().String()
	}
	if config.PlayerName == "" {
		config.PlayerName = config.DeviceID
	}
	if config.Volume == 0 {
		config.Volume = 100
	}
	if config.DeviceInfo.ProductName == "" {
		config.DeviceInfo.ProductName = "Resonate Sync Player"
	}
	if config.DeviceInfo.Manufacturer == "" {
		config.DeviceInfo.Manufacturer = "Resonate"
	}
	if config.DeviceInfo.SoftwareVersion == "" {
		config.DeviceInfo.SoftwareVersion = "1.0.0"
	}

	var logger Logger = log.Default()
	if config.Logger != nil {
		logger = config.Logger
	}
	if config.Scheduler.Logger == nil {
		config.Scheduler.Logger = logger
	}

	out := config.Output
	if out == nil {
		std, _ := logger.(*log.Logger)
		out = output.NewOto(std)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Player{
		config:    config,
		logger:    logger,
		timeline:  player.NewTimeline(nil),
		output:    out,
		ownOutput: config.Output == nil,
		ctx:       ctx,
		cancel:    cancel,
		state: PlayerState{
			State:  "idle",
			Volume: config.Volume,
		},
	}
	if v, ok := out.(output.Volume); ok {
		v.SetVolume(config.Volume)
	}

	return p, nil
}

// Connect establishes the session, opens the output and starts playback loops
func (p *Player) Connect(ctx context.Context) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPlayerClosed
	}

	p.client = protocol.NewClient(protocol.Config{
		ServerAddr:       p.config.ServerAddr,
		DeviceID:         p.config.DeviceID,
		Name:             p.config.PlayerName,
		FixedOffsetMs:    p.config.FixedOffsetMs,
		SupportedFormats: p.config.Formats,
		DeviceInfo: &protocol.DeviceInfo{
			ProductName:     p.config.DeviceInfo.ProductName,
			Manufacturer:    p.config.DeviceInfo.Manufacturer,
			SoftwareVersion: p.config.DeviceInfo.SoftwareVersion,
		},
		AnswerProbe: func(probe protocol.ServerProbe) float64 {
			return p.timeline.Answer(probe.MasterTime)
		},
		Logger: p.logger,
	})

	if err := p.client.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	hello := p.client.ServerHello()
	format := audio.Format{
		Codec:      hello.Codec,
		SampleRate: hello.SampleRate,
		Channels:   hello.Channels,
		BitDepth:   hello.BitDepth,
	}

	decoders, err := newDecoders(format)
	if err != nil {
		p.client.Close()
		return err
	}
	p.decoders = decoders

	if err := p.output.Open(format.SampleRate, format.Channels); err != nil {
		p.closeDecoders()
		p.client.Close()
		return fmt.Errorf("failed to initialize output: %w", err)
	}

	p.mu.Lock()
	p.state.Connected = true
	p.state.Codec = format.Codec
	p.state.SampleRate = format.SampleRate
	p.state.Channels = format.Channels
	p.state.BitDepth = format.BitDepth
	p.mu.Unlock()
	p.notifyStateChange()

	p.logger.Printf("Connected to %s as %s (%s %dHz %dch)",
		p.config.ServerAddr, p.config.DeviceID, format.Codec, format.SampleRate, format.Channels)

	p.scheduler = player.NewScheduler(p.timeline, p.config.Scheduler)

	p.wg.Add(4)
	go func() { defer p.wg.Done(); p.scheduler.Run() }()
	go func() { defer p.wg.Done(); p.handleAudioChunks(format) }()
	go func() { defer p.wg.Done(); p.handleScheduledAudio() }()
	go func() { defer p.wg.Done(); p.handleStream() }()

	return nil
}

// newDecoders builds one decoder per chunk kind the session can carry.
// An Opus session may fall back to 16-bit PCM chunks.
func newDecoders(format audio.Format) (map[byte]decode.Decoder, error) {
	decoders := make(map[byte]decode.Decoder, 2)

	pcm := format
	pcm.Codec = audio.CodecPCM
	if format.Codec == audio.CodecOpus {
		pcm.BitDepth = 16
	}
	d, err := decode.NewPCM(pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	decoders[protocol.AudioChunkPCM] = d

	if format.Codec == audio.CodecOpus {
		d, err := decode.NewOpus(format)
		if err != nil {
			decoders[protocol.AudioChunkPCM].Close()
			return nil, fmt.Errorf("failed to create decoder: %w", err)
		}
		decoders[protocol.AudioChunkOpus] = d
	}
	return decoders, nil
}

// handleAudioChunks decodes and schedules audio until the session ends
func (p *Player) handleAudioChunks(format audio.Format) {
	for chunk := range p.client.AudioChunks {
		dec, ok := p.decoders[chunk.Kind]
		if !ok {
			p.notifyError(fmt.Errorf("unexpected chunk kind %d", chunk.Kind))
			continue
		}

		samples, err := dec.Decode(chunk.Data)
		if err != nil {
			p.mu.Lock()
			p.decodeErrors++
			p.mu.Unlock()
			p.notifyError(fmt.Errorf("decode error: %w", err))
			continue
		}

		p.scheduler.Schedule(audio.Buffer{
			TargetMs: chunk.TargetMs,
			Samples:  samples,
			Format:   format,
		})
	}

	p.mu.Lock()
	p.state.Connected = false
	p.state.State = "idle"
	p.mu.Unlock()
	p.notifyStateChange()
}

// handleScheduledAudio plays scheduled buffers
func (p *Player) handleScheduledAudio() {
	for {
		select {
		case buf := <-p.scheduler.Output():
			if err := p.output.Write(buf.Samples); err != nil {
				p.notifyError(fmt.Errorf("playback error: %w", err))
			}

		case <-p.ctx.Done():
			return
		}
	}
}

// handleStream tracks plan boundaries
func (p *Player) handleStream() {
	for {
		select {
		case start := <-p.client.StreamStart:
			// Chunks of a replaced plan may still be queued
			if n := p.scheduler.DropBefore(start.TargetStartMs - streamStartSlackMs); n > 0 {
				p.logger.Printf("Dropped %d chunks queued before plan %s", n, start.PlanID)
			}
			p.logger.Printf("Stream %s starting: %q at %.1fms for %.0fms",
				start.PlanID, start.Title, start.TargetStartMs, start.DurationMs)

			p.mu.Lock()
			p.state.State = "playing"
			p.state.PlanID = start.PlanID
			p.state.Title = start.Title
			p.mu.Unlock()
			p.notifyStateChange()
			p.notifyStream(StreamInfo{
				PlanID:        start.PlanID,
				Title:         start.Title,
				TargetStartMs: start.TargetStartMs,
				DurationMs:    start.DurationMs,
			})

		case end := <-p.client.StreamEnd:
			if end.Reason == "stopped" {
				p.scheduler.Flush()
			}
			p.logger.Printf("Stream %s ended: %s", end.PlanID, end.Reason)

			p.mu.Lock()
			p.state.State = "idle"
			p.state.PlanID = ""
			p.mu.Unlock()
			p.notifyStateChange()
			p.notifyStream(StreamInfo{PlanID: end.PlanID, Ended: true, Reason: end.Reason})

		case <-p.client.Done():
			return
		case <-p.ctx.Done():
			return
		}
	}
}

// Done is closed when the session ends
func (p *Player) Done() <-chan struct{} {
	if p.client == nil {
		return nil
	}
	return p.client.Done()
}

// SetVolume sets the volume (0-100)
func (p *Player) SetVolume(volume int) error {
	volume = max(0, min(100, volume))

	p.mu.Lock()
	p.state.Volume = volume
	p.mu.Unlock()

	if v, ok := p.output.(output.Volume); ok {
		v.SetVolume(volume)
	}

	p.notifyStateChange()
	return nil
}

// Mute sets the mute state
func (p *Player) Mute(muted bool) error {
	p.mu.Lock()
	p.state.Muted = muted
	p.mu.Unlock()

	if v, ok := p.output.(output.Volume); ok {
		v.SetMuted(muted)
	}

	p.notifyStateChange()
	return nil
}

// Status returns the current player state
func (p *Player) Status() PlayerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Stats returns playback statistics
func (p *Player) Stats() PlayerStats {
	p.mu.RLock()
	stats := PlayerStats{DecodeErrors: p.decodeErrors}
	p.mu.RUnlock()

	if p.scheduler != nil {
		s := p.scheduler.Stats()
		stats.Received = s.Received
		stats.Played = s.Played
		stats.Dropped = s.Dropped
		stats.Flushed = s.Flushed
		stats.BufferDepthMs = p.scheduler.BufferDepth()
	}
	if p.client != nil {
		stats.Probes = p.client.Probes()
	}
	stats.DeviceTimeMs = p.timeline.CurrentTime()

	return stats
}

// Close says goodbye, closes the session and releases all resources
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.client != nil && p.client.IsConnected() {
		if err := p.client.SendGoodbye("shutdown"); err != nil {
			p.logger.Printf("Failed to send goodbye: %v", err)
		}
		p.client.Close()
	}

	p.cancel()
	if p.scheduler != nil {
		p.scheduler.Stop()
	}
	p.wg.Wait()

	p.closeDecoders()
	if p.ownOutput {
		p.output.Close()
	}

	p.mu.Lock()
	p.state.Connected = false
	p.state.State = "idle"
	p.mu.Unlock()
	p.notifyStateChange()

	return nil
}

func (p *Player) closeDecoders() {
	for _, d := range p.decoders {
		d.Close()
	}
	p.decoders = nil
}

// notifyStateChange calls the OnStateChange callback if set
func (p *Player) notifyStateChange() {
	if p.config.OnStateChange != nil {
		p.config.OnStateChange(p.Status())
	}
}

func (p *Player) notifyStream(info StreamInfo) {
	if p.config.OnStream != nil {
		p.config.OnStream(info)
	}
}

// notifyError calls the OnError callback if set
func (p *Player) notifyError(err error) {
	if p.config.OnError != nil {
		p.config.OnError(err)
	} else {
		p.logger.Printf("Player error: %v", err)
	}
}
