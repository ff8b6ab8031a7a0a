// ABOUTME: Device-side WebSocket client for the sync protocol
// ABOUTME: Handles connection, handshake, probe answers and message routing
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when sending on a closed client
var ErrNotConnected = errors.New("not connected")

// Logger is the logging surface the client needs
type Logger interface {
	Printf(format string, v ...any)
}

// Config holds client configuration
type Config struct {
	ServerAddr       string
	Path             string // default Path
	DeviceID         string
	Name             string
	FixedOffsetMs    float64
	SupportedFormats []AudioFormat
	DeviceInfo       *DeviceInfo

	// AnswerProbe returns the device clock reading for a probe. It runs on
	// the read loop and must not block. Default: ms since Connect.
	AnswerProbe func(ServerProbe) float64

	// HandshakeTimeout bounds the wait for server/hello (default: 5s)
	HandshakeTimeout time.Duration

	Logger Logger
}

// Client represents a device connection to a coordinator
type Client struct {
	config Config
	logger Logger

	mu        sync.RWMutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
	hello     ServerHello
	started   time.Time
	probes    uint64
	dropped   uint64

	// Message channels; AudioChunks is closed when the session ends
	AudioChunks chan AudioChunk
	StreamStart chan StreamStart
	StreamEnd   chan StreamEnd

	done chan struct{}
}

// NewClient creates a new client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = Path
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 5 * time.Second
	}
	if len(config.SupportedFormats) == 0 {
		config.SupportedFormats = []AudioFormat{
			{Codec: "opus", Channels: 2, SampleRate: 48000, BitDepth: 16},
			{Codec: "pcm", Channels: 2, SampleRate: 48000, BitDepth: 16},
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		config:      config,
		logger:      logger,
		AudioChunks: make(chan AudioChunk, 100),
		StreamStart: make(chan StreamStart, 4),
		StreamEnd:   make(chan StreamEnd, 4),
		done:        make(chan struct{}),
	}
}

// Connect dials the coordinator, performs the handshake and starts the read loop
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	c.logger.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.started = time.Now()
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		close(c.AudioChunks)
		close(c.done)
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

func (c *Client) handshake() error {
	hello := DeviceHello{
		DeviceID:         c.config.DeviceID,
		Name:             c.config.Name,
		Version:          ProtocolVersion,
		FixedOffsetMs:    c.config.FixedOffsetMs,
		SupportedFormats: c.config.SupportedFormats,
		DeviceInfo:       c.config.DeviceInfo,
	}
	if err := c.send(TypeDeviceHello, hello); err != nil {
		return fmt.Errorf("failed to send %s: %w", TypeDeviceHello, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", TypeServerHello, err)
	}
	c.conn.SetReadDeadline(time.Time{})

	env, err := ParseEnvelope(data)
	if err != nil {
		return err
	}
	if env.Type != TypeServerHello {
		return fmt.Errorf("expected %s, got %s", TypeServerHello, env.Type)
	}

	var sh ServerHello
	if err := env.Into(&sh); err != nil {
		return err
	}

	c.mu.Lock()
	c.hello = sh
	c.mu.Unlock()

	c.logger.Printf("Handshake complete with %s (%s %dHz %dch)", sh.Name, sh.Codec, sh.SampleRate, sh.Channels)
	return nil
}

// send writes one JSON message; gorilla allows a single concurrent writer
func (c *Client) send(msgType string, payload any) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(Message{Type: msgType, Payload: payload})
}

func (c *Client) readMessages() {
	defer func() {
		c.Close()
		close(c.AudioChunks)
		close(c.done)
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.IsConnected() {
				c.logger.Printf("Read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinaryMessage(data)
		case websocket.TextMessage:
			c.handleJSONMessage(data)
		default:
			c.logger.Printf("Unknown WebSocket message type: %d", messageType)
		}
	}
}

func (c *Client) handleBinaryMessage(data []byte) {
	chunk, err := DecodeAudioChunk(data)
	if err != nil {
		c.logger.Printf("Invalid binary message: %v", err)
		return
	}

	// Never block the read loop: probes behind a full channel would time out
	select {
	case c.AudioChunks <- chunk:
	default:
		c.mu.Lock()
		c.dropped++
		n := c.dropped
		c.mu.Unlock()
		if n == 1 || n%100 == 0 {
			c.logger.Printf("Audio chunk channel full, dropped %d chunks", n)
		}
	}
}

func (c *Client) handleJSONMessage(data []byte) {
	env, err := ParseEnvelope(data)
	if err != nil {
		c.logger.Printf("%v", err)
		return
	}

	switch env.Type {
	case TypeServerProbe:
		var probe ServerProbe
		if err := env.Into(&probe); err != nil {
			c.logger.Printf("%v", err)
			return
		}
		deviceTime := c.deviceTime(probe)
		if err := c.send(TypeProbeAck, ProbeAck{ProbeID: probe.ProbeID, DeviceTime: deviceTime}); err != nil {
			c.logger.Printf("Failed to answer probe %s: %v", probe.ProbeID, err)
		}

	case TypeStreamStart:
		var start StreamStart
		if err := env.Into(&start); err != nil {
			c.logger.Printf("%v", err)
			return
		}
		select {
		case c.StreamStart <- start:
		default:
			c.logger.Printf("Stream start channel full, dropping %s", start.PlanID)
		}

	case TypeStreamEnd:
		var end StreamEnd
		if err := env.Into(&end); err != nil {
			c.logger.Printf("%v", err)
			return
		}
		select {
		case c.StreamEnd <- end:
		default:
			c.logger.Printf("Stream end channel full, dropping %s", end.PlanID)
		}

	default:
		c.logger.Printf("Unknown message type: %s", env.Type)
	}
}

func (c *Client) deviceTime(probe ServerProbe) float64 {
	c.mu.Lock()
	c.probes++
	started := c.started
	c.mu.Unlock()

	if c.config.AnswerProbe != nil {
		return c.config.AnswerProbe(probe)
	}
	return float64(time.Since(started)) / float64(time.Millisecond)
}

// ServerHello returns the handshake answer
func (c *Client) ServerHello() ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hello
}

// Probes returns the number of probes answered
func (c *Client) Probes() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.probes
}

// SendGoodbye sends device/goodbye before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.send(TypeDeviceGoodbye, DeviceGoodbye{Reason: reason})
}

// Done is closed when the session has ended
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.conn.Close()
		c.logger.Printf("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
