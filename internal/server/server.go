// ABOUTME: WebSocket transport between the coordinator and its devices
// ABOUTME: Accepts device sessions, negotiates codecs and registers devices
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/pkg/discovery"
	"github.com/Resonate-Protocol/resonate-sync/pkg/playback"
	"github.com/Resonate-Protocol/resonate-sync/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-sync/pkg/resonate"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Logger is the logging surface the transport needs
type Logger interface {
	Printf(format string, v ...any)
}

// ServerConfig configures the transport
type ServerConfig struct {
	// Port to listen on (default: 8927); Addr wins when set
	Port int
	Addr string

	// Name of the coordinator for identification
	Name string

	// Version reported in server/hello
	Version string

	// Coordinator receives every connected device (required)
	Coordinator *resonate.Coordinator

	// EnableMDNS advertises the coordinator on the local network
	EnableMDNS bool

	// ConnectTimeout bounds the initial measurement of a new device (default: 30s)
	ConnectTimeout time.Duration

	// SendQueue is the per-device outbound message queue length (default: 256)
	SendQueue int

	Logger Logger
}

// Server accepts device sessions and feeds them to the coordinator
type Server struct {
	config   ServerConfig
	logger   Logger
	serverID string
	coord    *resonate.Coordinator

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server
	listener   net.Listener
	mdns       *discovery.Manager

	mu       sync.RWMutex
	devices  map[string]*deviceConn
	shutdown bool

	wg sync.WaitGroup
}

// DeviceInfo describes a connected session
type DeviceInfo struct {
	ID          string
	Name        string
	Remote      string
	Codec       string
	ConnectedAt time.Time
	Queued      int
	Dropped     uint64
}

// NewServer creates a transport for coord
func NewServer(config ServerConfig) (*Server, error) {
	if config.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if config.Port == 0 {
		config.Port = 8927
	}
	if config.Addr == "" {
		config.Addr = fmt.Sprintf(":%d", config.Port)
	}
	if config.Name == "" {
		config.Name = "Resonate Sync"
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.SendQueue <= 0 {
		config.SendQueue = 256
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	s := &Server{
		config:   config,
		logger:   config.Logger,
		serverID: uuid.New().String(),
		coord:    config.Coordinator,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Local network deployment, any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		devices: make(map[string]*deviceConn),
	}
	s.mux.HandleFunc(protocol.Path, s.handleWebSocket)

	return s, nil
}

// ID returns the coordinator id sent to devices
func (s *Server) ID() string {
	return s.serverID
}

// Handle mounts an extra HTTP handler next to the WebSocket endpoint
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Handler returns the HTTP handler serving devices
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("HTTP server error: %v", err)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	s.logger.Printf("WebSocket server listening on %s%s (ID: %s)", ln.Addr(), protocol.Path, s.serverID)

	if s.config.EnableMDNS {
		s.mdns = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        port,
			Path:        protocol.Path,
			ServerID:    s.serverID,
			Logger:      s.logger,
		})
		if err := s.mdns.Advertise(); err != nil {
			s.logger.Printf("Failed to start mDNS advertisement: %v", err)
		}
	}
	return nil
}

// Addr returns the bound listen address
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Stop closes every session and the listener
func (s *Server) Stop() {
	s.mu.Lock()
	s.shutdown = true
	conns := make([]*deviceConn, 0, len(s.devices))
	for _, d := range s.devices {
		conns = append(conns, d)
	}
	s.mu.Unlock()

	if s.mdns != nil {
		s.mdns.Stop()
	}

	for _, d := range conns {
		d.close()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("HTTP server shutdown error: %v", err)
		}
	}

	s.wg.Wait()
	s.logger.Printf("Server stopped cleanly")
}

// Devices returns the connected sessions sorted by name
func (s *Server) Devices() []DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DeviceInfo, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Play starts payload on the coordinator and announces the plan to each device
func (s *Server) Play(ctx context.Context, payload playback.Payload) (*playback.Plan, error) {
	plan, err := s.coord.Play(ctx, payload)
	if err != nil {
		return nil, err
	}

	for _, dp := range plan.Devices {
		d := s.device(dp.DeviceID)
		if d == nil {
			continue
		}
		// chunk targets arrive in device time, so the start does too
		start, err := s.coord.DeviceTime(dp.DeviceID, dp.TargetStartMs)
		if err != nil {
			continue
		}
		d.sendJSON(protocol.TypeStreamStart, protocol.StreamStart{
			PlanID:        plan.ID,
			Title:         plan.Title,
			TargetStartMs: start,
			DurationMs:    plan.DurationMs,
		})
	}
	return plan, nil
}

// StopPlayback stops the coordinator's plan and tells every device
func (s *Server) StopPlayback() {
	planID := ""
	if st := s.coord.Status(); st.Plan != nil {
		planID = st.Plan.ID
	}
	s.coord.StopPlayback()
	s.broadcastEnd(planID, "stopped")
}

// HandleEvent forwards coordinator events that devices must hear about.
// Chain it into the coordinator's OnEvent.
func (s *Server) HandleEvent(ev resonate.Event) {
	if done, ok := ev.(resonate.PlaybackCompleted); ok {
		s.broadcastEnd(done.PlanID, "completed")
	}
}

func (s *Server) broadcastEnd(planID, reason string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.devices {
		d.sendJSON(protocol.TypeStreamEnd, protocol.StreamEnd{PlanID: planID, Reason: reason})
	}
}

func (s *Server) device(id string) *deviceConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[id]
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}

	s.logger.Printf("New WebSocket connection from %s", r.RemoteAddr)
	s.handleConnection(conn, r.RemoteAddr)
}

// handleConnection runs one device session to completion
func (s *Server) handleConnection(conn *websocket.Conn, remote string) {
	defer conn.Close()

	s.mu.RLock()
	closing := s.shutdown
	s.mu.RUnlock()
	if closing {
		s.logger.Printf("Rejecting connection during shutdown")
		return
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		s.logger.Printf("Error reading hello: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		s.logger.Printf("Error parsing hello: %v", err)
		return
	}
	if env.Type != protocol.TypeDeviceHello {
		s.logger.Printf("Expected %s, got %s", protocol.TypeDeviceHello, env.Type)
		return
	}
	var hello protocol.DeviceHello
	if err := env.Into(&hello); err != nil {
		s.logger.Printf("%v", err)
		return
	}
	if hello.DeviceID == "" {
		s.logger.Printf("Device hello missing device_id")
		return
	}
	if hello.Name == "" {
		hello.Name = hello.DeviceID
	}

	format := negotiateFormat(hello.SupportedFormats, s.sampleRate(), s.channels())
	d, err := newDeviceConn(s, conn, hello, format, remote)
	if err != nil {
		s.logger.Printf("Cannot serve %s: %v", hello.Name, err)
		return
	}

	s.mu.Lock()
	if _, exists := s.devices[hello.DeviceID]; exists {
		s.mu.Unlock()
		s.logger.Printf("Device ID %s already connected, rejecting duplicate", hello.DeviceID)
		return
	}
	s.devices[hello.DeviceID] = d
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.devices, hello.DeviceID)
		s.mu.Unlock()
		d.close()
		s.logger.Printf("Device disconnected: %s", hello.Name)
	}()

	if err := d.writeHello(protocol.ServerHello{
		ServerID:   s.serverID,
		Name:       s.config.Name,
		Version:    protocol.ProtocolVersion,
		Codec:      format.Codec,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		BitDepth:   format.BitDepth,
	}); err != nil {
		s.logger.Printf("Error sending server hello: %v", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		d.writer()
	}()

	// Registration measures the device, which needs the read loop below
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ConnectTimeout)
	registered := make(chan bool, 1)
	go func() {
		defer cancel()
		err := s.coord.ConnectDevice(ctx, resonate.DeviceSpec{
			ID:            hello.DeviceID,
			Name:          hello.Name,
			FixedOffsetMs: hello.FixedOffsetMs,
			Probe:         d.Probe,
			Sink:          d,
		})
		if err != nil {
			s.logger.Printf("Failed to register %s: %v", hello.Name, err)
			d.close()
		}
		registered <- err == nil
	}()

	d.readLoop()

	cancel()
	if <-registered {
		if err := s.coord.DisconnectDevice(hello.DeviceID); err != nil && !errors.Is(err, resonate.ErrDeviceNotFound) {
			s.logger.Printf("Failed to unregister %s: %v", hello.Name, err)
		}
	}
}

func (s *Server) sampleRate() int {
	return s.coord.Config().SampleRate
}

func (s *Server) channels() int {
	return s.coord.Config().Channels
}
