// ABOUTME: One device session on the coordinator side
// ABOUTME: Implements the coordinator's probe function and audio sink over WebSocket
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/pkg/audio"
	"github.com/Resonate-Protocol/resonate-sync/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-sync/pkg/latency"
	"github.com/Resonate-Protocol/resonate-sync/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrSessionClosed is returned for probes and sends on a finished session
	ErrSessionClosed = errors.New("device session closed")
	// ErrQueueFull is returned when the device cannot keep up
	ErrQueueFull = errors.New("device send queue full")
)

const writeDeadline = 10 * time.Second

type outbound struct {
	binary []byte
	msg    *protocol.Message
}

type deviceConn struct {
	server      *Server
	id          string
	name        string
	remote      string
	conn        *websocket.Conn
	format      protocol.AudioFormat
	encoder     encode.Encoder
	fallback    encode.Encoder // PCM16 for chunks Opus cannot frame
	connectedAt time.Time

	sendChan  chan outbound
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan protocol.ProbeAck
	dropped uint64
}

func newDeviceConn(s *Server, conn *websocket.Conn, hello protocol.DeviceHello, format protocol.AudioFormat, remote string) (*deviceConn, error) {
	af := audio.Format{Codec: format.Codec, SampleRate: format.SampleRate, Channels: format.Channels, BitDepth: format.BitDepth}
	enc, err := encode.New(af)
	if err != nil && format.Codec == audio.CodecOpus {
		s.logger.Printf("Failed to create Opus encoder for %s, falling back to PCM: %v", hello.Name, err)
		format = protocol.AudioFormat{Codec: audio.CodecPCM, SampleRate: format.SampleRate, Channels: format.Channels, BitDepth: 16}
		af = audio.Format{Codec: audio.CodecPCM, SampleRate: format.SampleRate, Channels: format.Channels, BitDepth: 16}
		enc, err = encode.New(af)
	}
	if err != nil {
		return nil, err
	}

	fallback, err := encode.NewPCM(audio.Format{Codec: audio.CodecPCM, SampleRate: format.SampleRate, Channels: format.Channels, BitDepth: 16})
	if err != nil {
		return nil, err
	}

	return &deviceConn{
		server:      s,
		id:          hello.DeviceID,
		name:        hello.Name,
		remote:      remote,
		conn:        conn,
		format:      format,
		encoder:     enc,
		fallback:    fallback,
		connectedAt: time.Now(),
		sendChan:    make(chan outbound, s.config.SendQueue),
		done:        make(chan struct{}),
		pending:     make(map[string]chan protocol.ProbeAck),
	}, nil
}

// Probe sends server/probe and waits for the matching acknowledgement
func (d *deviceConn) Probe(ctx context.Context, deviceID string) (latency.ProbeResponse, error) {
	probeID := uuid.NewString()
	ch := make(chan protocol.ProbeAck, 1)

	d.mu.Lock()
	d.pending[probeID] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, probeID)
		d.mu.Unlock()
	}()

	probe := protocol.ServerProbe{ProbeID: probeID, MasterTime: d.server.coord.Clock().CurrentTime()}
	if err := d.sendJSON(protocol.TypeServerProbe, probe); err != nil {
		return latency.ProbeResponse{}, fmt.Errorf("probe %s: %w", deviceID, err)
	}

	select {
	case ack := <-ch:
		return latency.ProbeResponse{DeviceTimeMs: ack.DeviceTime}, nil
	case <-ctx.Done():
		return latency.ProbeResponse{}, ctx.Err()
	case <-d.done:
		return latency.ProbeResponse{}, ErrSessionClosed
	}
}

// Send encodes one chunk and queues it; it never blocks
func (d *deviceConn) Send(samples []float32, targetTimeMs float64) error {
	kind := protocol.ChunkKind(d.format.Codec)
	data, err := d.encoder.Encode(samples)
	if err != nil && kind == protocol.AudioChunkOpus {
		kind = protocol.AudioChunkPCM
		data, err = d.fallback.Encode(samples)
	}
	if err != nil {
		return fmt.Errorf("encode for %s: %w", d.name, err)
	}

	return d.enqueue(outbound{binary: protocol.EncodeAudioChunk(kind, targetTimeMs, data)})
}

func (d *deviceConn) sendJSON(msgType string, payload any) error {
	return d.enqueue(outbound{msg: &protocol.Message{Type: msgType, Payload: payload}})
}

func (d *deviceConn) enqueue(m outbound) error {
	select {
	case <-d.done:
		return ErrSessionClosed
	default:
	}

	select {
	case d.sendChan <- m:
		return nil
	case <-d.done:
		return ErrSessionClosed
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		return ErrQueueFull
	}
}

// writeHello writes server/hello before the writer goroutine owns the socket
func (d *deviceConn) writeHello(hello protocol.ServerHello) error {
	d.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return d.conn.WriteJSON(protocol.Message{Type: protocol.TypeServerHello, Payload: hello})
}

// writer is the only goroutine writing to the socket after the handshake
func (d *deviceConn) writer() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case m := <-d.sendChan:
			d.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			var err error
			if m.msg != nil {
				err = d.conn.WriteJSON(m.msg)
			} else {
				err = d.conn.WriteMessage(websocket.BinaryMessage, m.binary)
			}
			if err != nil {
				d.server.logger.Printf("Write to %s failed: %v", d.name, err)
				d.close()
				return
			}

		case <-ticker.C:
			if err := d.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				d.close()
				return
			}

		case <-d.done:
			return
		}
	}
}

// readLoop handles device messages until the session ends
func (d *deviceConn) readLoop() {
	for {
		messageType, data, err := d.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				select {
				case <-d.done:
				default:
					d.server.logger.Printf("WebSocket error from %s: %v", d.name, err)
				}
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			d.server.logger.Printf("Bad message from %s: %v", d.name, err)
			continue
		}

		switch env.Type {
		case protocol.TypeProbeAck:
			var ack protocol.ProbeAck
			if err := env.Into(&ack); err != nil {
				d.server.logger.Printf("%v", err)
				continue
			}
			d.deliver(ack)

		case protocol.TypeDeviceGoodbye:
			var bye protocol.DeviceGoodbye
			env.Into(&bye)
			d.server.logger.Printf("Device %s goodbye: %s", d.name, bye.Reason)
			return

		default:
			d.server.logger.Printf("Unknown message type from %s: %s", d.name, env.Type)
		}
	}
}

// deliver hands an ack to its waiting probe; late acks are dropped
func (d *deviceConn) deliver(ack protocol.ProbeAck) {
	d.mu.Lock()
	ch, ok := d.pending[ack.ProbeID]
	d.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

func (d *deviceConn) close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.conn.Close()
		d.encoder.Close()
	})
}

func (d *deviceConn) info() DeviceInfo {
	d.mu.Lock()
	dropped := d.dropped
	d.mu.Unlock()

	return DeviceInfo{
		ID:          d.id,
		Name:        d.name,
		Remote:      d.remote,
		Codec:       d.format.Codec,
		ConnectedAt: d.connectedAt,
		Queued:      len(d.sendChan),
		Dropped:     dropped,
	}
}

// negotiateFormat picks the first format in the device's preference order
// that matches the coordinator's rate and channels. PCM16 otherwise.
func negotiateFormat(formats []protocol.AudioFormat, sampleRate, channels int) protocol.AudioFormat {
	for _, f := range formats {
		if f.SampleRate != sampleRate || f.Channels != channels {
			continue
		}
		switch {
		case f.Codec == audio.CodecOpus && opusRate(sampleRate):
			return protocol.AudioFormat{Codec: audio.CodecOpus, SampleRate: sampleRate, Channels: channels, BitDepth: 16}
		case f.Codec == audio.CodecPCM && (f.BitDepth == 16 || f.BitDepth == 24):
			return f
		}
	}
	return protocol.AudioFormat{Codec: audio.CodecPCM, SampleRate: sampleRate, Channels: channels, BitDepth: 16}
}

func opusRate(rate int) bool {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}
