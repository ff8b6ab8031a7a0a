// ABOUTME: Resonate sync wire message definitions
// ABOUTME: JSON envelope, handshake, probe and stream messages plus binary chunk framing
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Path is the WebSocket endpoint served by the coordinator
const Path = "/resonate-sync"

// ProtocolVersion is bumped on incompatible wire changes
const ProtocolVersion = 1

// Message types
const (
	TypeDeviceHello   = "device/hello"
	TypeServerHello   = "server/hello"
	TypeServerProbe   = "server/probe"
	TypeProbeAck      = "device/probe_ack"
	TypeStreamStart   = "stream/start"
	TypeStreamEnd     = "stream/end"
	TypeDeviceGoodbye = "device/goodbye"
)

// Binary message layout: [type][target time µs, int64 big endian][payload]
const (
	BinaryMessageHeaderSize = 1 + 8

	AudioChunkPCM  byte = 4
	AudioChunkOpus byte = 5
)

// ErrShortMessage is returned for binary messages without a full header
var ErrShortMessage = errors.New("binary message too short")

// Message is the top-level wrapper for outgoing JSON messages
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Envelope is a received JSON message with its payload left undecoded
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Into decodes the payload into v
func (e Envelope) Into(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", e.Type, err)
	}
	return nil
}

// ParseEnvelope decodes the outer JSON wrapper
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to parse message: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("message without type")
	}
	return env, nil
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// AudioFormat describes a supported audio format
type AudioFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
}

// DeviceHello opens a device session
type DeviceHello struct {
	DeviceID         string        `json:"device_id"`
	Name             string        `json:"name"`
	Version          int           `json:"version"`
	FixedOffsetMs    float64       `json:"fixed_offset_ms"`
	SupportedFormats []AudioFormat `json:"supported_formats"`
	DeviceInfo       *DeviceInfo   `json:"device_info,omitempty"`
}

// ServerHello answers device/hello with the stream format chosen for the device
type ServerHello struct {
	ServerID   string `json:"server_id"`
	Name       string `json:"name"`
	Version    int    `json:"version"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// Format returns the negotiated stream format
func (h ServerHello) Format() AudioFormat {
	return AudioFormat{Codec: h.Codec, Channels: h.Channels, SampleRate: h.SampleRate, BitDepth: h.BitDepth}
}

// ServerProbe asks the device to report its clock
type ServerProbe struct {
	ProbeID    string  `json:"probe_id"`
	MasterTime float64 `json:"master_time"` // ms on the master timeline at send
}

// ProbeAck reports the device clock when the probe arrived
type ProbeAck struct {
	ProbeID    string  `json:"probe_id"`
	DeviceTime float64 `json:"device_time"`
}

// StreamStart announces a plan to a device
type StreamStart struct {
	PlanID        string  `json:"plan_id"`
	Title         string  `json:"title"`
	TargetStartMs float64 `json:"target_start_ms"` // device clock
	DurationMs    float64 `json:"duration_ms"`
}

// StreamEnd closes a plan on a device
type StreamEnd struct {
	PlanID string `json:"plan_id"`
	Reason string `json:"reason,omitempty"` // "completed", "stopped"
}

// DeviceGoodbye is sent before graceful disconnect
type DeviceGoodbye struct {
	Reason string `json:"reason"` // "shutdown", "restart", "user_request"
}

// AudioChunk is a decoded binary audio message
type AudioChunk struct {
	Kind     byte
	TargetMs float64 // device clock time of the first frame
	Data     []byte
}

// EncodeAudioChunk frames payload for the wire
func EncodeAudioChunk(kind byte, targetMs float64, payload []byte) []byte {
	out := make([]byte, BinaryMessageHeaderSize+len(payload))
	out[0] = kind
	binary.BigEndian.PutUint64(out[1:], uint64(int64(math.Round(targetMs*1000))))
	copy(out[BinaryMessageHeaderSize:], payload)
	return out
}

// DecodeAudioChunk parses a binary audio message. Data aliases the input.
func DecodeAudioChunk(data []byte) (AudioChunk, error) {
	if len(data) < BinaryMessageHeaderSize {
		return AudioChunk{}, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(data))
	}

	kind := data[0]
	if kind != AudioChunkPCM && kind != AudioChunkOpus {
		return AudioChunk{}, fmt.Errorf("unknown binary message type: %d", kind)
	}

	us := int64(binary.BigEndian.Uint64(data[1:BinaryMessageHeaderSize]))
	return AudioChunk{
		Kind:     kind,
		TargetMs: float64(us) / 1000,
		Data:     data[BinaryMessageHeaderSize:],
	}, nil
}

// ChunkKind maps a codec name to its binary message type
func ChunkKind(codec string) byte {
	if codec == "opus" {
		return AudioChunkOpus
	}
	return AudioChunkPCM
}
