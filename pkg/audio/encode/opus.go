// ABOUTME: Opus audio encoder
// ABOUTME: Encodes float samples to Opus packets
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-sync/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket is the recommended upper bound for one Opus packet
const maxOpusPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder  *opus.Encoder
	channels int
	rate     int
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	return &OpusEncoder{
		encoder:  encoder,
		channels: format.Channels,
		rate:     format.SampleRate,
	}, nil
}

// Encode converts one frame of samples (2.5 to 60ms) to an Opus packet
func (e *OpusEncoder) Encode(samples []float32) ([]byte, error) {
	frames := len(samples) / e.channels
	if !validOpusFrame(frames, e.rate) {
		return nil, fmt.Errorf("opus cannot encode %d frames at %dHz", frames, e.rate)
	}

	data := make([]byte, maxOpusPacket)
	n, err := e.encoder.EncodeFloat32(samples, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	return data[:n], nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}

// validOpusFrame reports whether frames is one of the Opus frame durations
func validOpusFrame(frames, rate int) bool {
	// 2.5, 5, 10, 20, 40 and 60 ms in units of 0.5ms
	for _, halfMs := range []int{5, 10, 20, 40, 80, 120} {
		if frames*2000 == halfMs*rate {
			return true
		}
	}
	return false
}
