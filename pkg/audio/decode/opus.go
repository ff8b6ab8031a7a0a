// ABOUTME: Opus audio decoder
// ABOUTME: Decodes Opus packets to float samples
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-sync/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is 120ms at 48kHz, the longest frame a packet can carry
const maxOpusFrame = 5760

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder  *opus.Decoder
	channels int
}

// NewOpus creates a new Opus decoder
func NewOpus(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{decoder: dec, channels: format.Channels}, nil
}

// Decode converts one Opus packet to float samples
func (d *OpusDecoder) Decode(data []byte) ([]float32, error) {
	pcm := make([]float32, maxOpusFrame*d.channels)
	n, err := d.decoder.DecodeFloat32(data, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	return pcm[:n*d.channels], nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
