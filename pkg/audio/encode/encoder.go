// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for all audio encoders plus a codec switch
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-sync/pkg/audio"
)

// Encoder encodes float32 samples to a wire format
type Encoder interface {
	// Encode converts interleaved samples to encoded audio data
	Encode(samples []float32) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// New picks an encoder for format.Codec
func New(format audio.Format) (Encoder, error) {
	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %q", format.Codec)
	}
}
