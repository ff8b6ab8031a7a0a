// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for all audio decoders plus a codec switch
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-sync/pkg/audio"
)

// Decoder decodes chunk payloads to float32 samples
type Decoder interface {
	// Decode converts encoded audio data to interleaved samples
	Decode(data []byte) ([]float32, error)

	// Close releases decoder resources
	Close() error
}

// New picks a decoder for format.Codec
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %q", format.Codec)
	}
}
