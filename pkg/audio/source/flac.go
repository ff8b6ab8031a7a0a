// ABOUTME: FLAC file source
// ABOUTME: Decodes FLAC frames through mewkiz/flac at any bit depth
package source

import (
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
)

// FLAC reads from a FLAC file
type FLAC struct {
	file       *os.File
	stream     *flac.Stream
	sampleRate int
	channels   int
	scale      float32
	title      string
	pending    []float32 // decoded but not yet returned
}

// NewFLAC opens a FLAC file
func NewFLAC(path string) (*FLAC, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	return &FLAC{
		file:       f,
		stream:     stream,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		scale:      float32(int64(1) << (info.BitsPerSample - 1)),
		title:      titleFromPath(path),
	}, nil
}

func (s *FLAC) Read(samples []float32) (int, error) {
	n := 0
	for n < len(samples) {
		if len(s.pending) == 0 {
			frame, err := s.stream.ParseNext()
			if err != nil {
				if err == io.EOF && n > 0 {
					return n, nil
				}
				return n, err
			}
			block := int(frame.BlockSize)
			s.pending = make([]float32, 0, block*s.channels)
			for i := 0; i < block; i++ {
				for ch := 0; ch < s.channels; ch++ {
					s.pending = append(s.pending, float32(frame.Subframes[ch].Samples[i])/s.scale)
				}
			}
		}

		copied := copy(samples[n:], s.pending)
		s.pending = s.pending[copied:]
		n += copied
	}
	return n, nil
}

func (s *FLAC) SampleRate() int { return s.sampleRate }
func (s *FLAC) Channels() int   { return s.channels }
func (s *FLAC) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}
func (s *FLAC) Close() error { return s.file.Close() }
