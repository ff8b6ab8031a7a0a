// ABOUTME: WAV file source
// ABOUTME: Reads integer PCM through go-audio/wav and scales it to float
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned for files without a usable RIFF/WAVE header
var ErrInvalidWAV = errors.New("invalid WAV file")

// WAV reads from a PCM WAV file
type WAV struct {
	file       *os.File
	decoder    *wav.Decoder
	buf        *audio.IntBuffer
	sampleRate int
	channels   int
	scale      float32
	title      string
}

// NewWAV opens a WAV file
func NewWAV(path string) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		f.Close()
		return nil, ErrInvalidWAV
	}
	if err := d.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to find PCM data: %w", err)
	}

	channels := int(d.NumChans)
	depth := int(d.BitDepth)
	if channels <= 0 || depth <= 0 || depth > 32 {
		f.Close()
		return nil, fmt.Errorf("%w: %d channels at %d bits", ErrInvalidWAV, channels, depth)
	}

	return &WAV{
		file:       f,
		decoder:    d,
		buf:        &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: int(d.SampleRate)}},
		sampleRate: int(d.SampleRate),
		channels:   channels,
		scale:      float32(int64(1) << (depth - 1)),
		title:      titleFromPath(path),
	}, nil
}

func (s *WAV) Read(samples []float32) (int, error) {
	if cap(s.buf.Data) < len(samples) {
		s.buf.Data = make([]int, len(samples))
	}
	s.buf.Data = s.buf.Data[:len(samples)]

	n, err := s.decoder.PCMBuffer(s.buf)
	for i := 0; i < n; i++ {
		samples[i] = float32(s.buf.Data[i]) / s.scale
	}
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("failed to read WAV data: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *WAV) SampleRate() int { return s.sampleRate }
func (s *WAV) Channels() int   { return s.channels }
func (s *WAV) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}
func (s *WAV) Close() error { return s.file.Close() }
