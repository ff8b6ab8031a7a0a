// ABOUTME: AudioSource interface and file opener
// ABOUTME: Selects the MP3, FLAC or WAV reader from the file extension
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupportedFormat is returned for files no reader understands
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// AudioSource provides interleaved float samples
type AudioSource interface {
	// Read fills samples and returns how many were written; io.EOF at the end
	Read(samples []float32) (int, error)
	// SampleRate returns the sample rate of the audio
	SampleRate() int
	// Channels returns the number of channels
	Channels() int
	// Metadata returns title, artist, album
	Metadata() (title, artist, album string)
	// Close closes the audio source
	Close() error
}

// Open creates a source for path. An empty path gives a test tone of toneLength.
func Open(path string, toneLength time.Duration) (AudioSource, error) {
	if path == "" {
		return NewTestTone(48000, 2, toneLength), nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return NewMP3(path)
	case ".flac":
		return NewFLAC(path)
	case ".wav":
		return NewWAV(path)
	default:
		return nil, fmt.Errorf("%w: %s (supported: .mp3, .flac, .wav)", ErrUnsupportedFormat, ext)
	}
}

func titleFromPath(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
