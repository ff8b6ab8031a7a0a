// ABOUTME: Drains an AudioSource into a playback payload
// ABOUTME: Remixes channels and resamples to the coordinator format
package source

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/pkg/audio/resample"
	"github.com/Resonate-Protocol/resonate-sync/pkg/playback"
)

// ErrEmptySource is returned when a source produced no audio
var ErrEmptySource = errors.New("source produced no audio")

// Load reads src to the end, or to maxLength when positive, and converts the
// result to sampleRate and channels. The source is not closed.
func Load(src AudioSource, sampleRate, channels int, maxLength time.Duration) (playback.Payload, error) {
	inRate, inCh := src.SampleRate(), src.Channels()
	if inRate <= 0 || inCh <= 0 {
		return playback.Payload{}, fmt.Errorf("source reports invalid format %dHz %dch", inRate, inCh)
	}

	limit := -1
	if maxLength > 0 {
		limit = int(maxLength.Seconds()*float64(inRate)) * inCh
	}

	var raw []float32
	chunk := make([]float32, inRate/10*inCh)
	for limit < 0 || len(raw) < limit {
		n, err := src.Read(chunk)
		raw = append(raw, chunk[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return playback.Payload{}, fmt.Errorf("reading source: %w", err)
		}
		if n == 0 {
			break
		}
	}
	if limit >= 0 && len(raw) > limit {
		raw = raw[:limit]
	}
	raw = raw[:len(raw)/inCh*inCh]
	if len(raw) == 0 {
		return playback.Payload{}, ErrEmptySource
	}

	samples := Remix(raw, inCh, channels)
	samples = resample.All(samples, inRate, sampleRate, channels)

	title, _, _ := src.Metadata()
	return playback.Payload{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		Title:      title,
	}, nil
}

// Remix converts interleaved audio between channel counts. Downmixing
// averages; upmixing repeats the last source channel.
func Remix(in []float32, from, to int) []float32 {
	if from == to {
		return in
	}

	frames := len(in) / from
	out := make([]float32, frames*to)
	for f := 0; f < frames; f++ {
		src := in[f*from : (f+1)*from]
		dst := out[f*to : (f+1)*to]
		if to < from && to == 1 {
			var sum float32
			for _, s := range src {
				sum += s
			}
			dst[0] = sum / float32(from)
			continue
		}
		for ch := range dst {
			dst[ch] = src[min(ch, from-1)]
		}
	}
	return out
}
