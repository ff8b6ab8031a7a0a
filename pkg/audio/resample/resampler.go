// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Streams interleaved float samples from one rate to another
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64   // fractional input frame, relative to lastFrame
	lastFrame  []float32 // final frame of the previous call
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastFrame:  make([]float32, channels),
	}
}

// Resample converts interleaved input at inputRate to interleaved output at
// outputRate. Output for the tail of input is produced on the next call.
func (r *Resampler) Resample(input []float32) []float32 {
	if r.inputRate == r.outputRate {
		out := make([]float32, len(input))
		copy(out, input)
		return out
	}

	inFrames := len(input) / r.channels
	if inFrames == 0 {
		return nil
	}

	// frame i of the virtual stream: -1 is lastFrame, 0.. is input
	frame := func(i, ch int) float32 {
		if i < 0 {
			return r.lastFrame[ch]
		}
		return input[i*r.channels+ch]
	}

	start := -1
	if !r.primed {
		start = 0
		r.primed = true
	}

	out := make([]float32, 0, r.OutputSamplesNeeded(len(input))+r.channels)
	for {
		idx := start + int(r.position)
		if idx+1 >= inFrames {
			break
		}
		frac := float32(r.position - float64(int(r.position)))
		for ch := 0; ch < r.channels; ch++ {
			a, b := frame(idx, ch), frame(idx+1, ch)
			out = append(out, a+(b-a)*frac)
		}
		r.position += r.ratio
	}

	// Rebase position so the last input frame becomes frame -1
	r.position -= float64(inFrames - 1 - start)
	copy(r.lastFrame, input[(inFrames-1)*r.channels:])

	return out
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// OutputSamplesNeeded estimates how many output samples input samples produce
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}

// All resamples a complete interleaved signal in one pass
func All(input []float32, inputRate, outputRate, channels int) []float32 {
	return New(inputRate, outputRate, channels).Resample(input)
}
