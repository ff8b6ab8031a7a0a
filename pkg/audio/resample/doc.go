// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts audio between different sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation for converting between sample rates and keeps
// the last input frame between calls so streamed chunks join without clicks.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out := r.Resample(inputSamples)
package resample
