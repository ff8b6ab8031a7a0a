// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output interface with oto and discarding implementations
// Package output provides audio playback backends.
//
// Oto plays through the system sound card. Null drops audio and is used by
// headless devices and tests.
//
// Example:
//
//	out := output.NewOto(nil)
//	err := out.Open(48000, 2)
//	err = out.Write(samples)
package output
