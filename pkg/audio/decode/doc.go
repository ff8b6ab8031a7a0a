// ABOUTME: Audio decoder package for chunk payloads
// ABOUTME: Provides Decoder interface and implementations for PCM, Opus
// Package decode turns chunk payloads received from the coordinator back
// into interleaved float32 samples.
//
// Supports: PCM (16-bit and 24-bit), Opus. Whole-file formats are read by
// package source instead.
//
// Example:
//
//	decoder, err := decode.New(format)
//	samples, err := decoder.Decode(audioData)
package decode
