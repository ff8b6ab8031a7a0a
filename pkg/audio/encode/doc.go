// ABOUTME: Audio encoder package for encoding float samples to wire formats
// ABOUTME: Provides Encoder interface and implementations for PCM, Opus
// Package encode provides audio encoders for the chunk payloads sent to devices.
//
// Supports: PCM (16-bit and 24-bit little-endian), Opus
//
// All encoders accept interleaved float32 samples in [-1, 1].
//
// Example:
//
//	encoder, err := encode.New(format)
//	data, err := encoder.Encode(samples)
package encode
