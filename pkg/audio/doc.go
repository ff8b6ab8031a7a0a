// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Buffer types and sample conversion functions
// Package audio provides the audio types shared by sources, codecs and outputs.
//
// Samples are interleaved float32 in [-1, 1] everywhere inside the module.
// Conversions to and from 16-bit and 24-bit integer PCM happen only at the
// edges: wire codecs and output backends.
//
// Example:
//
//	format := audio.Format{
//	    Codec:      audio.CodecPCM,
//	    SampleRate: 48000,
//	    Channels:   2,
//	    BitDepth:   16,
//	}
//	pcm := audio.FloatToInt16(0.5)
package audio
