// ABOUTME: Audio type definitions
// ABOUTME: Defines wire formats, decoded buffers and float sample conversions
package audio

import "time"

const (
	CodecPCM  = "pcm"
	CodecOpus = "opus"

	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Format describes an audio stream format on the wire
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// FrameSamples returns interleaved samples in d of audio
func (f Format) FrameSamples(d time.Duration) int {
	return int(d.Seconds()*float64(f.SampleRate)) * f.Channels
}

// Buffer is decoded audio scheduled against master time
type Buffer struct {
	TargetMs float64   // master time of the first frame
	PlayAt   time.Time // local wall time of the first frame
	Samples  []float32 // interleaved, [-1, 1]
	Format   Format
}

// DurationMs returns the playing time of the buffer
func (b Buffer) DurationMs() float64 {
	if b.Format.SampleRate == 0 || b.Format.Channels == 0 {
		return 0
	}
	frames := len(b.Samples) / b.Format.Channels
	return float64(frames) * 1000 / float64(b.Format.SampleRate)
}

// Clamp limits a sample to [-1, 1]
func Clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// FloatToInt16 converts a float sample to 16-bit PCM with clipping
func FloatToInt16(s float32) int16 {
	return int16(Clamp(s) * 32767)
}

// Int16ToFloat converts a 16-bit PCM sample to float
func Int16ToFloat(s int16) float32 {
	return float32(s) / 32768
}

// FloatToInt24 converts a float sample to the 24-bit range
func FloatToInt24(s float32) int32 {
	return int32(Clamp(s) * Max24Bit)
}

// Int24ToFloat converts a 24-bit range sample to float
func Int24ToFloat(s int32) float32 {
	return float32(s) / (Max24Bit + 1)
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
