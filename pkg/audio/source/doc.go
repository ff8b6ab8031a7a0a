// ABOUTME: Audio sources for the coordinator
// ABOUTME: Test tone, MP3 and FLAC readers plus whole-payload loading
// Package source reads audio into interleaved float32 samples.
//
// Open picks a reader by file extension; an empty path yields a test tone.
// Load drains a source into a playback.Payload at the coordinator's sample
// rate and channel count.
package source
