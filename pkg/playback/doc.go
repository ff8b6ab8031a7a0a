// ABOUTME: Playback planning package
// ABOUTME: Per-device start offsets, checkpoints and state machines
// Package playback plans synchronized playback of one payload.
//
// Each device gets a target start time of the plan's master start plus its
// measured latency and fixed offset. Advance is driven from the master
// clock and walks every device from Pending to Started to Completed, running
// a drift check at each checkpoint while the device is playing.
package playback
