// ABOUTME: Ring buffer package
// ABOUTME: Circular per-device sample storage used by the coordinator
// Package buffer provides the per-device circular sample store.
//
// Samples are written ahead of time with the master timestamp they belong
// to, and read back when their target time falls inside the lookahead
// window. Drift corrections expressed in frames shift the read position
// gradually so corrections never produce an audible jump.
package buffer
