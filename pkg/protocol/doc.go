// ABOUTME: Resonate sync wire protocol package
// ABOUTME: Defines protocol messages and the device-side WebSocket client
// Package protocol implements the wire protocol between a coordinator and
// its output devices.
//
// Control messages are JSON objects of the form {"type": ..., "payload": ...}.
// A session opens with device/hello and server/hello. The coordinator then
// sends server/probe messages, which the device answers immediately with
// device/probe_ack carrying its own clock reading. Audio travels as binary
// messages stamped with the master time at which the first frame must play.
//
// Example:
//
//	client := protocol.NewClient(protocol.Config{
//	    ServerAddr: "localhost:8927",
//	    DeviceID:   id,
//	    Name:       "Kitchen",
//	})
//	err := client.Connect(ctx)
//	for chunk := range client.AudioChunks {
//	    ...
//	}
package protocol
