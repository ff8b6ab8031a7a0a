// ABOUTME: Integration tests for the WebSocket transport
// ABOUTME: Connects protocol clients to a live coordinator over httptest
package server

import (
	"context"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/pkg/latency"
	"github.com/Resonate-Protocol/resonate-sync/pkg/playback"
	"github.com/Resonate-Protocol/resonate-sync/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-sync/pkg/resonate"
)

type discard struct{}

func (discard) Printf(string, ...any) {}

type harness struct {
	coord *resonate.Coordinator
	srv   *Server
	addr  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}

	h.coord = resonate.New(resonate.Config{
		SampleRate: 1000,
		Channels:   1,
		Latency: latency.Config{
			SampleSize:   2,
			ProbeSpacing: time.Millisecond,
			Interval:     time.Hour,
		},
		OnEvent: func(ev resonate.Event) {
			if h.srv != nil {
				h.srv.HandleEvent(ev)
			}
		},
	})
	if err := h.coord.Start(); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(ServerConfig{Coordinator: h.coord, Name: "Test", Logger: discard{}})
	if err != nil {
		t.Fatal(err)
	}
	h.srv = srv

	ts := httptest.NewServer(srv.Handler())
	h.addr = strings.TrimPrefix(ts.URL, "http://")

	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
		h.coord.Stop()
	})
	return h
}

func (h *harness) client(id string) *protocol.Client {
	return protocol.NewClient(protocol.Config{
		ServerAddr:  h.addr,
		DeviceID:    id,
		Name:        "Device " + id,
		AnswerProbe: func(protocol.ServerProbe) float64 { return h.coord.Clock().CurrentTime() },
		Logger:      discard{},
	})
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewServerRequiresCoordinator(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Fatal("expected error without coordinator")
	}
}

func TestDeviceRegistersAndLeaves(t *testing.T) {
	h := newHarness(t)

	c := h.client("dev-1")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, "registration", func() bool { return len(h.coord.Devices()) == 1 })
	waitUntil(t, "initial measurement", func() bool { return c.Probes() >= 2 })

	infos := h.srv.Devices()
	if len(infos) != 1 || infos[0].ID != "dev-1" || infos[0].Codec != "pcm" {
		t.Errorf("unexpected sessions %+v", infos)
	}
	if f := c.ServerHello().Format(); f.SampleRate != 1000 || f.Channels != 1 || f.BitDepth != 16 {
		t.Errorf("expected PCM16 at coordinator format, got %+v", f)
	}

	c.SendGoodbye("user_request")
	c.Close()
	waitUntil(t, "unregistration", func() bool { return len(h.coord.Devices()) == 0 })
	waitUntil(t, "session cleanup", func() bool { return len(h.srv.Devices()) == 0 })
}

func TestDuplicateDeviceRejected(t *testing.T) {
	h := newHarness(t)

	first := h.client("dup")
	if err := first.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	second := h.client("dup")
	if err := second.Connect(context.Background()); err == nil {
		second.Close()
		t.Fatal("expected second session with the same id to be rejected")
	}
}

func TestPlaybackReachesDevice(t *testing.T) {
	h := newHarness(t)

	c := h.client("dev-1")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	waitUntil(t, "registration", func() bool { return len(h.coord.Devices()) == 1 })

	samples := make([]float32, 200)
	for i := range samples {
		samples[i] = 0.5
	}
	plan, err := h.srv.Play(context.Background(), playback.Payload{Samples: samples, SampleRate: 1000, Channels: 1, Title: "Half"})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case start := <-c.StreamStart:
		if start.PlanID != plan.ID || start.Title != "Half" {
			t.Errorf("unexpected stream start %+v", start)
		}
		want, err := h.coord.DeviceTime(plan.Devices[0].DeviceID, plan.Devices[0].TargetStartMs)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(start.TargetStartMs-want) > 1 {
			t.Errorf("expected device time target %.3f, got %.3f", want, start.TargetStartMs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no stream start")
	}

	received := 0
	lastTarget := -1.0
	deadline := time.After(5 * time.Second)
	for received < len(samples) {
		select {
		case chunk := <-c.AudioChunks:
			if chunk.Kind != protocol.AudioChunkPCM {
				t.Fatalf("expected PCM chunk, got %d", chunk.Kind)
			}
			if chunk.TargetMs <= lastTarget {
				t.Errorf("chunk targets not increasing: %.3f after %.3f", chunk.TargetMs, lastTarget)
			}
			lastTarget = chunk.TargetMs
			received += len(chunk.Data) / 2
		case <-deadline:
			t.Fatalf("received %d of %d samples", received, len(samples))
		}
	}

	select {
	case end := <-c.StreamEnd:
		if end.PlanID != plan.ID || end.Reason != "completed" {
			t.Errorf("unexpected stream end %+v", end)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no stream end")
	}
}

func TestNegotiateFormat(t *testing.T) {
	tests := []struct {
		name    string
		formats []protocol.AudioFormat
		want    protocol.AudioFormat
	}{
		{
			name: "device prefers opus",
			formats: []protocol.AudioFormat{
				{Codec: "opus", SampleRate: 48000, Channels: 2, BitDepth: 16},
				{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16},
			},
			want: protocol.AudioFormat{Codec: "opus", SampleRate: 48000, Channels: 2, BitDepth: 16},
		},
		{
			name: "device prefers 24-bit pcm",
			formats: []protocol.AudioFormat{
				{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24},
				{Codec: "opus", SampleRate: 48000, Channels: 2, BitDepth: 16},
			},
			want: protocol.AudioFormat{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24},
		},
		{
			name:    "rate mismatch falls back",
			formats: []protocol.AudioFormat{{Codec: "opus", SampleRate: 44100, Channels: 2, BitDepth: 16}},
			want:    protocol.AudioFormat{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16},
		},
		{
			name:    "unknown codec falls back",
			formats: []protocol.AudioFormat{{Codec: "flac", SampleRate: 48000, Channels: 2, BitDepth: 24}},
			want:    protocol.AudioFormat{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := negotiateFormat(tt.formats, 48000, 2); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}
