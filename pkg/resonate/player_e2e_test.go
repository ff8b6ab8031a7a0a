// ABOUTME: End-to-end test of Player against a live coordinator
// ABOUTME: Streams a short payload over WebSocket and checks it is played on time
package resonate_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/internal/server"
	"github.com/Resonate-Protocol/resonate-sync/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-sync/pkg/latency"
	"github.com/Resonate-Protocol/resonate-sync/pkg/playback"
	"github.com/Resonate-Protocol/resonate-sync/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-sync/pkg/resonate"
)

type quiet struct{}

func (quiet) Printf(string, ...any) {}

func TestPlayerPlaysCoordinatorStream(t *testing.T) {
	var srv *server.Server
	coord := resonate.New(resonate.Config{
		SampleRate: 1000,
		Channels:   1,
		Latency:    latency.Config{SampleSize: 2, ProbeSpacing: time.Millisecond, Interval: time.Hour},
		OnEvent: func(ev resonate.Event) {
			if srv != nil {
				srv.HandleEvent(ev)
			}
		},
	})
	if err := coord.Start(); err != nil {
		t.Fatal(err)
	}
	defer coord.Stop()

	srv, err := server.NewServer(server.ServerConfig{Coordinator: coord, Logger: quiet{}})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Stop()

	var (
		mu      sync.Mutex
		streams []resonate.StreamInfo
	)
	out := output.NewNull(nil)
	p, err := resonate.NewPlayer(resonate.PlayerConfig{
		ServerAddr: strings.TrimPrefix(ts.URL, "http://"),
		DeviceID:   "e2e",
		Formats:    []protocol.AudioFormat{{Codec: "pcm", SampleRate: 1000, Channels: 1, BitDepth: 16}},
		Output:     out,
		Logger:     quiet{},
		OnStream: func(s resonate.StreamInfo) {
			mu.Lock()
			streams = append(streams, s)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "registration", func() bool { return len(coord.Devices()) == 1 && p.Stats().Probes >= 2 })

	samples := make([]float32, 300)
	for i := range samples {
		samples[i] = 0.25
	}
	if _, err := srv.Play(context.Background(), playback.Payload{Samples: samples, SampleRate: 1000, Channels: 1, Title: "Quarter"}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "stream end", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(streams) == 2 && streams[1].Ended
	})
	waitFor(t, "playout", func() bool {
		s := p.Stats()
		return s.Received > 0 && s.Played+s.Dropped+s.Flushed == s.Received
	})

	stats := p.Stats()
	if stats.Played == 0 {
		t.Fatalf("nothing played: %+v", stats)
	}
	if out.Frames() == 0 {
		t.Error("output received no frames")
	}
	if streams[0].Title != "Quarter" || streams[1].Reason != "completed" {
		t.Errorf("unexpected stream callbacks %+v", streams)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
