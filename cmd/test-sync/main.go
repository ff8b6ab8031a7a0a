// ABOUTME: Headless sync check against a running coordinator
// ABOUTME: Joins as a silent device and reports probe and scheduling stats each second
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-sync/pkg/resonate"
)

var (
	serverAddr = flag.String("server", "localhost:8927", "Coordinator address")
	name       = flag.String("name", "test-sync", "Device name")
	offset     = flag.Float64("offset-ms", 0, "Fixed output delay to report")
	duration   = flag.Duration("duration", 30*time.Second, "How long to stay connected")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	fmt.Println("=== Clock Sync Check ===")
	fmt.Println("Joins the coordinator with a discarding output and prints, once a second,")
	fmt.Println("how many probes were answered and how scheduled chunks fared.")
	fmt.Println()

	player, err := resonate.NewPlayer(resonate.PlayerConfig{
		ServerAddr:    *serverAddr,
		PlayerName:    *name,
		FixedOffsetMs: *offset,
		Output:        output.NewNull(nil),
		OnStream: func(s resonate.StreamInfo) {
			if s.Ended {
				log.Printf("stream %s ended: %s", s.PlanID, s.Reason)
			} else {
				log.Printf("stream %s starts at %.1fms", s.PlanID, s.TargetStartMs)
			}
		},
	})
	if err != nil {
		log.Fatalf("Player error: %v", err)
	}
	defer player.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	fmt.Printf("Connecting to %s as '%s'...\n", *serverAddr, *name)
	if err := player.Connect(ctx); err != nil {
		log.Fatalf("Connect failed: %v", err)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last resonate.PlayerStats
	for {
		select {
		case <-ticker.C:
			s := player.Stats()
			log.Printf("probes %d (+%d) | device %.1fms | recv %d played %d dropped %d flushed %d | buffer %.0fms",
				s.Probes, s.Probes-last.Probes, s.DeviceTimeMs,
				s.Received, s.Played, s.Dropped, s.Flushed, s.BufferDepthMs)
			last = s
		case <-player.Done():
			log.Printf("Session closed by coordinator")
			return
		case <-ctx.Done():
			log.Printf("Test complete")
			return
		}
	}
}
