// ABOUTME: Entry point for the sync device player
// ABOUTME: Parses CLI flags and starts the player application
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/resonate-sync/internal/app"
	"github.com/Resonate-Protocol/resonate-sync/internal/version"
	"github.com/Resonate-Protocol/resonate-sync/pkg/protocol"
	"github.com/sirupsen/logrus"
)

var (
	serverAddr  = flag.String("server", "", "Manual coordinator address host:port (skip mDNS)")
	name        = flag.String("name", "", "Player friendly name (default: hostname-sync-player)")
	deviceID    = flag.String("id", "", "Device id (default: random)")
	codec       = flag.String("codec", "opus", "Preferred codec: opus or pcm")
	sampleRate  = flag.Int("rate", 48000, "Sample rate to offer")
	channels    = flag.Int("channels", 2, "Channels to offer")
	bitDepth    = flag.Int("bits", 16, "PCM bit depth to offer (16 or 24)")
	fixedOffset = flag.Float64("offset-ms", 0, "Fixed output delay of this device in milliseconds")
	volume      = flag.Int("volume", 100, "Initial volume (0-100)")
	headless    = flag.Bool("headless", false, "Discard audio instead of opening the sound card")
	logFile     = flag.String("log-file", "resonate-sync-player.log", "Log file path")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("player"))
		return
	}

	useTUI := !*noTUI

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		logrus.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	logger := logrus.New()
	if useTUI {
		// TUI owns the terminal: log only to file
		logger.SetOutput(f)
	} else {
		logger.SetOutput(io.MultiWriter(os.Stdout, f))
	}
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	playerName := *name
	if playerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		playerName = fmt.Sprintf("%s-sync-player", hostname)
	}

	logger.Infof("Starting %s: %s", version.Banner("player"), playerName)

	player := app.New(app.Config{
		ServerAddr:    *serverAddr,
		DeviceID:      *deviceID,
		Name:          playerName,
		FixedOffsetMs: *fixedOffset,
		Volume:        *volume,
		Formats:       offeredFormats(*codec, *sampleRate, *channels, *bitDepth),
		Headless:      *headless,
		UseTUI:        useTUI,
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := player.Start(ctx); err != nil {
		logger.Fatalf("Player error: %v", err)
	}
	player.Stop()

	logger.Info("Player stopped")
}

// offeredFormats lists the preferred codec first and PCM as fallback
func offeredFormats(codec string, rate, channels, bits int) []protocol.AudioFormat {
	pcm := protocol.AudioFormat{Codec: "pcm", SampleRate: rate, Channels: channels, BitDepth: bits}
	if codec != "opus" {
		return []protocol.AudioFormat{pcm}
	}
	return []protocol.AudioFormat{
		{Codec: "opus", SampleRate: rate, Channels: channels, BitDepth: 16},
		pcm,
	}
}
