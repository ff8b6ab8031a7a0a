// ABOUTME: Entry point for the sync coordinator daemon
// ABOUTME: Loads config, serves devices over WebSocket and drives playback plans
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/internal/config"
	"github.com/Resonate-Protocol/resonate-sync/internal/metrics"
	"github.com/Resonate-Protocol/resonate-sync/internal/server"
	"github.com/Resonate-Protocol/resonate-sync/internal/ui"
	"github.com/Resonate-Protocol/resonate-sync/internal/version"
	"github.com/Resonate-Protocol/resonate-sync/pkg/audio/source"
	"github.com/Resonate-Protocol/resonate-sync/pkg/playback"
	"github.com/Resonate-Protocol/resonate-sync/pkg/resonate"
	"github.com/sirupsen/logrus"
)

var (
	configFile  = flag.String("config", "", "YAML configuration file")
	port        = flag.Int("port", 0, "WebSocket server port (overrides config)")
	name        = flag.String("name", "", "Coordinator friendly name (default: hostname-resonate-sync)")
	logFile     = flag.String("log-file", "resonate-sync-server.log", "Log file path")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	noTUI       = flag.Bool("no-tui", false, "Disable the dashboard, use streaming logs instead")
	noMetrics   = flag.Bool("no-metrics", false, "Do not serve /metrics")
	audioFile   = flag.String("audio", "", "Audio file to play (MP3, FLAC, WAV). Plays a test tone if not specified")
	toneLength  = flag.Duration("tone-length", 10*time.Second, "Length of the test tone")
	maxLength   = flag.Duration("max-length", 0, "Truncate the loaded audio (0 = whole file)")
	loop        = flag.Bool("loop", false, "Replay the audio when a plan completes")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("coordinator"))
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
		logger.SetOutput(f)
	} else {
		logger.SetOutput(io.MultiWriter(os.Stdout, f))
	}
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("Config error: %v", err)
	}

	logger.Infof("Starting %s: %s on port %d", version.Banner("coordinator"), cfg.Server.Name, cfg.Server.Port)

	d := &daemon{
		name:    cfg.Server.Name,
		logger:  logger,
		replays: make(chan struct{}, 1),
		loop:    *loop,
	}
	if err := d.setup(cfg); err != nil {
		logger.Fatalf("Startup error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.run(ctx, useTUI); err != nil {
		logger.Errorf("Coordinator error: %v", err)
	}
	d.shutdown()
	logger.Info("Coordinator stopped")
}

// loadConfig reads -config when given and lets flags override the file
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *name != "" {
		cfg.Server.Name = *name
	}
	if cfg.Server.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Server.Name = fmt.Sprintf("%s-resonate-sync", hostname)
	}
	if *noMDNS {
		off := false
		cfg.Server.EnableMDNS = &off
	}
	return cfg, cfg.Validate()
}

type daemon struct {
	name    string
	logger  *logrus.Logger
	coord   *resonate.Coordinator
	srv     *server.Server
	metrics *metrics.Metrics
	payload playback.Payload

	// replays asks the play loop to start the payload again
	replays chan struct{}
	loop    bool
}

func (d *daemon) setup(cfg *config.Config) error {
	src, err := source.Open(*audioFile, *toneLength)
	if err != nil {
		return err
	}
	defer src.Close()

	payload, err := source.Load(src, cfg.Server.SampleRate, cfg.Server.Channels, *maxLength)
	if err != nil {
		return fmt.Errorf("loading %q: %w", *audioFile, err)
	}
	d.payload = payload
	d.logger.Infof("Loaded %q: %.1fs at %dHz %dch", payload.Title,
		float64(payload.Frames())/float64(payload.SampleRate), payload.SampleRate, payload.Channels)

	coordCfg := cfg.Coordinator()
	coordCfg.Logger = d.logger
	coordCfg.OnEvent = d.handleEvent
	d.coord = resonate.New(coordCfg)

	if !*noMetrics {
		d.metrics = metrics.New(d.coord.Status)
	}

	transport := cfg.Transport()
	transport.Coordinator = d.coord
	transport.Version = version.Version
	transport.Logger = d.logger
	srv, err := server.NewServer(transport)
	if err != nil {
		return err
	}
	if d.metrics != nil {
		srv.Handle("/metrics", d.metrics.Handler())
	}
	d.srv = srv
	return nil
}

// handleEvent runs on the coordinator's goroutines and must not block
func (d *daemon) handleEvent(ev resonate.Event) {
	if d.srv != nil {
		d.srv.HandleEvent(ev)
	}
	if d.metrics != nil {
		d.metrics.Observe(ev)
	}

	switch e := ev.(type) {
	case resonate.DeviceConnected:
		d.logger.Infof("Device %s (%s) connected, latency %.1fms", e.Name, e.DeviceID, e.LatencyMs)
		d.requestPlay()
	case resonate.DeviceDisconnected:
		d.logger.Infof("Device %s disconnected", e.DeviceID)
	case resonate.PlaybackCompleted:
		d.logger.Infof("Plan %s (%q) completed", e.PlanID, e.Title)
		if d.loop {
			d.requestPlay()
		}
	}
}

func (d *daemon) requestPlay() {
	select {
	case d.replays <- struct{}{}:
	default:
	}
}

func (d *daemon) run(ctx context.Context, useTUI bool) error {
	if err := d.coord.Start(); err != nil {
		return err
	}
	if err := d.srv.Start(); err != nil {
		return err
	}
	d.logger.Infof("Listening on %s", d.srv.Addr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go d.playLoop(ctx)

	if !useTUI {
		<-ctx.Done()
		return nil
	}

	dash := ui.NewDashboard(d.name, d.srv.Addr())
	done := make(chan error, 1)
	go func() { done <- dash.Run() }()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			dash.Update(d.coord.Status())

		case action := <-dash.Actions():
			d.handleAction(ctx, action)
			if action == ui.ActionQuit {
				dash.Stop()
				return <-done
			}

		case err := <-done:
			return err

		case <-ctx.Done():
			dash.Stop()
			<-done
			return nil
		}
	}
}

func (d *daemon) handleAction(ctx context.Context, action ui.Action) {
	switch action {
	case ui.ActionStop:
		d.logger.Info("Stopping playback")
		d.srv.StopPlayback()
	case ui.ActionReplay:
		d.srv.StopPlayback()
		d.requestPlay()
	case ui.ActionMeasure:
		go func() {
			mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			_, failed := d.coord.MeasureAll(mctx)
			for id, err := range failed {
				d.logger.Warnf("Measuring %s failed: %v", id, err)
			}
		}()
	}
}

// playLoop starts the payload whenever it is requested while idle
func (d *daemon) playLoop(ctx context.Context) {
	for {
		select {
		case <-d.replays:
		case <-ctx.Done():
			return
		}

		// devices that join mid-plan wait for the next one
		if st := d.coord.Status(); st.Plan != nil {
			continue
		}

		plan, err := d.srv.Play(ctx, d.payload)
		if err != nil {
			if !errors.Is(err, resonate.ErrNoDevices) {
				d.logger.Errorf("Play failed: %v", err)
			}
			continue
		}
		d.logger.Infof("Started plan %s for %d devices", plan.ID, len(plan.Devices))
	}
}

func (d *daemon) shutdown() {
	d.srv.Stop()
	if err := d.coord.Stop(); err != nil {
		d.logger.Warnf("Coordinator stop: %v", err)
	}
}
