package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"

	"github.com/wvu-ecocar/micviz/internal/app"
	"github.com/wvu-ecocar/micviz/internal/assets"
	"github.com/wvu-ecocar/micviz/internal/audio"
	"github.com/wvu-ecocar/micviz/internal/config"
	"github.com/wvu-ecocar/micviz/internal/logging"
	"github.com/wvu-ecocar/micviz/internal/metrics"
	"github.com/wvu-ecocar/micviz/internal/permissions"
	"github.com/wvu-ecocar/micviz/internal/tray"
	"github.com/wvu-ecocar/micviz/internal/ui"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (default: platform config dir)")
	demo := flag.Bool("demo", false, "visualize synthetic tones instead of capturing devices")
	channels := flag.Int("channels", 0, "number of microphone channels (1-8, default: from config)")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	// Load config from XDG/Library/AppData
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *channels > 0 {
		applyChannelFlag(cfg, *channels)
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)
	log.Info().Str("version", Version).Str("commit", Commit).Str("config", cfg.Path()).Msg("micviz starting...")

	// macOS hands denied microphones silence, so a refusal is only a warning
	if err := permissions.EnsureMicrophone(); err != nil {
		log.Warn().Err(err).Msg("Microphone access not granted; channels may stay silent")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// Initialize audio capture
	var source audio.Source
	if *demo {
		source = audio.NewGenerator(48000, audio.DemoSignals(config.MaxChannels))
		log.Info().Msg("Demo mode: using generated signals")
	} else {
		source, err = audio.New(cfg.FillPolicy, m, logging.Component(log, "audio"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize audio")
		}
	}

	fa := fyneapp.NewWithID("edu.wvu.ecocar.micviz")
	finder := assets.NewFinder(logging.Component(log, "assets"))
	if icon := finder.Icon(); icon != nil {
		fa.SetIcon(icon)
	}

	// Create window first (we'll pass it to app)
	window := ui.New(ctx, fa, finder.Logo(), logging.Component(log, "ui"))

	application := app.New(app.Config{
		Source:  source,
		Surface: window,
		Config:  cfg,
		Metrics: m,
		Logger:  log,
	})

	// Set app reference in window
	window.SetController(application)

	trayUI := tray.New(fa, application, window, Version, log)
	if trayUI.Install(finder.Icon()) {
		application.SetStatusUpdater(trayUI)
	}

	go func() {
		if err := config.Watch(ctx, cfg.Path(), logging.Component(log, "config"), application.ApplyConfig); err != nil {
			log.Warn().Err(err).Msg("Config hot reload disabled")
		}
	}()

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		fyne.Do(fa.Quit)
	}()

	fa.Lifecycle().SetOnStarted(func() {
		go func() {
			if err := application.Start(ctx); err != nil {
				fyne.Do(func() { window.HandleStartError(err) })
			}
		}()
	})

	// Window event loop - MUST run on main thread
	window.ShowAndRun()

	cancel()
	if err := application.Close(); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	log.Info().Msg("Stopped")
}

// applyChannelFlag overrides the channel count for this run, dropping
// assignments for channels that no longer exist.
func applyChannelFlag(cfg *config.Config, n int) {
	n = min(max(n, config.MinChannels), config.MaxChannels)
	cfg.NumChannels = n
	kept := cfg.Devices[:0]
	for _, d := range cfg.Devices {
		if d.Channel < n {
			kept = append(kept, d)
		}
	}
	cfg.Devices = kept
}
