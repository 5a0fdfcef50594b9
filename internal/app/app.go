package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/atotto/clipboard"
	"github.com/rs/zerolog"

	"github.com/wvu-ecocar/micviz/internal/analyzer"
	"github.com/wvu-ecocar/micviz/internal/audio"
	"github.com/wvu-ecocar/micviz/internal/config"
	"github.com/wvu-ecocar/micviz/internal/display"
	"github.com/wvu-ecocar/micviz/internal/logging"
	"github.com/wvu-ecocar/micviz/internal/metrics"
	"github.com/wvu-ecocar/micviz/internal/render"
)

// DefaultDeviceName labels channels assigned to the system default input.
const DefaultDeviceName = "Default input"

// ErrNotRunning is returned by operations that need a started session.
var ErrNotRunning = errors.New("no capture session running")

// StatusUpdater is an interface for updating status (e.g., tray title)
type StatusUpdater interface {
	SetRunning()
	SetPaused()
	SetNoSignal(channel int)
	SetError()
}

type Config struct {
	Source  audio.Source
	Surface render.Surface
	Config  *config.Config
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	// StatusUpdater is optional
	StatusUpdater StatusUpdater
	// Clipboard defaults to the system clipboard.
	Clipboard func(text string) error
}

// App owns the components of one capture session at a time and is the entry
// point for every user action.
type App struct {
	source    audio.Source
	surface   render.Surface
	metrics   *metrics.Metrics
	log       zerolog.Logger
	blockLog  zerolog.Logger
	status    StatusUpdater
	clipboard func(string) error
	machine   *render.Machine

	mu       sync.Mutex // guards cfg and settings
	cfg      *config.Config
	settings config.DisplaySettings

	session atomic.Pointer[session]
	opMu    sync.Mutex // serializes Start, Stop and Reconfigure
}

// session is everything created for one run of capture and rendering.
type session struct {
	analyzers []*analyzer.Analyzer
	buffers   *display.Manager
	scheduler *render.Scheduler
	names     []string

	closing atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg Config) *App {
	copyText := cfg.Clipboard
	if copyText == nil {
		copyText = clipboard.WriteAll
	}

	a := &App{
		source:    cfg.Source,
		surface:   cfg.Surface,
		metrics:   cfg.Metrics,
		log:       logging.Component(cfg.Logger, "app"),
		blockLog:  logging.Sampled(logging.Component(cfg.Logger, "analyzer")),
		status:    cfg.StatusUpdater,
		clipboard: copyText,
		machine:   render.NewMachine(),
		cfg:       cfg.Config,
	}
	a.settings = a.clampSettings(cfg.Config.Display)

	a.machine.Observe(func(from, to render.State) {
		a.log.Debug().Stringer("from", from).Stringer("to", to).Msg("Display state changed")
		a.reportStatus()
	})
	return a
}

// SetStatusUpdater attaches the status sink after construction.
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
	a.reportStatus()
}

// Machine exposes the display state machine for observers.
func (a *App) Machine() *render.Machine {
	return a.machine
}

// Devices lists the input devices that channels can be assigned to.
func (a *App) Devices() ([]audio.Device, error) {
	return a.source.Devices()
}

// Assignments returns the current device assignment of every channel.
func (a *App) Assignments() []config.DeviceAssignment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Assignments()
}

// Start validates the persisted assignments, opens capture and starts the
// render loop. A configuration or device error leaves nothing running, so
// Start can be retried after the user picks devices.
func (a *App) Start(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	if a.session.Load() != nil {
		return errors.New("session already running")
	}

	a.mu.Lock()
	if err := a.cfg.Validate(); err != nil {
		a.mu.Unlock()
		a.log.Warn().Err(err).Msg("Rejected persisted device assignments")
		return err
	}
	assignments := a.cfg.Assignments()
	settings := a.settings
	a.mu.Unlock()

	s := a.newSession(assignments, settings)
	a.session.Store(s)

	if err := a.source.Open(ctx, assignments, a); err != nil {
		a.session.Store(nil)
		a.log.Error().Err(err).Msg("Failed to open capture")
		a.setError()
		return fmt.Errorf("open capture: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		defer close(s.done)
		if err := s.scheduler.Run(runCtx); err != nil {
			a.log.Error().Err(err).Msg("Render loop failed")
		}
	}()

	a.log.Info().Int("channels", len(assignments)).Msg("Session started")
	a.reportStatus()
	return nil
}

func (a *App) newSession(assignments []config.DeviceAssignment, settings config.DisplaySettings) *session {
	s := &session{
		buffers: display.NewManager(len(assignments), settings.RateMultiplier),
		names:   make([]string, len(assignments)),
		done:    make(chan struct{}),
	}
	s.buffers.SetTimePlot(settings.TimePlot)

	for i, asg := range assignments {
		s.analyzers = append(s.analyzers, analyzer.New(analyzer.Config{
			Channel: i,
			Buffers: s.buffers,
			Metrics: a.metrics,
			Logger:  a.blockLog,
		}))
		s.names[i] = asg.DeviceName
		if s.names[i] == "" {
			s.names[i] = asg.DeviceID
		}
		if s.names[i] == "" {
			s.names[i] = DefaultDeviceName
		}
	}

	s.scheduler = render.NewScheduler(render.Config{
		Analyzers: s.analyzers,
		Buffers:   s.buffers,
		Machine:   a.machine,
		Settings:  a.Settings,
		Surface:   a.surface,
		Metrics:   a.metrics,
		Logger:    logging.Component(a.log, "render"),
	})
	return s
}

// Stop ends the current session: new blocks are discarded, capture is
// stopped and devices released, then the render loop is stopped.
func (a *App) Stop() error {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	return a.stopLocked()
}

func (a *App) stopLocked() error {
	s := a.session.Load()
	if s == nil {
		return nil
	}
	s.closing.Store(true)

	err := a.source.Stop()
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to stop capture")
	}

	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	a.session.Store(nil)
	a.log.Info().Msg("Session stopped")
	return err
}

// Reconfigure replaces the device assignments, persists them and restarts
// the session with the new channel count.
func (a *App) Reconfigure(ctx context.Context, assignments []config.DeviceAssignment) error {
	a.opMu.Lock()
	if err := a.stopLocked(); err != nil {
		a.opMu.Unlock()
		return err
	}

	a.mu.Lock()
	prev := append([]config.DeviceAssignment(nil), a.cfg.Devices...)
	prevCount := a.cfg.NumChannels
	a.cfg.SetAssignments(assignments)
	if err := a.cfg.Validate(); err != nil {
		a.cfg.NumChannels, a.cfg.Devices = prevCount, prev
		a.mu.Unlock()
		a.opMu.Unlock()
		return err
	}
	if err := a.cfg.Save(); err != nil {
		a.log.Error().Err(err).Msg("Failed to save device assignments")
	}
	a.mu.Unlock()
	a.opMu.Unlock()

	return a.Start(ctx)
}

// ForgetDevices clears the persisted assignments. The running session is
// not affected.
func (a *App) ForgetDevices() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Forget()
}

// Close stops the session and shuts the audio source down.
func (a *App) Close() error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	stopErr := a.stopLocked()
	if err := a.source.Close(); err != nil {
		return err
	}
	return stopErr
}

// Running reports whether a session is active.
func (a *App) Running() bool {
	return a.session.Load() != nil
}

// Channels returns the channel count of the running session, or 0.
func (a *App) Channels() int {
	s := a.session.Load()
	if s == nil {
		return 0
	}
	return len(s.analyzers)
}

// OnBlock implements audio.Sink.
func (a *App) OnBlock(b audio.Block) {
	s := a.session.Load()
	if s == nil || s.closing.Load() {
		return
	}
	if b.Channel < 0 || b.Channel >= len(s.analyzers) {
		a.blockLog.Warn().Int("channel", b.Channel).Msg("Block for unknown channel dropped")
		return
	}
	if err := s.analyzers[b.Channel].Process(b); err != nil {
		a.blockLog.Warn().Err(err).Int("channel", b.Channel).Msg("Dropped audio block")
	}
}

// OnFailure implements audio.Sink.
func (a *App) OnFailure(channel int, err error) {
	s := a.session.Load()
	if s == nil || s.closing.Load() {
		return
	}
	if channel < 0 || channel >= len(s.analyzers) {
		return
	}
	s.analyzers[channel].MarkFailed(err)
	a.log.Error().Err(err).Int("channel", channel).Msg("Channel lost its device")

	a.mu.Lock()
	status := a.status
	a.mu.Unlock()
	if status != nil {
		status.SetNoSignal(channel)
	}
}

// Snapshots returns the latest levels of every channel.
func (a *App) Snapshots() []*analyzer.LevelSnapshot {
	s := a.session.Load()
	if s == nil {
		return nil
	}
	out := make([]*analyzer.LevelSnapshot, len(s.analyzers))
	for i, an := range s.analyzers {
		out[i] = an.Snapshot()
	}
	return out
}

// ChannelName returns the device name shown for a channel.
func (a *App) ChannelName(ch int) string {
	s := a.session.Load()
	if s == nil || ch < 0 || ch >= len(s.names) {
		return ""
	}
	return s.names[ch]
}

func (a *App) reportStatus() {
	a.mu.Lock()
	status := a.status
	a.mu.Unlock()
	if status == nil {
		return
	}
	if a.machine.Suppressed() {
		status.SetPaused()
		return
	}
	status.SetRunning()
}

func (a *App) setError() {
	a.mu.Lock()
	status := a.status
	a.mu.Unlock()
	if status != nil {
		status.SetError()
	}
}
