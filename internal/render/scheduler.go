package render

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wvu-ecocar/micviz/internal/analyzer"
	"github.com/wvu-ecocar/micviz/internal/config"
	"github.com/wvu-ecocar/micviz/internal/display"
	"github.com/wvu-ecocar/micviz/internal/level"
	"github.com/wvu-ecocar/micviz/internal/metrics"
)

// Surface draws frames. Render is called on the scheduler goroutine and must
// hand work off to the UI thread rather than draw synchronously.
type Surface interface {
	Render(f Frame)
}

// ChannelFrame is what one plot shows. Window is immutable and may be read
// after Render returns.
type ChannelFrame struct {
	Level  analyzer.LevelSnapshot
	Window *display.Window
	// Visible is how many of the newest samples of Window are plotted.
	Visible int
	Gain    float64
}

// Samples writes the plotted samples with gain applied into dst and
// returns it.
func (c ChannelFrame) Samples(dst []float32) []float32 {
	dst = c.Window.Tail(c.Visible, dst)
	g := float32(c.Gain)
	for i := range dst {
		dst[i] *= g
	}
	return dst
}

// Frame is everything drawn in one render cycle.
type Frame struct {
	Cycle      uint64
	State      State
	Channels   []ChannelFrame
	Comparison level.Comparison
	Scale      level.Scale
	TimePlot   bool
	// SecondsPerSample is the plotted time step in time-plot mode.
	SecondsPerSample float64
	FPS              float64
	ShowFPS          bool
}

// Config holds the collaborators of a Scheduler.
type Config struct {
	Analyzers []*analyzer.Analyzer
	Buffers   *display.Manager
	Machine   *Machine
	Settings  func() config.DisplaySettings
	Surface   Surface
	Metrics   *metrics.Metrics // optional
	Logger    zerolog.Logger
	// Now drives the FPS meter; defaults to time.Now.
	Now func() time.Time
}

// Scheduler runs the frame loop.
type Scheduler struct {
	cfg Config
	now func() time.Time

	cycle    uint64
	floor    level.NoiseFloor
	smoother *level.Smoother
	levels   []*analyzer.LevelSnapshot
	rms      []float64
	peaks    []float64

	fps        float64
	frames     int
	fpsStarted time.Time

	floorBits atomic.Uint64

	wake chan struct{}
}

// NewScheduler creates a scheduler. It does nothing until Run is called.
func NewScheduler(cfg Config) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	n := len(cfg.Analyzers)
	s := &Scheduler{
		cfg:      cfg,
		now:      now,
		smoother: level.NewSmoother(),
		levels:   make([]*analyzer.LevelSnapshot, n),
		rms:      make([]float64, 0, n),
		peaks:    make([]float64, n),
		wake:     make(chan struct{}, 1),
	}
	return s
}

// Wake requests a cycle as soon as possible, so state changes show without
// waiting out the FPS lock.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives cycles until ctx is cancelled. The timer is re-armed every
// cycle with the current FPS lock so settings changes apply immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	log := s.cfg.Logger
	log.Info().Int("channels", len(s.cfg.Analyzers)).Msg("Render loop started")
	defer log.Info().Uint64("cycles", s.cycle).Msg("Render loop stopped")

	unsubscribe := s.cfg.Machine.Observe(func(from, to State) {
		s.Wake()
	})
	defer unsubscribe()

	timer := time.NewTimer(s.cfg.Settings().FrameInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		s.Cycle()
		timer.Reset(s.cfg.Settings().FrameInterval())
	}
}

// Cycle runs one render cycle and reports whether a frame was pushed.
// Only the Run goroutine (or a test) may call it.
func (s *Scheduler) Cycle() bool {
	s.cycle++
	settings := s.cfg.Settings()

	if s.cfg.Machine.Suppressed() {
		s.cfg.Metrics.FrameSkipped()
		return false
	}
	state := s.cfg.Machine.State()

	// The buffer mode is switched by whoever changes the settings; the
	// render loop only reads.
	timePlot := settings.TimePlot && s.cfg.Buffers.TimePlot()

	s.rms = s.rms[:0]
	channels := make([]ChannelFrame, len(s.cfg.Analyzers))
	var secondsPerSample float64

	for i, a := range s.cfg.Analyzers {
		snap := a.Snapshot()
		s.levels[i] = snap
		if !snap.NoSignal {
			s.rms = append(s.rms, snap.RMS)
		}

		wave, plot := s.cfg.Buffers.Snapshot(a.Channel())
		cf := ChannelFrame{Level: *snap, Gain: settings.Gain}
		if timePlot {
			cf.Window, cf.Visible = plot, plot.Len()
			secondsPerSample = s.cfg.Buffers.Channel(a.Channel()).SecondsPerSample()
		} else {
			cf.Window, cf.Visible = wave, display.WaveformDisplay
		}
		s.peaks[i] = float64(cf.Window.TailPeak(cf.Visible))
		channels[i] = cf
	}

	floor := s.floor.Update(s.cycle, s.rms)
	s.floorBits.Store(math.Float64bits(floor))
	cmp := level.Compare(s.levels, floor)
	scale := s.smoother.Update(level.ComputeScale(s.peaks, settings.Gain, floor))

	s.tickFPS()

	s.cfg.Surface.Render(Frame{
		Cycle:            s.cycle,
		State:            state,
		Channels:         channels,
		Comparison:       cmp,
		Scale:            scale,
		TimePlot:         timePlot,
		SecondsPerSample: secondsPerSample,
		FPS:              s.fps,
		ShowFPS:          settings.ShowFPS,
	})
	s.cfg.Metrics.FrameRendered()
	return true
}

// NoiseFloor returns the floor estimated by the latest rendered cycle. It
// is safe to call from any goroutine.
func (s *Scheduler) NoiseFloor() float64 {
	if bits := s.floorBits.Load(); bits != 0 {
		return math.Float64frombits(bits)
	}
	return level.MinNoiseFloor
}

// CycleCount returns the number of cycles run so far.
func (s *Scheduler) CycleCount() uint64 {
	return s.cycle
}

// tickFPS counts a rendered frame and refreshes the figure once per second.
func (s *Scheduler) tickFPS() {
	now := s.now()
	if s.fpsStarted.IsZero() {
		s.fpsStarted = now
	}
	s.frames++
	if elapsed := now.Sub(s.fpsStarted); elapsed >= time.Second {
		s.fps = float64(s.frames) / elapsed.Seconds()
		s.frames = 0
		s.fpsStarted = now
		s.cfg.Metrics.SetFPS(s.fps)
	}
}
