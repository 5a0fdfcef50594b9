// Package analyzer turns captured blocks into per-channel levels.
package analyzer

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noriah/catnip/util"
	"github.com/rs/zerolog"

	"github.com/wvu-ecocar/micviz/internal/audio"
	"github.com/wvu-ecocar/micviz/internal/display"
	"github.com/wvu-ecocar/micviz/internal/metrics"
)

const (
	// Reference is the full-scale amplitude that maps to 0 dB.
	Reference = 1.0
	// FloorDB is reported for silence and anything quieter.
	FloorDB = -100.0
	// PeakDecayTime is the time constant of the held peak's decay.
	PeakDecayTime = 1500 * time.Millisecond
	// AverageBlocks is the length of the moving average in blocks.
	AverageBlocks = 50
)

// ErrMalformedBlock is returned for blocks that are not audio.BlockSize long.
var ErrMalformedBlock = errors.New("malformed audio block")

// LevelSnapshot is an immutable view of one channel's levels.
type LevelSnapshot struct {
	Channel    int
	RMS        float64
	DB         float64
	Peak       float64
	PeakAt     time.Time
	Average    float64
	Seq        uint64
	SampleRate float64
	// NoSignal is set after the channel's device failed and cleared by the
	// next block.
	NoSignal bool
	Err      error
}

// Config holds the collaborators of an Analyzer.
type Config struct {
	Channel int
	Buffers *display.Manager
	Metrics *metrics.Metrics // optional
	Logger  zerolog.Logger
	// Now stamps peak resets; defaults to time.Now.
	Now func() time.Time
}

// Analyzer computes the levels of one channel. Process and MarkFailed are
// called from the capture side; Snapshot may be called from any goroutine.
type Analyzer struct {
	ch      int
	buffers *display.Manager
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	peak     float64
	peakAt   time.Time
	average  *util.MovingWindow
	rate     float64
	scratch  []float32
	snapshot atomic.Pointer[LevelSnapshot]
}

// New creates an analyzer and publishes a silent initial snapshot.
func New(cfg Config) *Analyzer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	a := &Analyzer{
		ch:      cfg.Channel,
		buffers: cfg.Buffers,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		now:     now,
		average: util.NewMovingWindow(AverageBlocks),
	}
	a.snapshot.Store(&LevelSnapshot{Channel: cfg.Channel, DB: FloorDB})
	return a
}

// Channel returns the channel index this analyzer serves.
func (a *Analyzer) Channel() int {
	return a.ch
}

// Snapshot returns the latest published levels. It never blocks.
func (a *Analyzer) Snapshot() *LevelSnapshot {
	return a.snapshot.Load()
}

// Process analyzes one block, appends it to the display buffers and
// publishes new levels. A malformed block leaves all state unchanged.
func (a *Analyzer) Process(b audio.Block) error {
	if len(b.Samples) != audio.BlockSize {
		a.metrics.MalformedBlock(a.ch)
		return fmt.Errorf("%w: channel %d block %d has %d samples, want %d",
			ErrMalformedBlock, a.ch, b.Seq, len(b.Samples), audio.BlockSize)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	samples := a.sanitize(b.Samples)

	var sumSq, blockPeak float64
	for _, s := range samples {
		v := float64(s)
		sumSq += v * v
		blockPeak = max(blockPeak, math.Abs(v))
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))

	rate := b.SampleRate
	if rate <= 0 {
		rate = a.rate
	}
	if rate <= 0 {
		rate = display.NominalSampleRate
	}
	if rate != a.rate {
		a.rate = rate
		if a.buffers != nil {
			a.buffers.Channel(a.ch).SetSampleRate(rate)
		}
	}

	a.updatePeak(blockPeak, float64(len(samples))/rate)
	average, _ := a.average.Update(rms)
	average = max(average, 0)

	if a.buffers != nil {
		a.buffers.Append(a.ch, samples)
	}

	a.snapshot.Store(&LevelSnapshot{
		Channel:    a.ch,
		RMS:        rms,
		DB:         Decibels(rms),
		Peak:       a.peak,
		PeakAt:     a.peakAt,
		Average:    average,
		Seq:        b.Seq,
		SampleRate: rate,
	})
	a.metrics.BlockProcessed(a.ch, rms)
	return nil
}

// MarkFailed publishes a NO SIGNAL snapshot for the channel.
func (a *Analyzer) MarkFailed(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.peak = 0
	a.average = util.NewMovingWindow(AverageBlocks)
	prev := a.snapshot.Load()
	a.snapshot.Store(&LevelSnapshot{
		Channel:    a.ch,
		DB:         FloorDB,
		Seq:        prev.Seq,
		SampleRate: prev.SampleRate,
		NoSignal:   true,
		Err:        err,
	})
	a.metrics.DeviceFailure(a.ch)
	a.log.Warn().Err(err).Int("channel", a.ch).Msg("Channel has no signal")
}

// Decibels converts an RMS amplitude to dB relative to Reference, never
// below FloorDB.
func Decibels(rms float64) float64 {
	if rms <= 0 || math.IsNaN(rms) {
		return FloorDB
	}
	return max(20*math.Log10(rms/Reference), FloorDB)
}

// sanitize returns samples with non-finite values replaced by zero. The input
// is copied only when it needs fixing.
func (a *Analyzer) sanitize(samples []float32) []float32 {
	for i, s := range samples {
		f := float64(s)
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			continue
		}
		if cap(a.scratch) < len(samples) {
			a.scratch = make([]float32, len(samples))
		}
		out := a.scratch[:len(samples)]
		copy(out, samples)
		for j := i; j < len(out); j++ {
			if f := float64(out[j]); math.IsNaN(f) || math.IsInf(f, 0) {
				out[j] = 0
			}
		}
		return out
	}
	return samples
}

// updatePeak resets the held peak upwards immediately and otherwise lets it
// decay exponentially towards the block peak over dt seconds.
func (a *Analyzer) updatePeak(blockPeak, dt float64) {
	if blockPeak >= a.peak {
		if blockPeak > a.peak || a.peakAt.IsZero() {
			a.peakAt = a.now()
		}
		a.peak = blockPeak
		return
	}
	a.peak = blockPeak + (a.peak-blockPeak)*math.Exp(-dt/PeakDecayTime.Seconds())
}
