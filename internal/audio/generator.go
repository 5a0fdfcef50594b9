package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/wvu-ecocar/micviz/internal/config"
)

// Signal describes the synthetic audio a Generator emits for one channel.
type Signal struct {
	Frequency float64 // Hz; 0 disables the tone
	Amplitude float64 // peak of the tone, full scale = 1
	Noise     float64 // peak of uniform white noise added on top
}

// Generator is a Source that synthesizes audio instead of reading devices.
// It paces blocks in real time unless Interval is set.
type Generator struct {
	SampleRate float64
	Signals    map[int]Signal
	// Interval between blocks; zero means one block duration.
	Interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	failed map[int]error
}

// NewGenerator creates a generator with one signal per channel index.
func NewGenerator(sampleRate float64, signals map[int]Signal) *Generator {
	return &Generator{
		SampleRate: sampleRate,
		Signals:    signals,
		failed:     make(map[int]error),
	}
}

// DemoSignals returns distinct tones of rising loudness for n channels.
func DemoSignals(n int) map[int]Signal {
	signals := make(map[int]Signal, n)
	for i := 0; i < n; i++ {
		signals[i] = Signal{
			Frequency: 220 * float64(i+1),
			Amplitude: 0.1 + 0.1*float64(i),
			Noise:     0.01,
		}
	}
	return signals
}

func (g *Generator) Devices() ([]Device, error) {
	return []Device{{
		ID:                "generator",
		Name:              "Signal generator",
		Inputs:            config.MaxChannels,
		DefaultSampleRate: g.SampleRate,
		Default:           true,
	}}, nil
}

// Fail simulates a device disconnect for channel: the channel reports err
// (wrapped in ErrDeviceFailure) on the next tick and stops producing blocks.
func (g *Generator) Fail(channel int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failed == nil {
		g.failed = make(map[int]error)
	}
	g.failed[channel] = fmt.Errorf("%w: %v", ErrDeviceFailure, err)
}

func (g *Generator) Open(ctx context.Context, assignments []config.DeviceAssignment, sink Sink) error {
	if g.SampleRate <= 0 {
		return fmt.Errorf("%w: generator sample rate %v", ErrDeviceUnavailable, g.SampleRate)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return errors.New("capture already open")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	channels := make([]int, len(assignments))
	for i, a := range assignments {
		channels[i] = a.Channel
	}

	interval := g.Interval
	if interval <= 0 {
		interval = time.Duration(float64(BlockSize) / g.SampleRate * float64(time.Second))
	}

	g.wg.Add(1)
	go g.run(runCtx, channels, interval, sink)
	return nil
}

func (g *Generator) run(ctx context.Context, channels []int, interval time.Duration, sink Sink) {
	defer g.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := make([]uint64, len(channels))
	phase := make([]float64, len(channels))
	reported := make(map[int]bool)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		g.mu.Lock()
		failed := make(map[int]error, len(g.failed))
		for ch, err := range g.failed {
			failed[ch] = err
		}
		g.mu.Unlock()

		for i, ch := range channels {
			if err, ok := failed[ch]; ok {
				if !reported[ch] {
					reported[ch] = true
					sink.OnFailure(ch, err)
				}
				continue
			}
			seq[i]++
			sink.OnBlock(Block{
				Channel:    ch,
				Seq:        seq[i],
				SampleRate: g.SampleRate,
				Samples:    g.synthesize(g.Signals[ch], &phase[i]),
			})
		}
	}
}

func (g *Generator) synthesize(sig Signal, phase *float64) []float32 {
	out := make([]float32, BlockSize)
	step := 2 * math.Pi * sig.Frequency / g.SampleRate
	for i := range out {
		v := 0.0
		if sig.Frequency > 0 {
			v = sig.Amplitude * math.Sin(*phase)
			*phase = math.Mod(*phase+step, 2*math.Pi)
		}
		if sig.Noise > 0 {
			v += sig.Noise * (2*rand.Float64() - 1)
		}
		out[i] = float32(v)
	}
	return out
}

func (g *Generator) Stop() error {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.failed = make(map[int]error)
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	g.wg.Wait()
	return nil
}

func (g *Generator) Close() error {
	return g.Stop()
}
