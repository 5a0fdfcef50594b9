package display

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// WaveformCapacity is the rolling waveform history per channel.
	WaveformCapacity = 2048
	// WaveformDisplay is how many of the newest waveform samples are drawn.
	WaveformDisplay = 512
	// TimePlotWindow is the span of plotted time kept in time-plot mode.
	TimePlotWindow = 300 * time.Millisecond
	// NominalSampleRate sizes the time-plot buffer until a device reports its rate.
	NominalSampleRate = 48000.0
)

// TimePlotCapacity returns the time-plot buffer length for a device rate and
// rate multiplier. The multiplier is plotted seconds per real second, so each
// sample spans multiplier/sampleRate plotted seconds and the 0.3 s window
// holds 0.3·sampleRate/multiplier samples.
func TimePlotCapacity(sampleRate, multiplier float64) int {
	if sampleRate <= 0 {
		sampleRate = NominalSampleRate
	}
	if multiplier <= 0 || math.IsNaN(multiplier) {
		multiplier = 1
	}
	return max(1, int(math.Round(TimePlotWindow.Seconds()*sampleRate/multiplier)))
}

// Buffers is the waveform and time-plot history of one channel.
type Buffers struct {
	Waveform *Ring
	TimePlot *Ring

	// resizeMu keeps the time-plot capacity in step with the stored
	// rate and multiplier pair.
	resizeMu   sync.Mutex
	sampleRate atomic.Uint64 // math.Float64bits
	multiplier atomic.Uint64
}

// NewBuffers creates zero-filled buffers at the nominal sample rate.
func NewBuffers(multiplier float64) *Buffers {
	b := &Buffers{
		Waveform: NewRing(WaveformCapacity),
		TimePlot: NewRing(TimePlotCapacity(NominalSampleRate, multiplier)),
	}
	b.sampleRate.Store(math.Float64bits(NominalSampleRate))
	b.multiplier.Store(math.Float64bits(multiplier))
	return b
}

// SampleRate returns the rate the time-plot buffer is sized for.
func (b *Buffers) SampleRate() float64 {
	return math.Float64frombits(b.sampleRate.Load())
}

// Multiplier returns the current time-plot rate multiplier.
func (b *Buffers) Multiplier() float64 {
	return math.Float64frombits(b.multiplier.Load())
}

// SetSampleRate resizes the time plot for the device's actual rate.
func (b *Buffers) SetSampleRate(rate float64) {
	if rate <= 0 || rate == b.SampleRate() {
		return
	}
	b.resizeMu.Lock()
	defer b.resizeMu.Unlock()
	b.sampleRate.Store(math.Float64bits(rate))
	b.TimePlot.Resize(TimePlotCapacity(rate, b.Multiplier()))
}

// SetMultiplier resizes the time plot for a new rate multiplier.
func (b *Buffers) SetMultiplier(multiplier float64) {
	b.resizeMu.Lock()
	defer b.resizeMu.Unlock()
	b.multiplier.Store(math.Float64bits(multiplier))
	b.TimePlot.Resize(TimePlotCapacity(b.SampleRate(), multiplier))
}

// SecondsPerSample is the plotted time between two time-plot samples.
func (b *Buffers) SecondsPerSample() float64 {
	return b.Multiplier() / b.SampleRate()
}

// Manager owns the buffers of every channel in a session.
type Manager struct {
	channels []*Buffers
	timePlot atomic.Bool
}

// NewManager creates buffers for n channels.
func NewManager(n int, multiplier float64) *Manager {
	m := &Manager{channels: make([]*Buffers, n)}
	for i := range m.channels {
		m.channels[i] = NewBuffers(multiplier)
	}
	return m
}

// Channels returns the number of channels.
func (m *Manager) Channels() int {
	return len(m.channels)
}

// Channel returns the buffers of channel ch.
func (m *Manager) Channel(ch int) *Buffers {
	return m.channels[ch]
}

// Append adds samples to the channel's waveform and, in time-plot mode, to
// its time plot.
func (m *Manager) Append(ch int, samples []float32) {
	b := m.channels[ch]
	b.Waveform.Append(samples)
	if m.timePlot.Load() {
		b.TimePlot.Append(samples)
	}
}

// Snapshot returns the current windows of channel ch.
func (m *Manager) Snapshot(ch int) (waveform, timePlot *Window) {
	b := m.channels[ch]
	return b.Waveform.Snapshot(), b.TimePlot.Snapshot()
}

// TimePlot reports whether time-plot mode is on.
func (m *Manager) TimePlot() bool {
	return m.timePlot.Load()
}

// SetTimePlot switches time-plot mode. Turning it on starts from an empty
// history so the plot does not mix in samples from a previous run.
func (m *Manager) SetTimePlot(enabled bool) {
	if m.timePlot.Swap(enabled) == enabled {
		return
	}
	if enabled {
		for _, b := range m.channels {
			b.TimePlot.Reset()
		}
	}
}

// SetMultiplier resizes every channel's time plot.
func (m *Manager) SetMultiplier(multiplier float64) {
	for _, b := range m.channels {
		b.SetMultiplier(multiplier)
	}
}
