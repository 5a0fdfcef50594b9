package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wvu-ecocar/micviz/internal/audio"
	"github.com/wvu-ecocar/micviz/internal/config"
	"github.com/wvu-ecocar/micviz/internal/level"
	"github.com/wvu-ecocar/micviz/internal/metrics"
	"github.com/wvu-ecocar/micviz/internal/render"
)

// Mock implementations for testing
type mockSource struct {
	mu      sync.Mutex
	openErr error
	sink    audio.Sink
	calls   []string
}

func (m *mockSource) Devices() ([]audio.Device, error) {
	return []audio.Device{{ID: "default", Name: "Default", Inputs: 2, Default: true}}, nil
}

func (m *mockSource) Open(ctx context.Context, assignments []config.DeviceAssignment, sink audio.Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "open")
	if m.openErr != nil {
		return m.openErr
	}
	m.sink = sink
	return nil
}

func (m *mockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "stop")
	return nil
}

func (m *mockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "close")
	return nil
}

func (m *mockSource) history() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockSurface struct {
	mu     sync.Mutex
	frames []render.Frame
}

func (m *mockSurface) Render(f render.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, f)
}

func (m *mockSurface) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *mockSurface) last() (render.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return render.Frame{}, false
	}
	return m.frames[len(m.frames)-1], true
}

type mockStatus struct {
	mu       sync.Mutex
	last     string
	noSignal []int
}

func (m *mockStatus) set(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = s
}

func (m *mockStatus) SetRunning() { m.set("running") }
func (m *mockStatus) SetPaused()  { m.set("paused") }
func (m *mockStatus) SetError()   { m.set("error") }

func (m *mockStatus) SetNoSignal(channel int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = "no-signal"
	m.noSignal = append(m.noSignal, channel)
}

func (m *mockStatus) get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func testConfig(t *testing.T, channels int) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.NumChannels = channels
	cfg.Display.FPSLockMs = config.MinFPSLockMs
	cfg.SetPath(filepath.Join(t.TempDir(), "config.json"))
	return cfg
}

func newTestApp(t *testing.T, src audio.Source, cfg *config.Config) (*App, *mockSurface, *mockStatus) {
	t.Helper()
	surface := &mockSurface{}
	status := &mockStatus{}
	a := New(Config{
		Source:        src,
		Surface:       surface,
		Config:        cfg,
		Metrics:       metrics.New(),
		Logger:        zerolog.Nop(),
		StatusUpdater: status,
	})
	t.Cleanup(func() { a.Close() })
	return a, surface, status
}

func silentGenerator() *audio.Generator {
	gen := audio.NewGenerator(48000, map[int]audio.Signal{})
	gen.Interval = time.Millisecond
	return gen
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
}

func TestFourSilentChannelsEndToEnd(t *testing.T) {
	a, surface, status := newTestApp(t, silentGenerator(), testConfig(t, 4))
	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, 4, a.Channels())
	assert.Equal(t, "running", status.get())

	waitFor(t, func() bool {
		for _, s := range a.Snapshots() {
			if s.Seq < 30 {
				return false
			}
		}
		return surface.count() > 10
	})

	frame, ok := surface.last()
	require.True(t, ok)
	require.Len(t, frame.Channels, 4)
	assert.False(t, frame.Comparison.Active)
	assert.InDelta(t, level.MinExtent, frame.Scale.Extent, 1e-12)
	for _, ch := range frame.Channels {
		assert.Equal(t, 0.0, ch.Level.RMS)
		assert.False(t, ch.Level.NoSignal)
	}
}

func TestLoudestChannelEndToEnd(t *testing.T) {
	gen := audio.NewGenerator(48000, map[int]audio.Signal{
		0: {Frequency: 440, Amplitude: 0.1},
		1: {Frequency: 440, Amplitude: 0.6},
		2: {Frequency: 440, Amplitude: 0.3},
	})
	gen.Interval = time.Millisecond
	a, surface, _ := newTestApp(t, gen, testConfig(t, 3))
	require.NoError(t, a.Start(context.Background()))

	waitFor(t, func() bool {
		f, ok := surface.last()
		return ok && f.Comparison.Active && f.Comparison.Loudest == 1
	})
}

func TestStartRejectsInvalidAssignments(t *testing.T) {
	cfg := testConfig(t, 2)
	cfg.Devices = []config.DeviceAssignment{{Channel: 0}, {Channel: 0}}
	src := &mockSource{}
	a, _, _ := newTestApp(t, src, cfg)

	err := a.Start(context.Background())
	assert.ErrorIs(t, err, config.ErrConfigurationInvalid)
	assert.False(t, a.Running())
	assert.Empty(t, src.history())
}

func TestStartRetriesAfterDeviceUnavailable(t *testing.T) {
	src := &mockSource{openErr: audio.ErrDeviceUnavailable}
	a, _, status := newTestApp(t, src, testConfig(t, 2))

	err := a.Start(context.Background())
	assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)
	assert.False(t, a.Running())
	assert.Equal(t, "error", status.get())

	src.mu.Lock()
	src.openErr = nil
	src.mu.Unlock()

	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.Running())
}

func TestCloseStopsCaptureBeforeRenderAndDropsLateBlocks(t *testing.T) {
	src := &mockSource{}
	a, surface, _ := newTestApp(t, src, testConfig(t, 1))
	require.NoError(t, a.Start(context.Background()))
	waitFor(t, func() bool { return surface.count() > 0 })

	require.NoError(t, a.Close())
	assert.Equal(t, []string{"open", "stop", "close"}, src.history())
	assert.False(t, a.Running())

	// a capture goroutine still draining must not panic or render
	rendered := surface.count()
	src.sink.OnBlock(audio.Block{Channel: 0, Samples: make([]float32, audio.BlockSize)})
	src.sink.OnFailure(0, audio.ErrDeviceFailure)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, rendered, surface.count())
}

func TestDeviceFailureShowsNoSignal(t *testing.T) {
	gen := audio.NewGenerator(48000, audio.DemoSignals(2))
	gen.Interval = time.Millisecond
	a, surface, status := newTestApp(t, gen, testConfig(t, 2))
	require.NoError(t, a.Start(context.Background()))

	gen.Fail(1, errors.New("unplugged"))

	waitFor(t, func() bool {
		f, ok := surface.last()
		return ok && f.Channels[1].Level.NoSignal
	})
	f, _ := surface.last()
	assert.False(t, f.Channels[0].Level.NoSignal)
	assert.ErrorIs(t, f.Channels[1].Level.Err, audio.ErrDeviceFailure)
	assert.Equal(t, "no-signal", status.get())

	// the other channel keeps going
	before := a.Snapshots()[0].Seq
	waitFor(t, func() bool { return a.Snapshots()[0].Seq > before })
}

func TestMalformedBlocksAreDropped(t *testing.T) {
	src := &mockSource{}
	a, _, _ := newTestApp(t, src, testConfig(t, 1))
	require.NoError(t, a.Start(context.Background()))

	good := make([]float32, audio.BlockSize)
	for i := range good {
		good[i] = 0.5
	}
	src.sink.OnBlock(audio.Block{Channel: 0, Seq: 1, SampleRate: 48000, Samples: good})
	src.sink.OnBlock(audio.Block{Channel: 0, Seq: 2, SampleRate: 48000, Samples: good[:100]})
	src.sink.OnBlock(audio.Block{Channel: 5, Seq: 3, SampleRate: 48000, Samples: good})

	s := a.Snapshots()[0]
	assert.Equal(t, uint64(1), s.Seq)
	assert.InDelta(t, 0.5, s.RMS, 1e-6)
}

func TestPauseReportsStatus(t *testing.T) {
	a, surface, status := newTestApp(t, silentGenerator(), testConfig(t, 1))
	require.NoError(t, a.Start(context.Background()))
	waitFor(t, func() bool { return surface.count() > 0 })

	require.NoError(t, a.TogglePause())
	assert.Equal(t, "paused", status.get())

	// give an in-flight cycle time to land, then no more frames
	time.Sleep(30 * time.Millisecond)
	paused := surface.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, paused, surface.count())

	require.NoError(t, a.TogglePause())
	assert.Equal(t, "running", status.get())
	waitFor(t, func() bool { return surface.count() > paused })
}

func TestControlsFollowStateMachine(t *testing.T) {
	a, _, _ := newTestApp(t, &mockSource{}, testConfig(t, 2))

	require.NoError(t, a.DoubleClick(1))
	assert.Equal(t, render.State{Mode: render.SingleGraphFullscreen, Channel: 1}, a.Machine().State())
	require.NoError(t, a.Cancel())
	assert.ErrorIs(t, a.Cancel(), render.ErrInvalidTransition)
	require.NoError(t, a.ToggleFullscreen())
	assert.Equal(t, render.WindowFullscreen, a.Machine().State().Mode)

	require.NoError(t, a.SettingsOpened())
	assert.True(t, a.Machine().Suppressed())
	require.NoError(t, a.SettingsClosed())
	assert.False(t, a.Machine().Suppressed())
}

func TestUpdateSettingsClampsPersistsAndResizes(t *testing.T) {
	cfg := testConfig(t, 1)
	a, _, _ := newTestApp(t, &mockSource{}, cfg)
	require.NoError(t, a.Start(context.Background()))

	got, err := a.UpdateSettings(func(d *config.DisplaySettings) {
		d.Gain = 5
		d.TimePlot = true
		d.RateMultiplier = 0.5
	})
	assert.ErrorIs(t, err, config.ErrConfigurationInvalid)
	assert.Equal(t, config.MaxGain, got.Gain)
	assert.Equal(t, got, a.Settings())

	s := a.session.Load()
	assert.True(t, s.buffers.TimePlot())
	assert.Equal(t, 28800, s.buffers.Channel(0).TimePlot.Capacity())

	reloaded, err := config.Load(cfg.Path())
	require.NoError(t, err)
	assert.Equal(t, got, reloaded.Display)
}

func TestApplyConfigFromDisk(t *testing.T) {
	a, _, _ := newTestApp(t, &mockSource{}, testConfig(t, 1))
	require.NoError(t, a.Start(context.Background()))

	edited := config.Default()
	edited.Display.ShowFPS = true
	edited.Display.FPSLockMs = 1000
	a.ApplyConfig(edited)

	assert.True(t, a.Settings().ShowFPS)
	assert.Equal(t, config.MaxFPSLockMs, a.Settings().FPSLockMs)
}

func TestReconfigureChangesChannelCount(t *testing.T) {
	cfg := testConfig(t, 2)
	a, surface, _ := newTestApp(t, silentGenerator(), cfg)
	require.NoError(t, a.Start(context.Background()))

	err := a.Reconfigure(context.Background(), []config.DeviceAssignment{
		{Channel: 0, DeviceID: "generator", DeviceName: "Gen A"},
		{Channel: 1, DeviceID: "generator", DeviceName: "Gen B", Input: 1},
		{Channel: 2, DeviceID: "generator", DeviceName: "Gen C", Input: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, a.Channels())
	assert.Equal(t, "Gen B", a.ChannelName(1))

	waitFor(t, func() bool {
		f, ok := surface.last()
		return ok && len(f.Channels) == 3
	})

	reloaded, err := config.Load(cfg.Path())
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.NumChannels)
	assert.Len(t, reloaded.Devices, 3)
}

func TestReconfigureRejectsInvalidAssignments(t *testing.T) {
	cfg := testConfig(t, 2)
	a, _, _ := newTestApp(t, &mockSource{}, cfg)

	err := a.Reconfigure(context.Background(), make([]config.DeviceAssignment, config.MaxChannels+1))
	assert.ErrorIs(t, err, config.ErrConfigurationInvalid)
	assert.Equal(t, 2, cfg.NumChannels)
}

func TestCopyReport(t *testing.T) {
	var copied string
	gen := audio.NewGenerator(48000, map[int]audio.Signal{1: {Frequency: 440, Amplitude: 0.5}})
	gen.Interval = time.Millisecond

	a := New(Config{
		Source:    gen,
		Surface:   &mockSurface{},
		Config:    testConfig(t, 2),
		Metrics:   metrics.New(),
		Logger:    zerolog.Nop(),
		Clipboard: func(text string) error { copied = text; return nil },
	})
	defer a.Close()

	assert.ErrorIs(t, a.CopyReport(), ErrNotRunning)

	require.NoError(t, a.Start(context.Background()))
	waitFor(t, func() bool { return a.Snapshots()[1].Seq > 5 })

	require.NoError(t, a.CopyReport())
	assert.Contains(t, copied, "Loudest: CH2 "+DefaultDeviceName)
	assert.Contains(t, copied, "CH1 "+DefaultDeviceName)
	assert.Contains(t, copied, "micviz_blocks_processed_total")
	assert.Less(t, strings.Index(copied, "CH2 "), strings.LastIndex(copied, "CH1 "))
}

func TestCopyReportClipboardFailure(t *testing.T) {
	a := New(Config{
		Source:    &mockSource{},
		Surface:   &mockSurface{},
		Config:    testConfig(t, 1),
		Logger:    zerolog.Nop(),
		Clipboard: func(string) error { return errors.New("no clipboard") },
	})
	defer a.Close()
	require.NoError(t, a.Start(context.Background()))

	assert.Error(t, a.CopyReport())
}

func constantBlock(ch int, v float32) audio.Block {
	samples := make([]float32, audio.BlockSize)
	for i := range samples {
		samples[i] = v
	}
	return audio.Block{Channel: ch, SampleRate: 48000, Samples: samples}
}

func TestReportUsesLiveNoiseFloor(t *testing.T) {
	var copied string
	a := New(Config{
		Source:    &mockSource{},
		Surface:   &mockSurface{},
		Config:    testConfig(t, 2),
		Metrics:   metrics.New(),
		Logger:    zerolog.Nop(),
		Clipboard: func(text string) error { copied = text; return nil },
	})
	defer a.Close()
	require.NoError(t, a.Start(context.Background()))
	sched := a.session.Load().scheduler

	// A steady 0.2 background on both channels becomes the noise floor
	waitFor(t, func() bool {
		a.OnBlock(constantBlock(0, 0.2))
		a.OnBlock(constantBlock(1, 0.2))
		return sched.NoiseFloor() > 0.1999
	})

	// Freeze the floor, then let both averages dip below it
	require.NoError(t, a.TogglePause())
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 10; i++ {
		a.OnBlock(constantBlock(0, 0.1))
		a.OnBlock(constantBlock(1, 0.1))
	}

	require.NoError(t, a.CopyReport())
	assert.Contains(t, copied, "Loudest: none above noise floor")
}
