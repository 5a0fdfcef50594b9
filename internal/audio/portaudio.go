package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/wvu-ecocar/micviz/internal/config"
	"github.com/wvu-ecocar/micviz/internal/metrics"
)

type portAudioSource struct {
	log     zerolog.Logger
	policy  string
	metrics *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// devicePlan is one physical device and the logical channels read from it.
type devicePlan struct {
	info     *portaudio.DeviceInfo
	channels []int // logical channel per requested input
	inputs   []int // device input index per logical channel
}

// New creates a PortAudio-backed capture source. policy is config.FillReplicate
// or config.FillZero and decides what unmapped logical channels receive.
// m may be nil.
func New(policy string, m *metrics.Metrics, log zerolog.Logger) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioSource{log: log, policy: policy, metrics: m}, nil
}

func (p *portAudioSource) Devices() ([]Device, error) {
	devices, ids, err := inputDevices()
	if err != nil {
		return nil, err
	}

	result := make([]Device, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for i, d := range devices {
		result = append(result, Device{
			ID:                ids[i],
			Name:              d.Name,
			Inputs:            d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           d == defaultDevice,
		})
	}

	if len(result) == 0 {
		return nil, ErrDeviceUnavailable
	}
	return result, nil
}

func (p *portAudioSource) Open(ctx context.Context, assignments []config.DeviceAssignment, sink Sink) error {
	plans, err := p.plan(assignments)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("capture already open")
	}

	captureCtx, cancel := context.WithCancel(ctx)

	type opened struct {
		plan       devicePlan
		stream     *portaudio.Stream
		buffer     []float32
		devChans   int
		sampleRate float64
	}
	streams := make([]opened, 0, len(plans))

	// Release everything opened so far if a later device fails
	release := func() {
		for _, o := range streams {
			o.stream.Stop()
			o.stream.Close()
		}
		cancel()
	}

	for _, plan := range plans {
		stream, buffer, devChans, rate, err := p.openDevice(plan)
		if err != nil {
			release()
			return err
		}
		streams = append(streams, opened{plan: plan, stream: stream, buffer: buffer, devChans: devChans, sampleRate: rate})
	}

	p.cancel = cancel
	for _, o := range streams {
		p.wg.Add(1)
		go p.readLoop(captureCtx, o.plan, o.stream, o.buffer, o.devChans, o.sampleRate, sink)
	}
	return nil
}

// inputDevices lists the devices that can capture, with their ids.
func inputDevices() ([]*portaudio.DeviceInfo, []string, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list devices: %w", err)
	}
	var devices []*portaudio.DeviceInfo
	var names []string
	for _, d := range all {
		if d.MaxInputChannels > 0 {
			devices = append(devices, d)
			names = append(names, d.Name)
		}
	}
	return devices, deviceIDs(names), nil
}

// plan resolves assignments to devices, grouping channels that share one.
func (p *portAudioSource) plan(assignments []config.DeviceAssignment) ([]devicePlan, error) {
	devices, ids, err := inputDevices()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}

	var plans []devicePlan
	index := make(map[*portaudio.DeviceInfo]int)

	for _, a := range assignments {
		var device *portaudio.DeviceInfo
		if a.DeviceID == "" {
			device, err = portaudio.DefaultInputDevice()
			if err != nil {
				return nil, fmt.Errorf("%w: no default input device: %v", ErrDeviceUnavailable, err)
			}
		} else if i := resolveDevice(a, ids, names); i >= 0 {
			device = devices[i]
		}
		if device == nil {
			return nil, fmt.Errorf("%w: device not found: %s", ErrDeviceUnavailable, a.DeviceID)
		}

		i, ok := index[device]
		if !ok {
			i = len(plans)
			index[device] = i
			plans = append(plans, devicePlan{info: device})
		}
		plans[i].channels = append(plans[i].channels, a.Channel)
		plans[i].inputs = append(plans[i].inputs, a.Input)
	}
	return plans, nil
}

// openDevice opens and starts one input stream, trying the device's preferred
// rate first. The stream is closed again on every error path.
func (p *portAudioSource) openDevice(plan devicePlan) (*portaudio.Stream, []float32, int, float64, error) {
	want := 1
	for _, in := range plan.inputs {
		want = max(want, in+1)
	}
	devChans := min(want, plan.info.MaxInputChannels)
	if missing := unmapped(plan.inputs, devChans); len(missing) > 0 {
		p.log.Warn().
			Str("device", plan.info.Name).
			Ints("inputs", missing).
			Int("available", devChans).
			Str("fill", p.policy).
			Msg("Device supplies fewer channels than requested, filling unmapped channels")
	}

	buffer := make([]float32, BlockSize*devChans)

	var lastErr error
	for _, rate := range sampleRateCandidates(plan.info.DefaultSampleRate) {
		stream, err := portaudio.OpenStream(portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   plan.info,
				Channels: devChans,
				Latency:  plan.info.DefaultLowInputLatency,
			},
			SampleRate:      rate,
			FramesPerBuffer: BlockSize,
		}, buffer)
		if err != nil {
			lastErr = err
			p.log.Debug().Err(err).Str("device", plan.info.Name).Float64("rate", rate).Msg("Sample rate rejected")
			continue
		}

		if err := stream.Start(); err != nil {
			stream.Close()
			lastErr = err
			continue
		}

		p.log.Info().
			Str("device", plan.info.Name).
			Float64("rate", rate).
			Int("inputs", devChans).
			Ints("channels", plan.channels).
			Msg("Opened input device")
		return stream, buffer, devChans, rate, nil
	}

	return nil, nil, 0, 0, fmt.Errorf("failed to open audio stream for %s: %w", plan.info.Name, lastErr)
}

func (p *portAudioSource) readLoop(ctx context.Context, plan devicePlan, stream *portaudio.Stream, buffer []float32, devChans int, rate float64, sink Sink) {
	defer p.wg.Done()
	defer func() {
		stream.Stop()
		stream.Close()
	}()

	seq := make([]uint64, len(plan.channels))
	overflows := 0

	for {
		if ctx.Err() != nil {
			return
		}

		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				overflows++
				p.metrics.InputOverflow(plan.info.Name)
				p.log.Debug().Str("device", plan.info.Name).Int("overflows", overflows).Msg("Input overflow")
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.log.Error().Err(err).Str("device", plan.info.Name).Msg("Capture stopped")
			for _, ch := range plan.channels {
				sink.OnFailure(ch, fmt.Errorf("%w: %s: %v", ErrDeviceFailure, plan.info.Name, err))
			}
			return
		}

		split := deinterleave(buffer, devChans, BlockSize, plan.inputs, p.policy)
		for i, ch := range plan.channels {
			seq[i]++
			sink.OnBlock(Block{
				Channel:    ch,
				Seq:        seq[i],
				SampleRate: rate,
				Samples:    split[i],
			})
		}
	}
}

func (p *portAudioSource) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *portAudioSource) Close() error {
	p.Stop()
	return portaudio.Terminate()
}
