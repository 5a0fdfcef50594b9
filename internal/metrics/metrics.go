// Package metrics keeps pipeline counters in a private Prometheus registry.
// Nothing is served over the network; the values feed the level report and
// tests.
package metrics

import (
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "micviz"

// Metrics is the set of collectors for one session. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	blocksProcessed *prometheus.CounterVec
	malformedBlocks *prometheus.CounterVec
	deviceFailures  *prometheus.CounterVec
	inputOverflows  *prometheus.CounterVec
	channelRMS      *prometheus.GaugeVec

	framesRendered prometheus.Counter
	framesSkipped  prometheus.Counter
	renderFPS      prometheus.Gauge
}

// New registers all collectors in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		blocksProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_processed_total",
				Help:      "Total number of audio blocks analyzed",
			},
			[]string{"channel"},
		),
		malformedBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "malformed_blocks_total",
				Help:      "Total number of audio blocks dropped for having the wrong length",
			},
			[]string{"channel"},
		),
		deviceFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_failures_total",
				Help:      "Total number of capture failures reported per channel",
			},
			[]string{"channel"},
		),
		inputOverflows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "input_overflows_total",
				Help:      "Total number of input overflows reported by capture devices",
			},
			[]string{"device"},
		),
		channelRMS: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "channel_rms",
				Help:      "RMS level of the most recent block per channel",
			},
			[]string{"channel"},
		),
		framesRendered: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_rendered_total",
				Help:      "Total number of frames pushed to the display",
			},
		),
		framesSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_skipped_total",
				Help:      "Total number of render cycles skipped while paused",
			},
		),
		renderFPS: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "render_fps",
				Help:      "Frames rendered during the last full second",
			},
		),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func label(ch int) string {
	return strconv.Itoa(ch)
}

func (m *Metrics) BlockProcessed(ch int, rms float64) {
	if m == nil {
		return
	}
	m.blocksProcessed.WithLabelValues(label(ch)).Inc()
	m.channelRMS.WithLabelValues(label(ch)).Set(rms)
}

func (m *Metrics) MalformedBlock(ch int) {
	if m == nil {
		return
	}
	m.malformedBlocks.WithLabelValues(label(ch)).Inc()
}

func (m *Metrics) DeviceFailure(ch int) {
	if m == nil {
		return
	}
	m.deviceFailures.WithLabelValues(label(ch)).Inc()
	m.channelRMS.WithLabelValues(label(ch)).Set(0)
}

func (m *Metrics) InputOverflow(device string) {
	if m == nil {
		return
	}
	m.inputOverflows.WithLabelValues(device).Inc()
}

func (m *Metrics) FrameRendered() {
	if m == nil {
		return
	}
	m.framesRendered.Inc()
}

func (m *Metrics) FrameSkipped() {
	if m == nil {
		return
	}
	m.framesSkipped.Inc()
}

func (m *Metrics) SetFPS(fps float64) {
	if m == nil {
		return
	}
	m.renderFPS.Set(fps)
}

// Totals gathers the registry and returns every series summed across its
// labels, keyed by metric name.
func (m *Metrics) Totals() (map[string]float64, error) {
	if m == nil {
		return map[string]float64{}, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	totals := make(map[string]float64, len(families))
	for _, mf := range families {
		var sum float64
		for _, metric := range mf.GetMetric() {
			sum += value(mf.GetType(), metric)
		}
		totals[mf.GetName()] = sum
	}
	return totals, nil
}

// Names returns the metric names of totals in sorted order.
func Names(totals map[string]float64) []string {
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func value(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	default:
		return 0
	}
}
