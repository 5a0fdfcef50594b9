package level

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wvu-ecocar/micviz/internal/analyzer"
)

func snapshots(averages ...float64) []*analyzer.LevelSnapshot {
	out := make([]*analyzer.LevelSnapshot, len(averages))
	for i, avg := range averages {
		out[i] = &analyzer.LevelSnapshot{Channel: i, Average: avg, RMS: avg}
	}
	return out
}

func TestCompareStrictMaximum(t *testing.T) {
	tests := []struct {
		name     string
		averages []float64
		loudest  int
	}{
		{"two channels", []float64{0.1, 0.2}, 1},
		{"first wins", []float64{0.5, 0.2, 0.3}, 0},
		{"four channels", []float64{0.01, 0.02, 0.3, 0.29}, 2},
		{"eight channels", []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.4}, 7},
		{"tie goes to lowest index", []float64{0.1, 0.3, 0.3, 0.2}, 1},
		{"all tied", []float64{0.2, 0.2, 0.2, 0.2, 0.2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Compare(snapshots(tt.averages...), MinNoiseFloor)
			assert.Equal(t, tt.loudest, c.Loudest)
			assert.Equal(t, tt.averages[tt.loudest], c.Average)
			assert.True(t, c.Active)
			require.Len(t, c.Ranked, len(tt.averages))
			assert.Equal(t, tt.loudest, c.Ranked[0].Channel)
		})
	}
}

func TestCompareRankedOrder(t *testing.T) {
	levels := snapshots(0.2, 0.5, 0.2, 0.9)
	levels[3].NoSignal = true

	c := Compare(levels, MinNoiseFloor)
	assert.Equal(t, 1, c.Loudest)

	var order []int
	for _, r := range c.Ranked {
		order = append(order, r.Channel)
	}
	assert.Equal(t, []int{1, 0, 2, 3}, order)
}

func TestCompareInactiveBelowFloor(t *testing.T) {
	c := Compare(snapshots(0, 0, 0, 0), MinNoiseFloor)
	assert.False(t, c.Active)
	assert.Equal(t, 0, c.Loudest)

	c = Compare(snapshots(0.004, 0.005), 0.005)
	assert.False(t, c.Active)
}

func TestCompareNoSignalEverywhere(t *testing.T) {
	levels := snapshots(0.3, 0.4)
	for _, l := range levels {
		l.NoSignal = true
	}
	c := Compare(levels, MinNoiseFloor)
	assert.Equal(t, -1, c.Loudest)
	assert.False(t, c.Active)
}

func TestNoiseFloorDefaultsUntilEnoughHistory(t *testing.T) {
	var n NoiseFloor
	for i := uint64(0); i < FloorMinSamples; i++ {
		assert.Equal(t, MinNoiseFloor, n.Update(i, []float64{0.05, 0.5}))
	}
	assert.InDelta(t, 0.05, n.Update(FloorMinSamples, []float64{0.05, 0.5}), 1e-12)
}

func TestNoiseFloorPercentileOfMinima(t *testing.T) {
	var n NoiseFloor
	// minima 0.01 .. 1.00
	for i := 1; i <= 100; i++ {
		n.Update(uint64(i), []float64{float64(i) / 100, 2})
	}
	// 10th percentile of 0.01..1.00 with linear interpolation
	assert.InDelta(t, 0.1090, n.Floor(), 1e-9)
}

func TestNoiseFloorOncePerCycle(t *testing.T) {
	var n NoiseFloor
	for i := 0; i < 50; i++ {
		n.Update(7, []float64{0.2})
	}
	assert.Equal(t, 1, n.filled)
}

func TestNoiseFloorNeverBelowMinimum(t *testing.T) {
	var n NoiseFloor
	for i := uint64(0); i < 100; i++ {
		n.Update(i, []float64{0, 0, 0, 0})
	}
	assert.Equal(t, MinNoiseFloor, n.Floor())

	n.Update(101, []float64{math.NaN(), math.Inf(1)})
	assert.Equal(t, MinNoiseFloor, n.Floor())
}

func TestNoiseFloorHistoryIsBounded(t *testing.T) {
	var n NoiseFloor
	for i := uint64(0); i < FloorHistory; i++ {
		n.Update(i, []float64{0.001})
	}
	for i := uint64(FloorHistory); i < 2*FloorHistory; i++ {
		n.Update(i, []float64{0.2})
	}
	assert.InDelta(t, 0.2, n.Floor(), 1e-12)
}

func TestComputeScale(t *testing.T) {
	tests := []struct {
		name  string
		peaks []float64
		gain  float64
		floor float64
		want  float64
	}{
		{"silence is minimum", []float64{0, 0, 0, 0}, 1, MinNoiseFloor, MinExtent},
		{"peak with headroom", []float64{0.1, 0.5}, 1, MinNoiseFloor, 0.6},
		{"gain applied", []float64{0.5}, 2, MinNoiseFloor, 1.2},
		{"zero gain", []float64{0.5}, 0, MinNoiseFloor, MinExtent},
		{"floor dominates", []float64{0.01}, 1, 0.05, 0.24},
		{"negative peaks count", []float64{-0.5}, 1, 0, 0.6},
		{"non-finite ignored", []float64{math.NaN(), math.Inf(1), 0.25}, 1, 0, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeScale(tt.peaks, tt.gain, tt.floor).Extent, 1e-9)
		})
	}
}

func TestSmootherConvergesAndStartsAtMinimum(t *testing.T) {
	s := NewSmoother()
	assert.Equal(t, MinExtent, s.Current().Extent)

	got := s.Update(Scale{Extent: 1.1})
	assert.InDelta(t, 0.2, got.Extent, 1e-9)

	for i := 0; i < 200; i++ {
		got = s.Update(Scale{Extent: 1.1})
	}
	assert.InDelta(t, 1.1, got.Extent, 1e-6)

	got = s.Update(Scale{Extent: math.NaN()})
	assert.Equal(t, MinExtent, got.Extent)
}

func TestSmootherStaysAtMinimumForSilence(t *testing.T) {
	s := NewSmoother()
	for i := 0; i < 10; i++ {
		assert.InDelta(t, MinExtent, s.Update(ComputeScale([]float64{0, 0, 0, 0}, 1, MinNoiseFloor)).Extent, 1e-12)
	}
}
