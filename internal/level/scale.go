package level

import "math"

const (
	// MinExtent is the smallest half-range of the Y axis.
	MinExtent = 0.1
	// Headroom is applied above the loudest visible sample.
	Headroom = 1.2
	// FloorScale keeps quiet signals from filling the plot.
	FloorScale = 4.0
	// SmoothingFactor is the weight of the previous extent per cycle.
	SmoothingFactor = 0.9
)

// Scale is the symmetric Y range [-Extent, +Extent] shared by every plot.
type Scale struct {
	Extent float64
}

// ComputeScale returns the range that fits the largest peak after gain with
// headroom, never below MinExtent.
func ComputeScale(peaks []float64, gain, floor float64) Scale {
	var top float64
	for _, p := range peaks {
		if !math.IsNaN(p) && !math.IsInf(p, 0) {
			top = max(top, math.Abs(p))
		}
	}
	if math.IsNaN(gain) || gain < 0 {
		gain = 0
	}
	if math.IsNaN(floor) || floor < 0 {
		floor = 0
	}
	return Scale{Extent: max(max(top*gain, floor*FloorScale)*Headroom, MinExtent)}
}

// Smoother eases the scale between cycles so plots do not jump.
type Smoother struct {
	extent float64
}

// NewSmoother starts at MinExtent.
func NewSmoother() *Smoother {
	return &Smoother{extent: MinExtent}
}

// Update moves towards target and returns the smoothed scale.
func (s *Smoother) Update(target Scale) Scale {
	if math.IsNaN(target.Extent) || math.IsInf(target.Extent, 0) || math.IsNaN(s.extent) {
		s.extent = MinExtent
		return Scale{Extent: s.extent}
	}
	s.extent = s.extent*SmoothingFactor + target.Extent*(1-SmoothingFactor)
	s.extent = max(s.extent, MinExtent)
	return Scale{Extent: s.extent}
}

// Current returns the last smoothed scale.
func (s *Smoother) Current() Scale {
	return Scale{Extent: s.extent}
}
