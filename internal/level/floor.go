package level

import (
	"math"
	"slices"
)

const (
	// MinNoiseFloor is the lowest floor ever reported.
	MinNoiseFloor = 0.001
	// FloorHistory is how many per-cycle minima the estimator keeps.
	FloorHistory = 200
	// FloorMinSamples is how many minima are needed before estimating.
	FloorMinSamples = 20
	// FloorPercentile selects the floor from the history.
	FloorPercentile = 0.10
)

// NoiseFloor estimates the background level from the quietest channel over
// recent render cycles. The zero value is ready to use.
type NoiseFloor struct {
	history [FloorHistory]float64
	filled  int
	next    int
	cycle   uint64
	seen    bool
	floor   float64
	sorted  []float64
}

// Update records the minimum of rms for the given cycle and returns the
// current floor. Repeated calls with the same cycle number do not record
// again. Non-finite and negative values are ignored.
func (n *NoiseFloor) Update(cycle uint64, rms []float64) float64 {
	if n.seen && cycle == n.cycle {
		return n.Floor()
	}
	n.seen = true
	n.cycle = cycle

	lowest := math.Inf(1)
	for _, v := range rms {
		if v >= 0 && !math.IsInf(v, 0) {
			lowest = min(lowest, v)
		}
	}
	if math.IsInf(lowest, 1) {
		return n.Floor()
	}

	n.history[n.next] = lowest
	n.next = (n.next + 1) % FloorHistory
	n.filled = min(n.filled+1, FloorHistory)

	if n.filled <= FloorMinSamples {
		n.floor = MinNoiseFloor
		return n.floor
	}
	n.sorted = append(n.sorted[:0], n.history[:n.filled]...)
	slices.Sort(n.sorted)
	n.floor = max(percentile(n.sorted, FloorPercentile), MinNoiseFloor)
	return n.floor
}

// Floor returns the current estimate.
func (n *NoiseFloor) Floor() float64 {
	return max(n.floor, MinNoiseFloor)
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := min(lo+1, len(sorted)-1)
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
