// Package level compares channels and derives the shared display scale.
package level

import (
	"slices"

	"github.com/wvu-ecocar/micviz/internal/analyzer"
)

// Rank is one entry of a Comparison's ranked list.
type Rank struct {
	Channel  int
	Average  float64
	NoSignal bool
}

// Comparison is the result of comparing all channels in one render cycle.
type Comparison struct {
	// Loudest is the channel with the highest moving average, or -1 when no
	// channel is delivering audio.
	Loudest int
	Average float64
	// Active reports whether the loudest channel is above the noise floor.
	Active bool
	Floor  float64
	Ranked []Rank
}

// Compare picks the loudest channel by moving average. Ties go to the lowest
// channel index. Channels without signal never win and rank last.
func Compare(levels []*analyzer.LevelSnapshot, floor float64) Comparison {
	c := Comparison{Loudest: -1, Floor: floor, Ranked: make([]Rank, 0, len(levels))}

	for _, l := range levels {
		if l == nil {
			continue
		}
		c.Ranked = append(c.Ranked, Rank{Channel: l.Channel, Average: l.Average, NoSignal: l.NoSignal})
		if l.NoSignal {
			continue
		}
		if c.Loudest < 0 || l.Average > c.Average || (l.Average == c.Average && l.Channel < c.Loudest) {
			c.Loudest = l.Channel
			c.Average = l.Average
		}
	}

	slices.SortStableFunc(c.Ranked, func(a, b Rank) int {
		switch {
		case a.NoSignal != b.NoSignal:
			if a.NoSignal {
				return 1
			}
			return -1
		case a.Average > b.Average:
			return -1
		case a.Average < b.Average:
			return 1
		default:
			return a.Channel - b.Channel
		}
	})

	c.Active = c.Loudest >= 0 && c.Average > floor
	return c
}
