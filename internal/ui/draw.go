package ui

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/wvu-ecocar/micviz/internal/analyzer"
)

var (
	backgroundColor = color.RGBA{R: 0x12, G: 0x14, B: 0x18, A: 0xff}
	axisColor       = color.RGBA{R: 0x3a, G: 0x3f, B: 0x4a, A: 0xff}
	traceColor      = color.RGBA{R: 0x4f, G: 0xc3, B: 0xf7, A: 0xff}
	loudestColor    = color.RGBA{R: 0x66, G: 0xbb, B: 0x6a, A: 0xff}
	noSignalColor   = color.RGBA{R: 0xef, G: 0x53, B: 0x50, A: 0xff}
	textColor       = color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
)

// meterRange is the dB span shown by a level meter, ending at 0 dBFS.
const meterRange = 60.0

// drawTrace paints samples across img, mapping [-extent, +extent] onto the
// full height. Each pixel column covers a run of samples and is drawn as a
// vertical span from their minimum to their maximum, joined to the previous
// column, so dense time plots keep their envelope.
func drawTrace(img *image.RGBA, samples []float32, extent float64, col color.RGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	fill(img, backgroundColor)
	if w == 0 || h == 0 {
		return
	}

	mid := yFor(0, extent, h)
	for x := 0; x < w; x++ {
		img.SetRGBA(b.Min.X+x, b.Min.Y+mid, axisColor)
	}
	if len(samples) == 0 {
		return
	}

	prev := -1
	for x := 0; x < w; x++ {
		start := x * len(samples) / w
		end := max((x+1)*len(samples)/w, start+1)
		if start >= len(samples) {
			break
		}
		end = min(end, len(samples))

		lo, hi := h, -1
		for _, s := range samples[start:end] {
			y := yFor(float64(s), extent, h)
			lo, hi = min(lo, y), max(hi, y)
		}
		if prev >= 0 {
			lo, hi = min(lo, prev), max(hi, prev)
		}
		for y := lo; y <= hi; y++ {
			img.SetRGBA(b.Min.X+x, b.Min.Y+y, col)
		}
		prev = yFor(float64(samples[end-1]), extent, h)
	}
}

// yFor maps a sample to a pixel row, +extent at the top.
func yFor(v, extent float64, h int) int {
	if extent <= 0 || math.IsNaN(v) {
		return (h - 1) / 2
	}
	frac := (1 - v/extent) / 2
	y := int(math.Round(frac * float64(h-1)))
	return min(max(y, 0), h-1)
}

func fill(img *image.RGBA, c color.RGBA) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
}

// meterValue maps a level in dB onto 0..1 for a meter.
func meterValue(db float64) float64 {
	if math.IsNaN(db) {
		return 0
	}
	return min(max((db+meterRange)/meterRange, 0), 1)
}

func levelText(l analyzer.LevelSnapshot) string {
	if l.NoSignal {
		return "NO SIGNAL"
	}
	if l.DB <= analyzer.FloorDB {
		return "-inf dB"
	}
	return fmt.Sprintf("%.1f dB", l.DB)
}

func channelTitle(ch int, name string) string {
	if name == "" {
		return fmt.Sprintf("CH%d", ch+1)
	}
	return fmt.Sprintf("CH%d  %s", ch+1, name)
}
