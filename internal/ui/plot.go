package ui

import (
	"image"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/wvu-ecocar/micviz/internal/render"
)

// plot shows one channel: title, level readout, trace and meter.
type plot struct {
	widget.BaseWidget

	channel     int
	onDoubleTap func(channel int)

	title    *canvas.Text
	level    *canvas.Text
	noSignal *canvas.Text
	frame    *canvas.Rectangle
	raster   *canvas.Raster
	meter    *widget.ProgressBar

	mu      sync.Mutex
	samples []float32
	extent  float64
	loudest bool
	dead    bool
}

func newPlot(channel int, onDoubleTap func(int)) *plot {
	p := &plot{channel: channel, onDoubleTap: onDoubleTap, extent: 1}

	p.title = canvas.NewText(channelTitle(channel, ""), textColor)
	p.title.TextStyle = fyne.TextStyle{Bold: true}
	p.level = canvas.NewText("-inf dB", textColor)
	p.level.Alignment = fyne.TextAlignTrailing
	p.noSignal = canvas.NewText("NO SIGNAL", noSignalColor)
	p.noSignal.TextSize = 28
	p.noSignal.TextStyle = fyne.TextStyle{Bold: true}
	p.noSignal.Alignment = fyne.TextAlignCenter
	p.noSignal.Hide()

	p.frame = canvas.NewRectangle(backgroundColor)
	p.frame.StrokeWidth = 2
	p.frame.StrokeColor = axisColor

	p.raster = canvas.NewRaster(p.draw)
	p.raster.SetMinSize(fyne.NewSize(160, 90))

	p.meter = widget.NewProgressBar()
	p.meter.TextFormatter = func() string { return "" }

	p.ExtendBaseWidget(p)
	return p
}

func (p *plot) CreateRenderer() fyne.WidgetRenderer {
	header := container.NewBorder(nil, nil, p.title, p.level)
	body := container.NewStack(p.frame, container.NewPadded(p.raster), container.NewCenter(p.noSignal))
	return widget.NewSimpleRenderer(container.NewBorder(header, p.meter, nil, nil, body))
}

// DoubleTapped toggles the single-graph view for this channel.
func (p *plot) DoubleTapped(*fyne.PointEvent) {
	if p.onDoubleTap != nil {
		p.onDoubleTap(p.channel)
	}
}

// update copies what the raster needs out of the frame. Must run on the UI
// thread.
func (p *plot) update(cf render.ChannelFrame, scale float64, loudest bool, name string) {
	p.mu.Lock()
	p.samples = cf.Samples(p.samples)
	p.extent = scale
	p.loudest = loudest
	p.dead = cf.Level.NoSignal
	p.mu.Unlock()

	p.title.Text = channelTitle(p.channel, name)
	p.level.Text = levelText(cf.Level)
	if cf.Level.NoSignal {
		p.noSignal.Show()
		p.meter.SetValue(0)
	} else {
		p.noSignal.Hide()
		p.meter.SetValue(meterValue(cf.Level.DB))
	}
	if loudest {
		p.frame.StrokeColor = loudestColor
	} else {
		p.frame.StrokeColor = axisColor
	}

	p.title.Refresh()
	p.level.Refresh()
	p.frame.Refresh()
	p.raster.Refresh()
}

func (p *plot) draw(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		fill(img, backgroundColor)
		return img
	}
	col := traceColor
	if p.loudest {
		col = loudestColor
	}
	drawTrace(img, p.samples, p.extent, col)
	return img
}
