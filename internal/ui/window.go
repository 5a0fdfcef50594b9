// Package ui is the Fyne front end: the plot window, its keyboard controls
// and the settings and device-selection dialogs.
package ui

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"github.com/wvu-ecocar/micviz/internal/audio"
	"github.com/wvu-ecocar/micviz/internal/config"
	"github.com/wvu-ecocar/micviz/internal/render"
)

// Controller is the session host the window drives.
type Controller interface {
	TogglePause() error
	ToggleFullscreen() error
	Cancel() error
	DoubleClick(channel int) error
	SettingsOpened() error
	SettingsClosed() error
	Settings() config.DisplaySettings
	UpdateSettings(fn func(*config.DisplaySettings)) (config.DisplaySettings, error)
	CopyReport() error
	ChannelName(channel int) string
	Devices() ([]audio.Device, error)
	Assignments() []config.DeviceAssignment
	Reconfigure(ctx context.Context, assignments []config.DeviceAssignment) error
	ForgetDevices() error
	Machine() *render.Machine
}

// Window is the main plot window. It implements render.Surface.
type Window struct {
	app  fyne.App
	win  fyne.Window
	ctrl Controller
	ctx  context.Context
	log  zerolog.Logger

	banner  *widget.Label
	fps     *widget.Label
	paused  *widget.Label
	header  *fyne.Container
	body    *fyne.Container
	plots   []*plot
	state   render.State
	pending atomic.Bool
	latest  atomic.Pointer[render.Frame]
}

// New creates the main window. The controller is attached with
// SetController once the session host exists.
func New(ctx context.Context, a fyne.App, logo fyne.Resource, log zerolog.Logger) *Window {
	w := &Window{
		app: a,
		win: a.NewWindow("Microphone Levels"),
		ctx: ctx,
		log: log,
	}

	w.banner = widget.NewLabelWithStyle("Waiting for audio...", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
	w.fps = widget.NewLabel("")
	w.fps.Hide()
	w.paused = widget.NewLabelWithStyle("PAUSED", fyne.TextAlignTrailing, fyne.TextStyle{Bold: true})
	w.paused.Importance = widget.DangerImportance
	w.paused.Hide()

	var left fyne.CanvasObject = w.fps
	if logo != nil {
		img := canvas.NewImageFromResource(logo)
		img.FillMode = canvas.ImageFillContain
		img.SetMinSize(fyne.NewSize(0, 40))
		left = container.NewHBox(img, w.fps)
	}
	w.header = container.NewBorder(nil, nil, left, w.paused, w.banner)
	w.body = container.NewGridWithColumns(1)

	w.win.SetContent(container.NewBorder(w.header, nil, nil, nil, w.body))
	w.win.Resize(fyne.NewSize(1000, 700))
	w.win.SetMaster()
	return w
}

// SetController sets the controller reference (for circular dependency
// resolution) and installs the keyboard controls.
func (w *Window) SetController(ctrl Controller) {
	w.ctrl = ctrl
	w.state = ctrl.Machine().State()

	w.win.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		w.handleKey(ev.Name)
	})
	w.win.Canvas().AddShortcut(&desktop.CustomShortcut{
		KeyName:  fyne.KeyS,
		Modifier: fyne.KeyModifierShortcutDefault,
	}, func(fyne.Shortcut) {
		w.ShowSettings()
	})

	ctrl.Machine().Observe(func(from, to render.State) {
		fyne.Do(func() { w.applyState(to) })
	})
}

// Fyne returns the underlying window.
func (w *Window) Fyne() fyne.Window {
	return w.win
}

// ShowAndRun shows the window and runs the Fyne event loop.
func (w *Window) ShowAndRun() {
	w.win.ShowAndRun()
}

// Render implements render.Surface. Frames are coalesced: if the UI thread
// has not drawn the previous frame yet, it draws only the newest.
func (w *Window) Render(f render.Frame) {
	w.latest.Store(&f)
	if w.pending.Swap(true) {
		return
	}
	fyne.Do(func() {
		w.pending.Store(false)
		if f := w.latest.Load(); f != nil {
			w.draw(f)
		}
	})
}

func (w *Window) draw(f *render.Frame) {
	if len(f.Channels) != len(w.plots) {
		w.rebuild(len(f.Channels))
	}

	for i, cf := range f.Channels {
		loudest := f.Comparison.Active && f.Comparison.Loudest == i
		w.plots[i].update(cf, f.Scale.Extent, loudest, w.ctrl.ChannelName(i))
	}

	w.banner.SetText(bannerText(f, w.ctrl.ChannelName))
	if f.ShowFPS {
		w.fps.SetText(fmt.Sprintf("%.0f FPS", f.FPS))
		w.fps.Show()
	} else {
		w.fps.Hide()
	}
}

// rebuild creates one plot per channel and lays them out in a grid.
func (w *Window) rebuild(n int) {
	w.plots = make([]*plot, n)
	for i := range w.plots {
		w.plots[i] = newPlot(i, w.onDoubleTap)
	}
	w.layout()
}

func (w *Window) layout() {
	if w.state.Mode == render.SingleGraphFullscreen && w.state.Channel < len(w.plots) {
		w.body.Layout = layout.NewGridLayoutWithColumns(1)
		w.body.Objects = []fyne.CanvasObject{w.plots[w.state.Channel]}
	} else {
		w.body.Layout = layout.NewGridLayoutWithColumns(gridColumns(len(w.plots)))
		objs := make([]fyne.CanvasObject, len(w.plots))
		for i, p := range w.plots {
			objs[i] = p
		}
		w.body.Objects = objs
	}
	w.body.Refresh()
}

func (w *Window) applyState(s render.State) {
	view := s
	if s.Mode == render.Paused && s.Resume != nil {
		view = *s.Resume
	}
	w.state = view
	w.win.SetFullScreen(view.Fullscreen())
	if s.Mode == render.Paused {
		w.paused.Show()
	} else {
		w.paused.Hide()
	}
	w.layout()
}

func (w *Window) onDoubleTap(channel int) {
	if err := w.ctrl.DoubleClick(channel); err != nil {
		w.log.Debug().Err(err).Int("channel", channel).Msg("Double click ignored")
	}
}

// key actions
type action int

const (
	actionNone action = iota
	actionPause
	actionFullscreen
	actionCancel
	actionCopy
)

func actionForKey(name fyne.KeyName) action {
	switch name {
	case fyne.KeySpace:
		return actionPause
	case fyne.KeyF11:
		return actionFullscreen
	case fyne.KeyEscape:
		return actionCancel
	case fyne.KeyC:
		return actionCopy
	default:
		return actionNone
	}
}

func (w *Window) handleKey(name fyne.KeyName) {
	var err error
	switch actionForKey(name) {
	case actionPause:
		err = w.ctrl.TogglePause()
	case actionFullscreen:
		err = w.ctrl.ToggleFullscreen()
	case actionCancel:
		err = w.ctrl.Cancel()
	case actionCopy:
		w.CopyReport()
	}
	if err != nil {
		w.log.Debug().Err(err).Str("key", string(name)).Msg("Key ignored")
	}
}

// CopyReport copies the level report and tells the user.
func (w *Window) CopyReport() {
	if err := w.ctrl.CopyReport(); err != nil {
		dialog.ShowError(err, w.win)
		return
	}
	w.app.SendNotification(fyne.NewNotification("Microphone Levels", "Level report copied to clipboard"))
}

func gridColumns(n int) int {
	if n <= 1 {
		return 1
	}
	if n <= 4 {
		return 2
	}
	return int(math.Ceil(math.Sqrt(float64(n))))
}

func bannerText(f *render.Frame, name func(int) string) string {
	c := f.Comparison
	if !c.Active || c.Loudest < 0 {
		return "No channel above the noise floor"
	}
	return fmt.Sprintf("Loudest: %s", channelTitle(c.Loudest, name(c.Loudest)))
}
