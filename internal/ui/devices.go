package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/wvu-ecocar/micviz/internal/audio"
	"github.com/wvu-ecocar/micviz/internal/config"
)

const defaultOption = "System default input"

// deviceOption is one selectable device input.
type deviceOption struct {
	Label      string
	DeviceID   string
	DeviceName string
	Input      int
}

// deviceOptions lists every input of every device, system default first.
func deviceOptions(devices []audio.Device) []deviceOption {
	opts := []deviceOption{{Label: defaultOption}}
	for _, d := range devices {
		name := displayName(d)
		if d.Inputs <= 1 {
			opts = append(opts, deviceOption{Label: name, DeviceID: d.ID, DeviceName: name})
			continue
		}
		for in := 0; in < d.Inputs; in++ {
			opts = append(opts, deviceOption{
				Label:      fmt.Sprintf("%s (input %d)", name, in+1),
				DeviceID:   d.ID,
				DeviceName: name,
				Input:      in,
			})
		}
	}
	return opts
}

// displayName tells identical devices apart by their numbered id.
func displayName(d audio.Device) string {
	if d.ID != d.Name && strings.HasPrefix(d.ID, d.Name+" #") {
		return d.ID
	}
	return d.Name
}

// selectionFor returns the option label matching an assignment, falling back
// to the system default when the device is gone.
func selectionFor(a config.DeviceAssignment, opts []deviceOption) string {
	for _, o := range opts {
		if o.DeviceID == a.DeviceID && o.Input == a.Input {
			return o.Label
		}
	}
	return defaultOption
}

// buildAssignments turns per-channel option labels into assignments.
func buildAssignments(selected []string, opts []deviceOption) []config.DeviceAssignment {
	byLabel := make(map[string]deviceOption, len(opts))
	for _, o := range opts {
		byLabel[o.Label] = o
	}
	out := make([]config.DeviceAssignment, len(selected))
	for ch, label := range selected {
		o := byLabel[label]
		out[ch] = config.DeviceAssignment{
			Channel:    ch,
			DeviceID:   o.DeviceID,
			DeviceName: o.DeviceName,
			Input:      o.Input,
		}
	}
	return out
}

// ShowDeviceSelection asks the user which input feeds each channel and
// restarts capture with the choice. When no device is available it offers
// a retry instead; the window stays open either way.
func (w *Window) ShowDeviceSelection() {
	devices, err := w.ctrl.Devices()
	if err != nil {
		w.showRetry(err)
		return
	}
	if err := w.ctrl.SettingsOpened(); err != nil {
		w.log.Warn().Err(err).Msg("Could not open device selection")
		return
	}

	opts := deviceOptions(devices)
	labels := make([]string, len(opts))
	for i, o := range opts {
		labels[i] = o.Label
	}

	current := w.ctrl.Assignments()
	selected := make([]string, config.MaxChannels)
	for ch := range selected {
		selected[ch] = defaultOption
		if ch < len(current) {
			selected[ch] = selectionFor(current[ch], opts)
		}
	}
	count := max(len(current), config.MinChannels)

	rows := container.NewVBox()
	buildRows := func() {
		rows.Objects = nil
		for ch := 0; ch < count; ch++ {
			sel := widget.NewSelect(labels, func(ch int) func(string) {
				return func(s string) { selected[ch] = s }
			}(ch))
			sel.SetSelected(selected[ch])
			rows.Add(container.NewBorder(nil, nil, widget.NewLabel(channelTitle(ch, "")), nil, sel))
		}
		rows.Refresh()
	}
	buildRows()

	counts := make([]string, 0, config.MaxChannels)
	for n := config.MinChannels; n <= config.MaxChannels; n++ {
		counts = append(counts, strconv.Itoa(n))
	}
	countSelect := widget.NewSelect(counts, func(s string) {
		n, err := strconv.Atoi(s)
		if err != nil || n == count {
			return
		}
		count = n
		buildRows()
	})
	countSelect.SetSelected(strconv.Itoa(count))

	forget := widget.NewButton("Forget saved microphones", func() {
		if err := w.ctrl.ForgetDevices(); err != nil {
			dialog.ShowError(err, w.win)
		}
	})

	content := container.NewBorder(
		container.NewBorder(nil, nil, widget.NewLabel("Channels"), nil, countSelect),
		forget, nil, nil,
		container.NewVScroll(rows),
	)

	d := dialog.NewCustomConfirm("Select Microphones", "Start", "Cancel", content, func(ok bool) {
		if !ok {
			return
		}
		assignments := buildAssignments(selected[:count], opts)
		go w.reconfigure(assignments)
	}, w.win)
	d.SetOnClosed(func() {
		if err := w.ctrl.SettingsClosed(); err != nil {
			w.log.Warn().Err(err).Msg("Device selection close out of step")
		}
	})
	d.Resize(fyne.NewSize(520, 480))
	d.Show()
}

func (w *Window) reconfigure(assignments []config.DeviceAssignment) {
	if err := w.ctrl.Reconfigure(w.ctx, assignments); err != nil {
		w.log.Error().Err(err).Msg("Could not start capture with the selected microphones")
		fyne.Do(func() { w.showRetry(err) })
	}
}

// HandleStartError shows the right dialog for a failed session start.
func (w *Window) HandleStartError(err error) {
	if errors.Is(err, config.ErrConfigurationInvalid) {
		dialog.ShowInformation("Microphones",
			"The saved microphone setup is invalid. Please select the microphones again.", w.win)
	}
	w.ShowDeviceSelection()
}

func (w *Window) showRetry(err error) {
	msg := err.Error()
	if errors.Is(err, audio.ErrDeviceUnavailable) {
		msg = "No microphone is available. Connect one and try again."
	}
	label := widget.NewLabel(msg)
	label.Wrapping = fyne.TextWrapWord

	d := dialog.NewCustomConfirm("Microphones", "Retry", "Close", label, func(retry bool) {
		if retry {
			w.ShowDeviceSelection()
		}
	}, w.win)
	d.Resize(fyne.NewSize(420, 0))
	d.Show()
}
