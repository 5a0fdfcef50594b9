package ui

import (
	"errors"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/wvu-ecocar/micviz/internal/config"
)

// ShowSettings opens the display settings dialog. Rendering is paused while
// it is open; confirming applies and persists the values.
func (w *Window) ShowSettings() {
	if err := w.ctrl.SettingsOpened(); err != nil {
		w.log.Warn().Err(err).Msg("Could not open settings")
		return
	}
	current := w.ctrl.Settings()
	draft := current

	gainLabel := widget.NewLabel(formatGain(draft.Gain))
	gain := widget.NewSlider(config.MinGain, config.MaxGain)
	gain.Step = 0.05
	gain.SetValue(draft.Gain)
	gain.OnChanged = func(v float64) {
		draft.Gain = v
		gainLabel.SetText(formatGain(v))
	}

	rateLabel := widget.NewLabel(formatMultiplier(draft.RateMultiplier))
	rate := widget.NewSlider(config.MinRateMultiplier, config.MaxRateMultiplier)
	rate.Step = 0.1
	rate.SetValue(draft.RateMultiplier)
	rate.OnChanged = func(v float64) {
		draft.RateMultiplier = v
		rateLabel.SetText(formatMultiplier(v))
	}
	if !draft.TimePlot {
		rate.Disable()
	}

	timePlot := widget.NewCheck("Time plot (0.3 s window)", func(on bool) {
		draft.TimePlot = on
		if on {
			rate.Enable()
		} else {
			rate.Disable()
		}
	})
	timePlot.SetChecked(draft.TimePlot)

	fpsLabel := widget.NewLabel(formatFPSLock(draft.FPSLockMs))
	fps := widget.NewSlider(config.MinFPSLockMs, config.MaxFPSLockMs)
	fps.Step = 1
	fps.SetValue(float64(draft.FPSLockMs))
	fps.OnChanged = func(v float64) {
		draft.FPSLockMs = int(v)
		fpsLabel.SetText(formatFPSLock(draft.FPSLockMs))
	}

	showFPS := widget.NewCheck("Show FPS", func(on bool) {
		draft.ShowFPS = on
	})
	showFPS.SetChecked(draft.ShowFPS)

	devices := widget.NewButton("Select microphones...", nil)

	form := widget.NewForm(
		widget.NewFormItem("Gain", container.NewBorder(nil, nil, nil, gainLabel, gain)),
		widget.NewFormItem("", timePlot),
		widget.NewFormItem("Time scale", container.NewBorder(nil, nil, nil, rateLabel, rate)),
		widget.NewFormItem("FPS lock", container.NewBorder(nil, nil, nil, fpsLabel, fps)),
		widget.NewFormItem("", showFPS),
	)
	content := container.NewVBox(form, widget.NewSeparator(), devices)

	d := dialog.NewCustomConfirm("Display Settings", "Apply", "Cancel", content, func(ok bool) {
		if !ok {
			return
		}
		if _, err := w.ctrl.UpdateSettings(func(s *config.DisplaySettings) { *s = draft }); err != nil &&
			!errors.Is(err, config.ErrConfigurationInvalid) {
			dialog.ShowError(err, w.win)
		}
	}, w.win)
	d.SetOnClosed(func() {
		if err := w.ctrl.SettingsClosed(); err != nil {
			w.log.Warn().Err(err).Msg("Settings close out of step")
		}
	})
	devices.OnTapped = func() {
		d.Hide()
		w.ShowDeviceSelection()
	}
	d.Resize(fyne.NewSize(460, 0))
	d.Show()
}

func formatGain(v float64) string {
	return fmt.Sprintf("%.2fx", v)
}

func formatMultiplier(v float64) string {
	return fmt.Sprintf("%.1fx", v)
}

func formatFPSLock(ms int) string {
	return fmt.Sprintf("%d ms (%d FPS)", ms, 1000/max(ms, 1))
}
