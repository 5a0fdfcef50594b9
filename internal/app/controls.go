package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/wvu-ecocar/micviz/internal/analyzer"
	"github.com/wvu-ecocar/micviz/internal/config"
	"github.com/wvu-ecocar/micviz/internal/level"
	"github.com/wvu-ecocar/micviz/internal/metrics"
	"github.com/wvu-ecocar/micviz/internal/render"
)

// Keyboard and pointer controls

func (a *App) TogglePause() error {
	return a.fire(render.TogglePause, 0)
}

func (a *App) ToggleFullscreen() error {
	return a.fire(render.ToggleFullscreen, 0)
}

func (a *App) Cancel() error {
	return a.fire(render.Cancel, 0)
}

func (a *App) DoubleClick(channel int) error {
	return a.fire(render.DoubleClick, channel)
}

func (a *App) SettingsOpened() error {
	return a.fire(render.SettingsOpened, 0)
}

func (a *App) SettingsClosed() error {
	return a.fire(render.SettingsClosed, 0)
}

func (a *App) fire(ev render.Event, channel int) error {
	state, err := a.machine.Fire(ev, channel)
	if err != nil {
		a.log.Debug().Err(err).Msg("Ignored control")
		return err
	}
	a.log.Debug().Stringer("event", ev).Stringer("state", state).Msg("Control applied")
	return nil
}

// Settings returns the current display settings. It is called by the render
// loop every cycle.
func (a *App) Settings() config.DisplaySettings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// UpdateSettings applies fn to a copy of the display settings, clamps the
// result, resizes buffers as needed and persists it. The clamped settings
// are returned; the error wraps config.ErrConfigurationInvalid when a value
// had to be clamped, or is the save error.
func (a *App) UpdateSettings(fn func(*config.DisplaySettings)) (config.DisplaySettings, error) {
	a.mu.Lock()
	next := a.settings
	fn(&next)
	next, clampErr := next.Clamp()
	if clampErr != nil {
		a.log.Warn().Err(clampErr).Msg("Display settings out of range")
	}
	prev := a.settings
	a.settings = next
	a.cfg.Display = next
	saveErr := a.cfg.Save()
	a.mu.Unlock()

	a.applySettings(prev, next)

	if saveErr != nil {
		a.log.Error().Err(saveErr).Msg("Failed to save settings")
		return next, fmt.Errorf("save settings: %w", saveErr)
	}
	return next, clampErr
}

// ApplyConfig takes display settings from a config reloaded from disk. The
// file is not written back.
func (a *App) ApplyConfig(c *config.Config) {
	a.mu.Lock()
	next := a.clampSettings(c.Display)
	prev := a.settings
	a.settings = next
	a.cfg.Display = next
	if c.LogLevel != "" {
		a.cfg.LogLevel = c.LogLevel
	}
	a.mu.Unlock()

	if prev != next {
		a.log.Info().Msg("Display settings reloaded from disk")
	}
	a.applySettings(prev, next)
}

func (a *App) clampSettings(d config.DisplaySettings) config.DisplaySettings {
	d, err := d.Clamp()
	if err != nil {
		a.log.Warn().Err(err).Msg("Display settings out of range")
	}
	return d
}

func (a *App) applySettings(prev, next config.DisplaySettings) {
	s := a.session.Load()
	if s == nil {
		return
	}
	if prev.RateMultiplier != next.RateMultiplier {
		s.buffers.SetMultiplier(next.RateMultiplier)
	}
	if prev.TimePlot != next.TimePlot {
		s.buffers.SetTimePlot(next.TimePlot)
	}
	s.scheduler.Wake()
}

// Report renders the current levels as plain text.
func (a *App) Report() (string, error) {
	s := a.session.Load()
	if s == nil {
		return "", ErrNotRunning
	}

	levels := make([]*analyzer.LevelSnapshot, len(s.analyzers))
	for i, an := range s.analyzers {
		levels[i] = an.Snapshot()
	}
	cmp := level.Compare(levels, s.scheduler.NoiseFloor())

	var b strings.Builder
	fmt.Fprintf(&b, "Microphone levels at %s\n", time.Now().Format(time.RFC3339))
	if cmp.Active {
		fmt.Fprintf(&b, "Loudest: CH%d %s (%.1f dB average)\n",
			cmp.Loudest+1, s.names[cmp.Loudest], analyzer.Decibels(cmp.Average))
	} else {
		b.WriteString("Loudest: none above noise floor\n")
	}

	for _, r := range cmp.Ranked {
		l := levels[r.Channel]
		if l.NoSignal {
			fmt.Fprintf(&b, "CH%d %s: NO SIGNAL\n", r.Channel+1, s.names[r.Channel])
			continue
		}
		fmt.Fprintf(&b, "CH%d %s: %.1f dB, avg %.1f dB, peak %.3f\n",
			r.Channel+1, s.names[r.Channel], l.DB, analyzer.Decibels(l.Average), l.Peak)
	}

	totals, err := a.metrics.Totals()
	if err != nil {
		return b.String(), err
	}
	for _, name := range metrics.Names(totals) {
		fmt.Fprintf(&b, "%s %g\n", name, totals[name])
	}
	return b.String(), nil
}

// CopyReport puts Report on the clipboard.
func (a *App) CopyReport() error {
	text, err := a.Report()
	if text == "" {
		return err
	}
	if err != nil {
		a.log.Warn().Err(err).Msg("Level report is missing metrics")
	}
	if err := a.clipboard(text); err != nil {
		a.log.Error().Err(err).Msg("Failed to copy level report")
		return fmt.Errorf("copy report: %w", err)
	}
	a.log.Info().Msg("Copied level report")
	return nil
}
