package tray

import (
	"fmt"
	"net/url"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/driver/desktop"
	"github.com/rs/zerolog"

	"github.com/wvu-ecocar/micviz/internal/logging"
)

// Controls are the display actions reachable from the tray menu.
type Controls interface {
	TogglePause() error
	ToggleFullscreen() error
}

// Dialogs are the window dialogs reachable from the tray menu.
type Dialogs interface {
	ShowSettings()
	ShowDeviceSelection()
	CopyReport()
}

type UI struct {
	app     fyne.App
	desk    desktop.App
	ctrl    Controls
	dialogs Dialogs
	version string
	log     zerolog.Logger

	mu     sync.Mutex
	status string
	label  string

	// Menu items
	menu    *fyne.Menu
	mStatus *fyne.MenuItem
	mPause  *fyne.MenuItem
}

func New(a fyne.App, ctrl Controls, dialogs Dialogs, version string, log zerolog.Logger) *UI {
	u := &UI{
		app:     a,
		ctrl:    ctrl,
		dialogs: dialogs,
		version: version,
		log:     logging.Component(log, "tray"),
	}
	u.status, u.label = "running", statusLabel("running", -1)
	if desk, ok := a.(desktop.App); ok {
		u.desk = desk
	}
	return u
}

// Install puts the menu in the system tray. It reports false when the
// driver has no tray, in which case status updates are only recorded.
func (u *UI) Install(icon fyne.Resource) bool {
	if u.desk == nil {
		u.log.Info().Msg("System tray not supported by this driver")
		return false
	}

	u.mu.Lock()
	u.mStatus = fyne.NewMenuItem(u.label, nil)
	u.mStatus.Disabled = true
	u.mu.Unlock()

	u.mPause = fyne.NewMenuItem("Pause", u.togglePause)
	mFullscreen := fyne.NewMenuItem("Fullscreen", u.toggleFullscreen)
	mSettings := fyne.NewMenuItem("Settings...", u.dialogs.ShowSettings)
	mCopy := fyne.NewMenuItem("Copy Levels", u.dialogs.CopyReport)
	mDevices := fyne.NewMenuItem("Select Microphones...", u.dialogs.ShowDeviceSelection)
	mLogs := fyne.NewMenuItem("Open Logs", u.openLogs)
	mAbout := fyne.NewMenuItem("About", u.showAbout)

	// fyne appends its own Quit item to the tray menu
	u.menu = fyne.NewMenu("Microphone Levels",
		u.mStatus,
		fyne.NewMenuItemSeparator(),
		u.mPause,
		mFullscreen,
		mSettings,
		mCopy,
		mDevices,
		fyne.NewMenuItemSeparator(),
		mLogs,
		mAbout,
	)
	u.desk.SetSystemTrayMenu(u.menu)
	if icon != nil {
		u.desk.SetSystemTrayIcon(icon)
	}
	return true
}

// Status update methods for the app to call
func (u *UI) SetRunning() {
	u.updateStatus("running", -1)
}

func (u *UI) SetPaused() {
	u.updateStatus("paused", -1)
}

func (u *UI) SetNoSignal(channel int) {
	u.updateStatus("no-signal", channel)
}

func (u *UI) SetError() {
	u.updateStatus("error", -1)
}

// Status returns the current status label.
func (u *UI) Status() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.label
}

func (u *UI) togglePause() {
	if err := u.ctrl.TogglePause(); err != nil {
		u.log.Debug().Err(err).Msg("Pause ignored")
	}
}

func (u *UI) toggleFullscreen() {
	if err := u.ctrl.ToggleFullscreen(); err != nil {
		u.log.Debug().Err(err).Msg("Fullscreen ignored")
	}
}

func (u *UI) openLogs() {
	path := logging.Path()
	if err := u.app.OpenURL(&url.URL{Scheme: "file", Path: path}); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open log file")
	}
}

func (u *UI) showAbout() {
	u.app.SendNotification(fyne.NewNotification("Microphone Levels",
		fmt.Sprintf("micviz %s\nLogs: %s", u.version, logging.Path())))
}

// updateStatus records the status and refreshes the tray menu on the UI thread
func (u *UI) updateStatus(status string, channel int) {
	u.mu.Lock()
	if status == u.status && status != "no-signal" {
		u.mu.Unlock()
		return
	}
	u.status = status
	u.label = statusLabel(status, channel)
	label := u.label
	menu, item, pause := u.menu, u.mStatus, u.mPause
	u.mu.Unlock()

	u.log.Debug().Str("status", status).Msg("Tray status")
	if menu == nil {
		return
	}
	fyne.Do(func() {
		item.Label = label
		pause.Label = pauseLabel(status)
		menu.Refresh()
	})
}

func statusLabel(status string, channel int) string {
	text := "Running"
	switch status {
	case "paused":
		text = "Paused"
	case "no-signal":
		text = "No signal"
		if channel >= 0 {
			text = fmt.Sprintf("CH%d no signal", channel+1)
		}
	case "error":
		text = "Capture error"
	}
	return fmt.Sprintf("🎤 %s %s", emojiForStatus(status), text)
}

func pauseLabel(status string) string {
	if status == "paused" {
		return "Resume"
	}
	return "Pause"
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "paused":
		return "🟡" // Yellow - display frozen
	case "no-signal":
		return "🔴" // Red - a channel lost its device
	case "running":
		return "🟢" // Green - visualizing
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to running
	}
}
