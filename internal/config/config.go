package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Channel and display limits.
const (
	MinChannels = 1
	MaxChannels = 8

	MinGain = 0.0
	MaxGain = 2.0

	MinRateMultiplier = 0.1
	MaxRateMultiplier = 2.0

	MinFPSLockMs = 5
	MaxFPSLockMs = 100

	DefaultChannels  = 4
	DefaultFPSLockMs = 8
)

// Fill policies for logical channels a device cannot supply.
const (
	FillReplicate = "replicate"
	FillZero      = "zero"
)

var (
	// ErrConfigurationInvalid marks settings that were out of range (and clamped)
	// or device assignments that failed validation.
	ErrConfigurationInvalid = errors.New("configuration invalid")

	validate = validator.New(validator.WithRequiredStructEnabled())
)

type Config struct {
	LogLevel    string             `json:"log_level"`
	NumChannels int                `json:"num_channels" validate:"gte=1,lte=8"`
	FillPolicy  string             `json:"fill_policy" validate:"oneof=replicate zero"`
	Devices     []DeviceAssignment `json:"devices" validate:"lte=8,dive"`
	Display     DisplaySettings    `json:"display"`

	path string
}

// DeviceAssignment maps one logical microphone channel onto an input of a device.
type DeviceAssignment struct {
	Channel    int    `json:"channel" validate:"gte=0,lte=7"`
	DeviceID   string `json:"device_id" validate:"max=512"`   // empty = system default input
	DeviceName string `json:"device_name" validate:"max=512"` // display only
	Input      int    `json:"input" validate:"gte=0,lte=63"`  // channel index on the device
}

// DisplaySettings are the user-adjustable render options.
type DisplaySettings struct {
	Gain           float64 `json:"gain"`
	TimePlot       bool    `json:"time_plot"`
	RateMultiplier float64 `json:"rate_multiplier"`
	FPSLockMs      int     `json:"fps_lock_ms"`
	ShowFPS        bool    `json:"show_fps"`
}

// DefaultDisplaySettings returns the settings used when nothing is persisted.
func DefaultDisplaySettings() DisplaySettings {
	return DisplaySettings{
		Gain:           1.0,
		RateMultiplier: 1.0,
		FPSLockMs:      DefaultFPSLockMs,
	}
}

// Default returns a config with no persisted device assignments.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		NumChannels: DefaultChannels,
		FillPolicy:  FillReplicate,
		Display:     DefaultDisplaySettings(),
	}
}

// Load reads the config from disk or returns defaults. An empty path
// selects the platform config location.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	cfg.path = path

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.Path()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the file this config is loaded from and saved to.
func (c *Config) Path() string {
	if c.path == "" {
		return DefaultPath()
	}
	return c.path
}

// SetPath overrides the backing file.
func (c *Config) SetPath(path string) {
	c.path = path
}

// Forget removes the persisted device assignments from disk and memory,
// keeping display settings.
func (c *Config) Forget() error {
	c.Devices = nil
	if err := os.Remove(c.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Validate checks the device assignments. Display settings are not validated
// here; they are clamped with DisplaySettings.Clamp.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrConfigurationInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrConfigurationInvalid, err)
	}

	seen := make(map[int]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Channel >= c.NumChannels {
			return fmt.Errorf("%w: device assignment for channel %d but only %d channels configured",
				ErrConfigurationInvalid, d.Channel, c.NumChannels)
		}
		if seen[d.Channel] {
			return fmt.Errorf("%w: channel %d assigned twice", ErrConfigurationInvalid, d.Channel)
		}
		seen[d.Channel] = true
	}
	return nil
}

// Assignments returns one assignment per configured channel, in channel
// order. Channels without a persisted assignment use the default input.
func (c *Config) Assignments() []DeviceAssignment {
	out := make([]DeviceAssignment, c.NumChannels)
	for i := range out {
		out[i] = DeviceAssignment{Channel: i}
	}
	for _, d := range c.Devices {
		if d.Channel >= 0 && d.Channel < len(out) {
			out[d.Channel] = d
		}
	}
	return out
}

// SetAssignments replaces the persisted assignments and channel count.
func (c *Config) SetAssignments(devices []DeviceAssignment) {
	c.NumChannels = len(devices)
	c.Devices = append([]DeviceAssignment(nil), devices...)
}

// Clamp pulls every field into its valid range. When anything had to be
// changed the returned error wraps ErrConfigurationInvalid and names the
// fields; the returned settings are usable either way.
func (d DisplaySettings) Clamp() (DisplaySettings, error) {
	var fixed []string

	if math.IsNaN(d.Gain) {
		d.Gain = 1.0
		fixed = append(fixed, "gain")
	} else if g := clampFloat(d.Gain, MinGain, MaxGain); g != d.Gain {
		d.Gain = g
		fixed = append(fixed, "gain")
	}

	if math.IsNaN(d.RateMultiplier) {
		d.RateMultiplier = 1.0
		fixed = append(fixed, "rate_multiplier")
	} else if m := clampFloat(d.RateMultiplier, MinRateMultiplier, MaxRateMultiplier); m != d.RateMultiplier {
		d.RateMultiplier = m
		fixed = append(fixed, "rate_multiplier")
	}

	if f := min(max(d.FPSLockMs, MinFPSLockMs), MaxFPSLockMs); f != d.FPSLockMs {
		d.FPSLockMs = f
		fixed = append(fixed, "fps_lock_ms")
	}

	if len(fixed) > 0 {
		return d, fmt.Errorf("%w: clamped %s", ErrConfigurationInvalid, strings.Join(fixed, ", "))
	}
	return d, nil
}

// FrameInterval is the FPS lock as a duration, clamped to its valid range.
func (d DisplaySettings) FrameInterval() time.Duration {
	ms := min(max(d.FPSLockMs, MinFPSLockMs), MaxFPSLockMs)
	return time.Duration(ms) * time.Millisecond
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// DefaultPath returns the platform-specific config file path
func DefaultPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "micviz", "config.json")
}
