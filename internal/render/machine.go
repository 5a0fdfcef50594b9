// Package render owns the display state machine and the frame loop.
package render

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned for events that do not apply in the
// current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Mode is the kind of display state.
type Mode int

const (
	Running Mode = iota
	Paused
	SingleGraphFullscreen
	WindowFullscreen
)

func (m Mode) String() string {
	switch m {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case SingleGraphFullscreen:
		return "single-graph"
	case WindowFullscreen:
		return "fullscreen"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// State is a display state. Channel is meaningful only for
// SingleGraphFullscreen. Resume is the state a Paused display returns to,
// or the fullscreen window a single graph was opened from.
type State struct {
	Mode    Mode
	Channel int
	Resume  *State
}

// Fullscreen reports whether the window itself should cover the screen.
func (s State) Fullscreen() bool {
	switch s.Mode {
	case WindowFullscreen:
		return true
	case SingleGraphFullscreen:
		return s.Resume != nil && s.Resume.Mode == WindowFullscreen
	}
	return false
}

func (s State) String() string {
	switch s.Mode {
	case SingleGraphFullscreen:
		return fmt.Sprintf("%s(%d)", s.Mode, s.Channel)
	case Paused:
		if s.Resume != nil {
			return fmt.Sprintf("paused(%s)", s.Resume)
		}
	}
	return s.Mode.String()
}

// Event is an input to the state machine.
type Event int

const (
	TogglePause Event = iota
	DoubleClick
	Cancel
	ToggleFullscreen
	SettingsOpened
	SettingsClosed
)

func (e Event) String() string {
	switch e {
	case TogglePause:
		return "toggle-pause"
	case DoubleClick:
		return "double-click"
	case Cancel:
		return "cancel"
	case ToggleFullscreen:
		return "toggle-fullscreen"
	case SettingsOpened:
		return "settings-opened"
	case SettingsClosed:
		return "settings-closed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Observer is notified after every state change.
type Observer func(from, to State)

// Machine is the display state machine. It is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     State
	settings  int
	nextID    int
	observers map[int]Observer
}

// NewMachine starts in Running.
func NewMachine() *Machine {
	return &Machine{state: State{Mode: Running}, observers: make(map[int]Observer)}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SettingsOpen reports whether at least one settings dialog is open.
func (m *Machine) SettingsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings > 0
}

// Suppressed reports whether rendering should be skipped.
func (m *Machine) Suppressed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Mode == Paused || m.settings > 0
}

// Observe registers fn for state changes and returns a function that
// removes it again.
func (m *Machine) Observe(fn Observer) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// Fire applies ev. channel is used by DoubleClick only. Observers run on
// the caller's goroutine after the lock is released.
func (m *Machine) Fire(ev Event, channel int) (State, error) {
	m.mu.Lock()
	from := m.state
	to, err := m.next(ev, channel)
	if err != nil {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, from)
	}
	m.state = to
	observers := make([]Observer, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	if !equal(from, to) {
		for _, fn := range observers {
			fn(from, to)
		}
	}
	return to, nil
}

func (m *Machine) next(ev Event, channel int) (State, error) {
	s := m.state

	switch ev {
	case SettingsOpened:
		m.settings++
		return s, nil
	case SettingsClosed:
		if m.settings == 0 {
			return s, ErrInvalidTransition
		}
		m.settings--
		return s, nil
	case TogglePause:
		if s.Mode == Paused {
			if s.Resume == nil {
				return State{Mode: Running}, nil
			}
			return *s.Resume, nil
		}
		prev := s
		return State{Mode: Paused, Resume: &prev}, nil
	}

	// View changes are ignored while paused.
	if s.Mode == Paused {
		return s, ErrInvalidTransition
	}

	switch ev {
	case DoubleClick:
		if channel < 0 {
			return s, ErrInvalidTransition
		}
		switch {
		case s.Mode == Running:
			return State{Mode: SingleGraphFullscreen, Channel: channel}, nil
		case s.Mode == WindowFullscreen:
			prev := s
			return State{Mode: SingleGraphFullscreen, Channel: channel, Resume: &prev}, nil
		case s.Mode == SingleGraphFullscreen && s.Channel == channel:
			if s.Resume != nil {
				return *s.Resume, nil
			}
			return State{Mode: Running}, nil
		case s.Mode == SingleGraphFullscreen:
			return State{Mode: SingleGraphFullscreen, Channel: channel, Resume: s.Resume}, nil
		}
	case Cancel:
		if s.Mode == SingleGraphFullscreen || s.Mode == WindowFullscreen {
			return State{Mode: Running}, nil
		}
	case ToggleFullscreen:
		switch s.Mode {
		case Running:
			return State{Mode: WindowFullscreen}, nil
		case WindowFullscreen, SingleGraphFullscreen:
			return State{Mode: Running}, nil
		}
	}
	return s, ErrInvalidTransition
}

func equal(a, b State) bool {
	if a.Mode != b.Mode || a.Channel != b.Channel {
		return false
	}
	if a.Resume == nil || b.Resume == nil {
		return a.Resume == b.Resume
	}
	return equal(*a.Resume, *b.Resume)
}
