package permissions

import (
	"errors"
	"fmt"
)

// ErrMicrophoneDenied is returned when the OS refuses microphone access.
var ErrMicrophoneDenied = errors.New("microphone permission not granted")

// Status mirrors AVAuthorizationStatus.
type Status int

const (
	NotDetermined Status = iota
	Restricted
	Denied
	Authorized
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not-determined"
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Err maps a status to nil or an error wrapping ErrMicrophoneDenied.
func (s Status) Err() error {
	if s == Authorized {
		return nil
	}
	return fmt.Errorf("%w (%s)", ErrMicrophoneDenied, s)
}

// ensure requests access while the user has not decided yet. The request is
// answered asynchronously, so an undecided status is not reported as denied.
func ensure(status Status, request func()) error {
	if status == NotDetermined {
		request()
		return nil
	}
	return status.Err()
}
