package audio

import (
	"context"
	"errors"

	"github.com/wvu-ecocar/micviz/internal/config"
)

// BlockSize is the number of samples per channel delivered in one Block.
const BlockSize = 512

var (
	// ErrDeviceUnavailable is returned when no input device can be found.
	ErrDeviceUnavailable = errors.New("no audio input devices available")
	// ErrDeviceFailure is reported when a device stops delivering audio mid-session.
	ErrDeviceFailure = errors.New("audio device failure")
)

// Block is one fixed-size batch of samples for a single logical channel.
// Samples must not be modified after the block is handed to a Sink.
type Block struct {
	Channel    int
	Seq        uint64
	SampleRate float64
	Samples    []float32
}

// Sink receives captured blocks and failures. Both methods are called on a
// capture goroutine and must return quickly.
type Sink interface {
	OnBlock(b Block)
	OnFailure(channel int, err error)
}

// Source defines the interface for audio capture
type Source interface {
	Devices() ([]Device, error)
	// Open starts capture for the given assignments and returns once every
	// device is streaming. Capture stops when ctx is cancelled or Stop is called.
	Open(ctx context.Context, assignments []config.DeviceAssignment, sink Sink) error
	// Stop ends capture and waits until every device is released. The source
	// can be opened again afterwards.
	Stop() error
	// Close stops capture and shuts the audio subsystem down.
	Close() error
}

// Device represents an audio input device
type Device struct {
	ID                string
	Name              string
	Inputs            int
	DefaultSampleRate float64
	Default           bool
}
