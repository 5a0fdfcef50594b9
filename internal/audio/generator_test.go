package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wvu-ecocar/micviz/internal/config"
)

type recordingSink struct {
	mu       sync.Mutex
	blocks   map[int][]Block
	failures map[int]error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{blocks: make(map[int][]Block), failures: make(map[int]error)}
}

func (s *recordingSink) OnBlock(b Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Channel] = append(s.blocks[b.Channel], b)
}

func (s *recordingSink) OnFailure(channel int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[channel] = err
}

func (s *recordingSink) count(channel int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks[channel])
}

func (s *recordingSink) failure(channel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[channel]
}

func assignments(n int) []config.DeviceAssignment {
	out := make([]config.DeviceAssignment, n)
	for i := range out {
		out[i] = config.DeviceAssignment{Channel: i, DeviceID: "generator"}
	}
	return out
}

func TestGeneratorDeliversFixedSizeBlocksInSequence(t *testing.T) {
	gen := NewGenerator(48000, DemoSignals(2))
	gen.Interval = time.Millisecond
	sink := newRecordingSink()

	require.NoError(t, gen.Open(context.Background(), assignments(2), sink))
	require.Eventually(t, func() bool { return sink.count(0) >= 5 && sink.count(1) >= 5 },
		2*time.Second, 5*time.Millisecond)
	require.NoError(t, gen.Close())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for ch := 0; ch < 2; ch++ {
		for i, b := range sink.blocks[ch] {
			assert.Equal(t, ch, b.Channel)
			assert.Equal(t, uint64(i+1), b.Seq)
			assert.Len(t, b.Samples, BlockSize)
			assert.Equal(t, 48000.0, b.SampleRate)
		}
	}
}

func TestGeneratorRejectsSecondOpen(t *testing.T) {
	gen := NewGenerator(48000, nil)
	gen.Interval = time.Millisecond
	sink := newRecordingSink()

	require.NoError(t, gen.Open(context.Background(), assignments(1), sink))
	defer gen.Close()
	assert.Error(t, gen.Open(context.Background(), assignments(1), sink))
}

func TestGeneratorFailureStopsOnlyAffectedChannel(t *testing.T) {
	gen := NewGenerator(48000, DemoSignals(2))
	gen.Interval = time.Millisecond
	sink := newRecordingSink()

	require.NoError(t, gen.Open(context.Background(), assignments(2), sink))
	defer gen.Close()

	gen.Fail(1, errors.New("unplugged"))
	require.Eventually(t, func() bool { return sink.failure(1) != nil }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, sink.failure(1), ErrDeviceFailure)

	stalled := sink.count(1)
	before := sink.count(0)
	require.Eventually(t, func() bool { return sink.count(0) > before+3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, stalled, sink.count(1))
	assert.NoError(t, sink.failure(0))
}

func TestGeneratorStopsOnContextCancel(t *testing.T) {
	gen := NewGenerator(48000, nil)
	gen.Interval = time.Millisecond
	sink := newRecordingSink()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, gen.Open(ctx, assignments(1), sink))
	require.Eventually(t, func() bool { return sink.count(0) > 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, gen.Stop())
	n := sink.count(0)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, sink.count(0))
}
