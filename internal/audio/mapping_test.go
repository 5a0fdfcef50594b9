package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wvu-ecocar/micviz/internal/config"
)

func TestDeinterleaveMono(t *testing.T) {
	input := []float32{0.1, 0.2, 0.3, 0.4}
	got := deinterleave(input, 1, len(input), []int{0}, config.FillReplicate)

	require.Len(t, got, 1)
	assert.Equal(t, input, got[0])

	if &got[0][0] == &input[0] {
		t.Fatal("expected mono result to be copied into a new slice")
	}
}

func TestDeinterleaveStereo(t *testing.T) {
	frames := 4
	input := []float32{
		0.0, 1.0,
		0.5, 0.5,
		1.0, 0.0,
		-0.5, 0.5,
	}

	got := deinterleave(input, 2, frames, []int{1, 0}, config.FillReplicate)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{1.0, 0.5, 0.0, 0.5}, got[0])
	assert.Equal(t, []float32{0.0, 0.5, 1.0, -0.5}, got[1])
}

func TestDeinterleaveFillsMissingInputs(t *testing.T) {
	frames := 2
	input := []float32{
		1, 3,
		2, 4,
	}

	tests := []struct {
		name   string
		policy string
		want   []float32
	}{
		{"replicate copies last real input", config.FillReplicate, []float32{3, 4}},
		{"zero fills silence", config.FillZero, []float32{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deinterleave(input, 2, frames, []int{0, 5}, tt.policy)
			require.Len(t, got, 2)
			assert.Equal(t, []float32{1, 2}, got[0])
			assert.Equal(t, tt.want, got[1])
		})
	}
}

func TestUnmapped(t *testing.T) {
	assert.Empty(t, unmapped([]int{0, 1}, 2))
	assert.Equal(t, []int{2, 3}, unmapped([]int{0, 2, 3}, 2))
}

func TestSampleRateCandidates(t *testing.T) {
	assert.Equal(t, []float64{48000, 44100, 96000, 192000}, sampleRateCandidates(48000))
	assert.Equal(t, []float64{22050, 44100, 48000, 96000, 192000}, sampleRateCandidates(22050))
	assert.Equal(t, []float64{44100, 48000, 96000, 192000}, sampleRateCandidates(0))
}

func TestDeviceIDsSeparateIdenticalNames(t *testing.T) {
	ids := deviceIDs([]string{"USB Audio", "Built-in Microphone", "USB Audio", "USB Audio"})
	assert.Equal(t, []string{"USB Audio", "Built-in Microphone", "USB Audio #2", "USB Audio #3"}, ids)
}

func TestResolveDevice(t *testing.T) {
	names := []string{"USB Audio", "Built-in Microphone", "USB Audio"}
	ids := deviceIDs(names)

	tests := []struct {
		name       string
		assignment config.DeviceAssignment
		want       int
	}{
		{"first of two identical mics", config.DeviceAssignment{DeviceID: "USB Audio"}, 0},
		{"second of two identical mics", config.DeviceAssignment{DeviceID: "USB Audio #2"}, 2},
		{"unique device", config.DeviceAssignment{DeviceID: "Built-in Microphone"}, 1},
		{"stale id falls back to unique name", config.DeviceAssignment{DeviceID: "hw:1", DeviceName: "Built-in Microphone"}, 1},
		{"stale id with ambiguous name", config.DeviceAssignment{DeviceID: "hw:1", DeviceName: "USB Audio"}, -1},
		{"unknown device", config.DeviceAssignment{DeviceID: "USB Audio #3"}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveDevice(tt.assignment, ids, names))
		})
	}
}
