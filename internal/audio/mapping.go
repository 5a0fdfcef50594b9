package audio

import (
	"fmt"

	"github.com/wvu-ecocar/micviz/internal/config"
)

// deinterleave splits an interleaved device buffer into one slice per
// requested device input. Inputs the device does not have are filled per
// policy: FillReplicate copies the device's highest real input, FillZero
// leaves silence. Every returned slice is freshly allocated.
func deinterleave(buf []float32, devChannels, frames int, inputs []int, policy string) [][]float32 {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		samples := make([]float32, frames)
		src := in
		if src >= devChannels {
			if policy == config.FillZero {
				out[i] = samples
				continue
			}
			src = devChannels - 1
		}
		for f := 0; f < frames; f++ {
			samples[f] = buf[f*devChannels+src]
		}
		out[i] = samples
	}
	return out
}

// unmapped returns the requested inputs that a device with devChannels inputs cannot supply.
func unmapped(inputs []int, devChannels int) []int {
	var missing []int
	for _, in := range inputs {
		if in >= devChannels {
			missing = append(missing, in)
		}
	}
	return missing
}

// sampleRateCandidates lists the rates to try, preferred first, without duplicates.
func sampleRateCandidates(preferred float64) []float64 {
	rates := []float64{preferred, 44100, 48000, 96000, 192000}
	out := rates[:0]
	seen := make(map[float64]bool, len(rates))
	for _, r := range rates {
		if r <= 0 || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// deviceIDs names input devices uniquely in enumeration order: the first
// device with a name keeps it as its id, later ones get " #2", " #3", ...
// so identical microphones can be told apart.
func deviceIDs(names []string) []string {
	ids := make([]string, len(names))
	seen := make(map[string]int, len(names))
	for i, name := range names {
		n := seen[name]
		seen[name] = n + 1
		if n == 0 {
			ids[i] = name
		} else {
			ids[i] = fmt.Sprintf("%s #%d", name, n+1)
		}
	}
	return ids
}

// resolveDevice returns the index of the device an assignment refers to, or
// -1. An unknown id falls back to the assignment's device name, but only
// when exactly one device carries that name.
func resolveDevice(a config.DeviceAssignment, ids, names []string) int {
	for i, id := range ids {
		if id == a.DeviceID {
			return i
		}
	}
	if a.DeviceName == "" {
		return -1
	}
	match := -1
	for i, name := range names {
		if name != a.DeviceName {
			continue
		}
		if match >= 0 {
			return -1
		}
		match = i
	}
	return match
}
