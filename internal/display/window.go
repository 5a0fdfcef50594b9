package display

// Window is an immutable view of a Ring at one point in time, oldest sample
// first. It stays valid and unchanged however much the ring is written
// afterwards.
type Window struct {
	chunks [][]float32
	skip   int
	length int
}

// Len returns the number of samples in the window.
func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	return w.length
}

// At returns sample i, where 0 is the oldest.
func (w *Window) At(i int) float32 {
	i += w.skip
	for _, c := range w.chunks {
		if i < len(c) {
			return c[i]
		}
		i -= len(c)
	}
	panic("display: window index out of range")
}

// CopyTo copies the oldest min(len(dst), Len()) samples into dst and returns
// the count.
func (w *Window) CopyTo(dst []float32) int {
	return w.copyFrom(0, dst)
}

// Tail appends the newest n samples (fewer if the window is shorter) to
// dst[:0] and returns it.
func (w *Window) Tail(n int, dst []float32) []float32 {
	n = min(max(n, 0), w.Len())
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	w.copyFrom(w.Len()-n, dst)
	return dst
}

// Peak returns the largest absolute sample value in the window.
func (w *Window) Peak() float32 {
	return w.TailPeak(w.Len())
}

// TailPeak returns the largest absolute value among the newest n samples.
func (w *Window) TailPeak(n int) float32 {
	n = min(max(n, 0), w.Len())
	var peak float32
	w.each(w.Len()-n, n, func(s []float32) {
		for _, v := range s {
			if v < 0 {
				v = -v
			}
			peak = max(peak, v)
		}
	})
	return peak
}

func (w *Window) copyFrom(start int, dst []float32) int {
	n := min(len(dst), w.Len()-start)
	if n <= 0 {
		return 0
	}
	off := 0
	w.each(start, n, func(s []float32) {
		off += copy(dst[off:], s)
	})
	return n
}

// each calls fn with consecutive sub-slices covering samples [start, start+n).
func (w *Window) each(start, n int, fn func([]float32)) {
	if w == nil || n <= 0 {
		return
	}
	pos := start + w.skip
	for _, c := range w.chunks {
		if n == 0 {
			return
		}
		if pos >= len(c) {
			pos -= len(c)
			continue
		}
		end := min(len(c), pos+n)
		fn(c[pos:end])
		n -= end - pos
		pos = 0
	}
}
