package pdr

// Window is a fixed-capacity FIFO of acceleration magnitudes with a running
// sum. The sum always equals the sum of the buffered values as they were
// added and evicted, so the mean is O(1).
type Window struct {
	buf  []float64
	head int // index of the oldest value
	n    int
	sum  float64
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push adds v, evicting the oldest value first when full.
func (w *Window) Push(v float64) {
	if w.n == len(w.buf) {
		w.sum -= w.buf[w.head]
		w.buf[w.head] = v
		w.head = (w.head + 1) % len(w.buf)
		w.sum += v
		return
	}
	w.buf[(w.head+w.n)%len(w.buf)] = v
	w.n++
	w.sum += v
}

func (w *Window) Len() int     { return w.n }
func (w *Window) Cap() int     { return len(w.buf) }
func (w *Window) Sum() float64 { return w.sum }
func (w *Window) Empty() bool  { return w.n == 0 }

// Mean returns 0 for an empty window.
func (w *Window) Mean() float64 {
	if w.n == 0 {
		return 0
	}
	return w.sum / float64(w.n)
}

// Values returns the buffered values, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, w.n)
	for i := range out {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

func (w *Window) Reset() {
	w.head, w.n, w.sum = 0, 0, 0
}
