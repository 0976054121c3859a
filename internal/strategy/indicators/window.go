package indicators

import "altBarsBot/internal/domain"

// Window is a fixed-capacity ring buffer of price points, oldest first.
// Pushing into a full window evicts the oldest point.
type Window struct {
	buf   []domain.PricePoint
	start int
	size  int
}

// NewWindow creates an empty window holding at most capacity points (minimum 1).
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]domain.PricePoint, capacity)}
}

// Push appends a point, evicting the oldest one when the window is full.
func (w *Window) Push(p domain.PricePoint) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = p
		w.size++
		return
	}
	w.buf[w.start] = p
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of points held.
func (w *Window) Len() int { return w.size }

// Cap returns the maximum number of points held.
func (w *Window) Cap() int { return len(w.buf) }

// At returns the i-th point, 0 being the oldest. It panics when i is out of range.
func (w *Window) At(i int) domain.PricePoint {
	if i < 0 || i >= w.size {
		panic("indicators: window index out of range")
	}
	return w.buf[(w.start+i)%len(w.buf)]
}

// Last returns a copy of the newest n points, oldest first. Fewer are returned if the window is shorter.
func (w *Window) Last(n int) []domain.PricePoint {
	if n > w.size {
		n = w.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]domain.PricePoint, n)
	for i := 0; i < n; i++ {
		out[i] = w.At(w.size - n + i)
	}
	return out
}
