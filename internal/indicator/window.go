package indicator

import "github.com/newthinker/tradeflow/internal/core"

// Window is a bounded ring of the most recent candles of one stream.
type Window struct {
	buf   []core.Candle
	start int
	size  int
}

// NewWindow creates a window holding at most capacity candles.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]core.Candle, capacity)}
}

// Push appends a candle, evicting the oldest when full.
func (w *Window) Push(c core.Candle) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = c
		w.size++
		return
	}
	w.buf[w.start] = c
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of buffered candles.
func (w *Window) Len() int { return w.size }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Last returns the newest candle.
func (w *Window) Last() (core.Candle, bool) {
	if w.size == 0 {
		return core.Candle{}, false
	}
	return w.buf[(w.start+w.size-1)%len(w.buf)], true
}

// Candles returns the buffered candles oldest first.
func (w *Window) Candles() []core.Candle {
	out := make([]core.Candle, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}
