package usecase

import (
	"sort"
	"sync"
)

// latencyWindow is a fixed-size ring of recent request latencies used to
// report rolling percentiles without unbounded growth.
type latencyWindow struct {
	mu     sync.Mutex
	buf    []float64
	next   int
	filled bool
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 1024
	}
	return &latencyWindow{buf: make([]float64, size)}
}

func (w *latencyWindow) observe(ms float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf[w.next] = ms
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.filled = true
	}
}

// percentiles returns p50, p95 and p99 over the window.
func (w *latencyWindow) percentiles() (p50, p95, p99 float64) {
	w.mu.Lock()
	n := len(w.buf)
	if !w.filled {
		n = w.next
	}
	if n == 0 {
		w.mu.Unlock()
		return 0, 0, 0
	}
	s := make([]float64, n)
	copy(s, w.buf[:n])
	w.mu.Unlock()

	sort.Float64s(s)
	at := func(p float64) float64 {
		idx := int(p * float64(n-1))
		return s[idx]
	}
	return at(0.50), at(0.95), at(0.99)
}
