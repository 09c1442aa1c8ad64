package circuit

import "time"

type sample struct {
	at      time.Time
	success bool
}

// window is a time-ordered record of outcomes. Entries older than size are
// pruned on every record and every read. Not safe for concurrent use; the
// breaker guards it.
type window struct {
	size    time.Duration
	samples []sample
}

func newWindow(size time.Duration) *window {
	return &window{size: size}
}

func (w *window) record(at time.Time, success bool) {
	w.samples = append(w.samples, sample{at: at, success: success})
	w.prune(at)
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.size)
	i := 0
	for i < len(w.samples) && !w.samples[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// counts returns the number of requests and failures still inside the window.
func (w *window) counts(now time.Time) (total, failures int) {
	w.prune(now)
	for i := range w.samples {
		if !w.samples[i].success {
			failures++
		}
	}
	return len(w.samples), failures
}

func (w *window) reset() {
	w.samples = w.samples[:0]
}

func failureRate(total, failures int) float64 {
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total) * 100
}
