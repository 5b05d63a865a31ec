package pipeline

import "time"

// logLimiter caps how many log lines each reason may emit per window, so a
// flood of bad frames cannot turn into a flood of log lines. Owned by one
// worker goroutine.
type logLimiter struct {
	windowStart  time.Time
	windowSize   time.Duration
	maxPerWindow int
	counts       map[string]int
	suppressed   uint64
}

func newLogLimiter(window time.Duration, maxPerWindow int) *logLimiter {
	if window <= 0 {
		window = 10 * time.Second
	}
	if maxPerWindow <= 0 {
		maxPerWindow = 1
	}
	return &logLimiter{
		windowSize:   window,
		maxPerWindow: maxPerWindow,
		counts:       make(map[string]int),
	}
}

// Allow reports whether a line for reason may be logged at now. When a new
// window starts, the number of lines suppressed in the previous one is
// returned so the caller can mention it.
func (l *logLimiter) Allow(reason string, now time.Time) (ok bool, suppressed uint64) {
	if now.Sub(l.windowStart) >= l.windowSize {
		clear(l.counts)
		l.windowStart = now
		suppressed, l.suppressed = l.suppressed, 0
	}
	l.counts[reason]++
	if l.counts[reason] > l.maxPerWindow {
		l.suppressed++
		return false, suppressed
	}
	return true, suppressed
}
