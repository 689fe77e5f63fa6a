package pace

import "time"

// WINDOW is the sliding window over which the instantaneous word rate is
// measured. Word timestamps older than this are evicted on every Update.
const WINDOW = 1800 * time.Millisecond

// SILENCE_THRESHOLD is how long after the last heard word the tracker
// switches from recomputing the rate to decaying the current estimate.
// Decay avoids a visible snap to zero during natural pauses.
const SILENCE_THRESHOLD = 800 * time.Millisecond

// OPTIMAL_WPS is the ideal speaking rate in words per second (~150 WPM).
const OPTIMAL_WPS = 2.5

const (
	decayFactor = 0.92
	outputBias  = 1.1

	// Adaptive smoothing: large jumps are tracked quickly, small noise is
	// damped hard. The tiering is deliberate; changing it changes the felt
	// responsiveness of the display.
	blendFast   = 0.45
	blendMedium = 0.30
	blendSlow   = 0.15
	jumpFast    = 0.3
	jumpMedium  = 0.15
)

// Tracker converts raw word-arrival events into a bounded, smoothed pace
// score in [-1, 1], where 0 is the optimal rate, negative is slow and
// positive is fast. It is pure bookkeeping: no I/O, no goroutines. Callers
// are responsible for serializing access.
type Tracker struct {
	arrivals []time.Time
	smoothed float64
	lastWord time.Time
}

// NewTracker returns a zeroed Tracker.
func NewTracker() *Tracker { return &Tracker{} }

// AddWords records count word arrivals, all stamped at ts. Accepts any
// non-negative count; zero is a no-op.
func (t *Tracker) AddWords(count int, ts time.Time) {
	if count <= 0 {
		return
	}
	for i := 0; i < count; i++ {
		t.arrivals = append(t.arrivals, ts)
	}
	t.lastWord = ts
}

// Update evicts stale arrivals, refreshes the smoothed estimate for the
// given instant and returns the display-ready score.
func (t *Tracker) Update(now time.Time) float64 {
	cutoff := now.Add(-WINDOW)
	keep := t.arrivals[:0]
	for _, ts := range t.arrivals {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	t.arrivals = keep

	if now.Sub(t.lastWord) > SILENCE_THRESHOLD {
		// Pausing: let the estimate drift toward zero instead of
		// recomputing from the emptying window.
		t.smoothed *= decayFactor
		return clamp(t.smoothed * outputBias)
	}

	wps := float64(len(t.arrivals)) / WINDOW.Seconds()
	raw := clamp((wps - OPTIMAL_WPS) / OPTIMAL_WPS)

	jump := raw - t.smoothed
	if jump < 0 {
		jump = -jump
	}
	blend := blendSlow
	switch {
	case jump > jumpFast:
		blend = blendFast
	case jump > jumpMedium:
		blend = blendMedium
	}
	t.smoothed = blend*raw + (1-blend)*t.smoothed

	return clamp(t.smoothed * outputBias)
}

// Reset clears all window state and the smoothed estimate.
func (t *Tracker) Reset() {
	t.arrivals = t.arrivals[:0]
	t.smoothed = 0
	t.lastWord = time.Time{}
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
