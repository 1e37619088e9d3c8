package engine

import (
	"log/slog"
	"sync"
	"time"
)

// overrideTracker records which covers a person has moved and leaves them
// alone until the override duration elapses.
type overrideTracker struct {
	mu     sync.Mutex
	manual map[string]bool
	since  map[string]time.Time

	duration     time.Duration
	timerRestart bool
	threshold    int

	log *slog.Logger
	now func() time.Time
}

func newOverrideTracker(duration time.Duration, timerRestart bool, threshold int, log *slog.Logger) *overrideTracker {
	if duration <= 0 {
		duration = DefaultManualDuration
	}
	return &overrideTracker{
		manual:       make(map[string]bool),
		since:        make(map[string]time.Time),
		duration:     duration,
		timerRestart: timerRestart,
		threshold:    threshold,
		log:          log,
		now:          time.Now,
	}
}

// Observe compares a reported position against the expected one and marks
// the cover manual when they diverge by at least the threshold.
func (o *overrideTracker) Observe(entityID string, reported, expected int) {
	diff := reported - expected
	if diff < 0 {
		diff = -diff
	}
	if diff == 0 {
		return
	}
	if o.threshold > 0 && diff < o.threshold {
		o.log.Debug("position change below manual threshold",
			"entity", entityID, "diff", diff, "threshold", o.threshold)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.manual[entityID] = true
	if _, tracked := o.since[entityID]; !tracked || o.timerRestart {
		o.since[entityID] = o.now()
	}
	o.log.Info("manual override detected",
		"entity", entityID, "expected", expected, "reported", reported,
		"duration", o.duration)
}

// ResetExpired clears overrides older than the configured duration.
func (o *overrideTracker) ResetExpired() {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	for entityID, since := range o.since {
		if now.Sub(since) > o.duration {
			delete(o.since, entityID)
			o.manual[entityID] = false
			o.log.Info("manual override expired", "entity", entityID)
		}
	}
}

// Reset clears an override immediately.
func (o *overrideTracker) Reset(entityID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.manual[entityID] = false
	delete(o.since, entityID)
}

// ResetAll clears every override.
func (o *overrideTracker) ResetAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k := range o.manual {
		o.manual[k] = false
	}
	o.since = make(map[string]time.Time)
}

func (o *overrideTracker) IsManual(entityID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.manual[entityID]
}

// Any reports whether any cover is under manual control.
func (o *overrideTracker) Any() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, v := range o.manual {
		if v {
			return true
		}
	}
	return false
}

// List returns the covers currently under manual control.
func (o *overrideTracker) List() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0)
	for k, v := range o.manual {
		if v {
			out = append(out, k)
		}
	}
	return out
}
