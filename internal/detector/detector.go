// Package detector tracks failed authentication attempts per client
// address in a trailing time window and signals when the window breaches
// the threshold.
//
// State is process-lifetime and in-memory: a restart clears every window.
// The window store is owned by the Detector instance so a shared external
// store can replace it later without changing callers.
package detector

import (
	"sync"
	"time"
)

type Clock func() time.Time

type window struct {
	mu       sync.Mutex
	attempts []time.Time
}

type Detector struct {
	threshold int
	span      time.Duration
	capacity  int
	now       Clock

	mu      sync.Mutex
	windows map[string]*window
}

func New(threshold int, span time.Duration, capacity int, now Clock) *Detector {
	if threshold <= 0 {
		threshold = 5
	}
	if span <= 0 {
		span = 5 * time.Minute
	}
	if capacity <= 0 {
		capacity = 10
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Detector{
		threshold: threshold,
		span:      span,
		capacity:  capacity,
		now:       now,
		windows:   make(map[string]*window),
	}
}

// RecordFailure registers one failed attempt for key and reports whether
// the key is tripped. Attempts older than the window span are evicted
// first; if the survivors already meet the threshold the triggering
// attempt itself is not appended, so a sustained attacker's window count
// plateaus at the threshold while every further failure keeps reporting
// tripped.
func (d *Detector) RecordFailure(key string) bool {
	return d.RecordFailureAt(key, d.now())
}

func (d *Detector) RecordFailureAt(key string, now time.Time) bool {
	w := d.window(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-d.span)
	kept := w.attempts[:0]
	for _, ts := range w.attempts {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.attempts = kept

	if len(w.attempts) >= d.threshold {
		return true
	}
	w.attempts = append(w.attempts, now)
	if len(w.attempts) > d.capacity {
		copy(w.attempts, w.attempts[1:])
		w.attempts = w.attempts[:len(w.attempts)-1]
	}
	return false
}

// RecordSuccess clears the whole window for key unconditionally.
func (d *Detector) RecordSuccess(key string) {
	d.mu.Lock()
	w, ok := d.windows[key]
	d.mu.Unlock()
	if !ok {
		return
	}
	w.mu.Lock()
	w.attempts = w.attempts[:0]
	w.mu.Unlock()
}

// Attempts reports how many failures are currently recorded for key.
func (d *Detector) Attempts(key string) int {
	d.mu.Lock()
	w, ok := d.windows[key]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.attempts)
}

// window returns the per-key state, creating it lazily. The map mutex is
// held only for lookup; each key carries its own lock so distinct keys
// never contend.
func (d *Detector) window(key string) *window {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[key]
	if !ok {
		w = &window{attempts: make([]time.Time, 0, d.capacity)}
		d.windows[key] = w
	}
	return w
}
