// Package timer provides countdown and interval timers that are advanced by
// polling. Nothing here runs in the background: a timer only fires from
// inside Tick, so the caller's loop decides when actions execute.
package timer

import (
	"sync"
	"time"
)

// Kind selects whether a timer stops after firing.
type Kind uint8

const (
	// OneShot timers fire once and then stop.
	OneShot Kind = iota
	// Repeating timers fire once per elapsed interval until stopped.
	Repeating
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case OneShot:
		return "ONE_SHOT"
	case Repeating:
		return "REPEATING"
	default:
		return "UNKNOWN"
	}
}

// Timer is a polled timer. The zero value is a stopped one-shot timer with no
// interval.
//
// Start, Stop and Tick may be called from different goroutines; a Stop that
// returns before a Tick begins guarantees that Tick does not fire.
type Timer struct {
	mu       sync.Mutex
	kind     Kind
	interval time.Duration
	started  time.Time
	running  bool
	action   func(now time.Time)
}

// New creates a stopped timer. action may be nil, in which case callers rely
// on the return value of Tick.
func New(interval time.Duration, kind Kind, action func(now time.Time)) *Timer {
	return &Timer{
		kind:     kind,
		interval: interval,
		action:   action,
	}
}

// Start arms the timer at now. Starting a running timer restarts it, so
// Elapsed drops back to zero.
func (t *Timer) Start(now time.Time) {
	t.mu.Lock()
	t.started = now
	t.running = true
	t.mu.Unlock()
}

// Stop disarms the timer. It is safe to stop a stopped timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

// SetInterval changes the interval. A running timer keeps its start time, so
// the new interval is measured from the original Start.
func (t *Timer) SetInterval(d time.Duration) {
	t.mu.Lock()
	t.interval = d
	t.mu.Unlock()
}

// Interval returns the configured interval.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Running reports whether the timer is armed.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Elapsed returns the time since the timer was (re)started, or since it last
// fired for repeating timers. It is zero for a stopped timer.
func (t *Timer) Elapsed(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	if d := now.Sub(t.started); d > 0 {
		return d
	}
	return 0
}

// Remaining returns the time left until the next firing, never negative. It
// is zero for a stopped timer.
func (t *Timer) Remaining(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	left := t.interval - now.Sub(t.started)
	if left < 0 {
		return 0
	}
	return left
}

// Tick advances the timer to now and reports whether it fired. A due one-shot
// timer stops before its action runs; a due repeating timer restarts its
// interval at now, so a late poll yields one firing rather than a burst.
func (t *Timer) Tick(now time.Time) bool {
	t.mu.Lock()
	if !t.running || now.Sub(t.started) < t.interval {
		t.mu.Unlock()
		return false
	}
	if t.kind == OneShot {
		t.running = false
	} else {
		t.started = now
	}
	action := t.action
	t.mu.Unlock()

	if action != nil {
		action(now)
	}
	return true
}
