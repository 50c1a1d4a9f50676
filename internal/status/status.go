// Package status provides a thread-safe status tracker for the unitd daemon.
// It is written by the main loop and read by HTTP handlers and metrics.
package status

import (
	"strings"
	"sync"
	"time"

	"github.com/openunitstate/unitd/internal/logic"
	"github.com/openunitstate/unitd/internal/network"
)

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	Transport   string
	Broker      string
	TopicPrefix string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	UnitID             string
	Version            string
	State              logic.State
	RelockRunning      bool
	RelockRemaining    time.Duration
	Display            [2]string
	Counts             map[logic.EventType]int
	StartTime          time.Time
	Now                time.Time
	TransportConnected bool
	Pending            int
	LocalIP            string
	Network            *network.Info
	Config             Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given identity, start time and
// config.
func NewTracker(unitID, version string, startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			UnitID:    unitID,
			Version:   version,
			State:     logic.DefaultState(),
			Counts:    make(map[logic.EventType]int),
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update copies the controller view. Called from runLoop on every tick.
func (t *Tracker) Update(v logic.View) {
	t.mu.Lock()
	t.snap.State = v.State
	t.snap.RelockRunning = v.RelockRunning
	t.snap.RelockRemaining = v.RelockRemaining
	t.snap.LocalIP = v.LocalIP
	t.mu.Unlock()
}

// SetDisplay records the text currently on the display.
func (t *Tracker) SetDisplay(line1, line2 string) {
	t.mu.Lock()
	t.snap.Display = [2]string{strings.TrimRight(line1, " "), strings.TrimRight(line2, " ")}
	t.mu.Unlock()
}

// CountEvents adds published events to the per-type counters.
func (t *Tracker) CountEvents(events []logic.Event) {
	if len(events) == 0 {
		return
	}
	t.mu.Lock()
	for _, e := range events {
		t.snap.Counts[e.Type]++
	}
	t.mu.Unlock()
}

// SetTransport sets the broker connection status and buffered event count.
func (t *Tracker) SetTransport(connected bool, pending int) {
	t.mu.Lock()
	t.snap.TransportConnected = connected
	t.snap.Pending = pending
	t.mu.Unlock()
}

// SetNetwork sets the pi-helper network info.
func (t *Tracker) SetNetwork(info *network.Info) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Counts = make(map[logic.EventType]int, len(t.snap.Counts))
	for k, v := range t.snap.Counts {
		s.Counts[k] = v
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
