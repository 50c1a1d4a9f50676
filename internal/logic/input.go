package logic

import (
	"time"

	"github.com/openunitstate/unitd/internal/timer"
)

// DebounceWindow is the quiet period after an accepted button press.
const DebounceWindow = 2000 * time.Millisecond

// InputKind identifies a local input event.
type InputKind uint8

const (
	InputButtonPressed InputKind = iota + 1
	InputCardPresented
)

// InputEvent is a discrete local input.
type InputEvent struct {
	Kind InputKind
	UID  []byte
}

// InputReader turns raw input samples into discrete events. The button is
// level-sampled: holding it produces a new press each time the debounce
// window expires.
type InputReader struct {
	debounce *timer.Timer
}

// NewInputReader creates an InputReader with the standard debounce window.
func NewInputReader() *InputReader {
	return &InputReader{debounce: timer.New(DebounceWindow, timer.OneShot, nil)}
}

// Read processes one sample. When ignoreButton is set the button level is
// not evaluated at all. Card UIDs are always forwarded, without
// de-duplication.
func (r *InputReader) Read(now time.Time, s Sample, ignoreButton bool) []InputEvent {
	r.debounce.Tick(now)

	var events []InputEvent
	if s.ButtonDown && !ignoreButton && !r.debounce.Running() {
		r.debounce.Start(now)
		events = append(events, InputEvent{Kind: InputButtonPressed})
	}
	if len(s.CardUID) > 0 {
		events = append(events, InputEvent{Kind: InputCardPresented, UID: s.CardUID})
	}
	return events
}

// Debouncing reports whether button presses are currently suppressed.
func (r *InputReader) Debouncing() bool {
	return r.debounce.Running()
}
