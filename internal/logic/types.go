// Package logic contains the pure control logic of an access-control unit:
// the mode state machine, the inbound command dispatcher and the input reader.
// This package does no I/O of its own (no GPIO, transport, OS or
// time.Sleep). Time is always injected via time.Time parameters and the lock
// actuator is reached through the Actuator interface.
package logic

import (
	"encoding/hex"
	"time"
)

// Mode is the operating intent asserted by the remote authorization system.
type Mode uint8

const (
	ModeRequiresAuth Mode = iota
	ModePushToUnlock
	ModePermanentlyUnlocked
	ModeAwaitingUpdate
	ModeCheckInStation
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeRequiresAuth:
		return "REQUIRES_AUTH"
	case ModePushToUnlock:
		return "PUSH_TO_UNLOCK"
	case ModePermanentlyUnlocked:
		return "PERMANENTLY_UNLOCKED"
	case ModeAwaitingUpdate:
		return "AWAITING_UPDATE"
	case ModeCheckInStation:
		return "CHECK_IN_STATION"
	default:
		return "UNKNOWN"
	}
}

// State is the controller's complete mutable state. It is a value type; the
// Controller hands out copies.
type State struct {
	Mode              Mode
	Maintenance       bool
	MaintenanceReason string
	// UnitLabel is the human name of the unit; empty means unconfigured.
	UnitLabel   string
	LockEngaged bool
	// UnlockWindow is the duration granted by the latest unlock command. It
	// is zero when no grant is open.
	UnlockWindow      time.Duration
	PendingReportHold bool
	TransientMessage  string
}

// DefaultState is the state a unit boots into: locked, unconfigured and in
// maintenance until the remote side sends a status.
func DefaultState() State {
	return State{
		Mode:        ModeRequiresAuth,
		Maintenance: true,
		LockEngaged: true,
	}
}

// EventType names an outbound event. The value is the transport suffix.
type EventType string

const (
	EventConnected            EventType = "connected"
	EventStarted              EventType = "started"
	EventCardRead             EventType = "card_read"
	EventPushToUnlock         EventType = "push_to_unlock"
	EventButtonReportedBroken EventType = "button_reported_broken"
	EventStateRelocked        EventType = "state_relocked"
	EventReadyForOTA          EventType = "ready_for_ota"
)

// Event is an outbound event to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Payload   string
}

// Directive asks the caller to act on a collaborator the controller does not
// own.
type Directive uint8

const (
	DirectiveNone Directive = iota
	// DirectiveBeginUpdate starts the firmware-update collaborator.
	DirectiveBeginUpdate
	// DirectiveRestart restarts the process. No further transitions follow.
	DirectiveRestart
)

// String returns a human-readable directive name.
func (d Directive) String() string {
	switch d {
	case DirectiveNone:
		return "NONE"
	case DirectiveBeginUpdate:
		return "BEGIN_UPDATE"
	case DirectiveRestart:
		return "RESTART"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the result of one controller step.
type Outcome struct {
	Events    []Event
	Directive Directive
	// Refresh is set when the display should be re-rendered now.
	Refresh bool
}

// Sample is one poll of the local inputs.
type Sample struct {
	ButtonDown bool
	// CardUID is the UID of a card detected since the last poll, or nil.
	CardUID []byte
}

// FormatUID renders a card UID as fixed-width lowercase hex, two digits per
// byte.
func FormatUID(uid []byte) string {
	return hex.EncodeToString(uid)
}

// View is a read-only picture of the controller handed to the display
// presenter.
type View struct {
	UnitID          string
	LocalIP         string
	State           State
	RelockRunning   bool
	RelockRemaining time.Duration
}
