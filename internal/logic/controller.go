package logic

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/openunitstate/unitd/internal/timer"
)

// Timer intervals.
const (
	ReportHoldWindow    = 3000 * time.Millisecond
	TransientMessageTTL = 5100 * time.Millisecond
	RefreshInterval     = 1000 * time.Millisecond
)

// Actuator drives the lock. Both calls must be idempotent.
type Actuator interface {
	// Engage secures the unit.
	Engage() error
	// Release opens the unit.
	Release() error
}

// Controller is the unit's mode state machine. It owns the state and every
// timer; callers drive it from a single loop through HandleMessage,
// HandleInput and Tick. It is not safe for concurrent use.
type Controller struct {
	unitID   string
	localIP  string
	state    State
	actuator Actuator
	log      zerolog.Logger

	input      *InputReader
	relock     *timer.Timer
	reportHold *timer.Timer
	transient  *timer.Timer
	refresh    *timer.Timer

	buttonDown bool
	pending    []Event
}

// NewController creates a controller in the default state and engages the
// lock. The display refresh timer starts at now.
func NewController(unitID string, actuator Actuator, logger zerolog.Logger, now time.Time) *Controller {
	c := &Controller{
		unitID:   unitID,
		state:    DefaultState(),
		actuator: actuator,
		log:      logger.With().Str("unit", unitID).Logger(),
		input:    NewInputReader(),
	}
	c.relock = timer.New(0, timer.OneShot, c.relockExpired)
	c.reportHold = timer.New(ReportHoldWindow, timer.OneShot, c.reportHoldExpired)
	c.transient = timer.New(TransientMessageTTL, timer.OneShot, c.transientExpired)
	c.refresh = timer.New(RefreshInterval, timer.Repeating, nil)

	c.lock()
	c.refresh.Start(now)
	return c
}

// UnitID returns the stable unit identifier.
func (c *Controller) UnitID() string {
	return c.unitID
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	return c.state
}

// SetLocalIP records the address reported by the network collaborator.
func (c *Controller) SetLocalIP(ip string) {
	c.localIP = ip
}

// RelockRunning reports whether an unlock grant is open.
func (c *Controller) RelockRunning() bool {
	return c.relock.Running()
}

// View returns what the display presenter needs at now.
func (c *Controller) View(now time.Time) View {
	return View{
		UnitID:          c.unitID,
		LocalIP:         c.localIP,
		State:           c.state,
		RelockRunning:   c.relock.Running(),
		RelockRemaining: c.relock.Remaining(now),
	}
}

// StopRefresh halts display refreshes, used while a terminal notice is shown.
func (c *Controller) StopRefresh() {
	c.refresh.Stop()
}

// HandleMessage parses and applies one inbound message. Unknown suffixes and
// malformed unlock durations are returned as errors and leave the state
// untouched.
func (c *Controller) HandleMessage(suffix string, payload []byte, now time.Time) (Outcome, error) {
	cmd, err := ParseCommand(suffix, payload)
	if err != nil {
		return Outcome{}, err
	}
	return c.Dispatch(cmd, now), nil
}

// Dispatch applies a parsed command.
func (c *Controller) Dispatch(cmd Command, now time.Time) Outcome {
	switch cmd.Kind {
	case CommandConfigName:
		c.state.UnitLabel = cmd.Text
		return Outcome{Refresh: true}

	case CommandMaintenanceReason:
		c.state.MaintenanceReason = cmd.Text
		return Outcome{Refresh: true}

	case CommandQuickDisplayMessage:
		c.state.TransientMessage = cmd.Text
		c.transient.Start(now)
		return Outcome{}

	case CommandConfigStatus:
		return c.applyStatus(cmd, now)

	case CommandUnlockedTime:
		if c.state.Mode == ModePermanentlyUnlocked {
			c.log.Warn().Dur("window", cmd.Duration).Msg("unlocked_time ignored: unit is permanently unlocked")
			return Outcome{}
		}
		c.state.UnlockWindow = cmd.Duration
		c.relock.SetInterval(cmd.Duration)
		c.relock.Start(now)
		c.unlock()
		return Outcome{}

	case CommandReset:
		return Outcome{Directive: DirectiveRestart}
	}

	c.log.Error().Uint8("kind", uint8(cmd.Kind)).Msg("dispatch of unknown command kind")
	return Outcome{}
}

func (c *Controller) applyStatus(cmd Command, now time.Time) Outcome {
	switch cmd.Status {
	case StatusRequiresAuth, StatusPushToUnlock:
		c.state.Maintenance = false
		if cmd.Status == StatusRequiresAuth {
			c.state.Mode = ModeRequiresAuth
		} else {
			c.state.Mode = ModePushToUnlock
		}
		if !c.relock.Running() {
			c.lock()
		}
		return Outcome{Refresh: true}

	case StatusPermanentlyUnlocked:
		c.state.Maintenance = false
		c.state.Mode = ModePermanentlyUnlocked
		c.cancelGrant()
		c.unlock()
		return Outcome{Refresh: true}

	case StatusMaintenance:
		c.state.Maintenance = true
		c.cancelGrant()
		c.lock()
		return Outcome{Refresh: true}

	case StatusAwaitingUpdate:
		c.state.Maintenance = true
		c.state.Mode = ModeAwaitingUpdate
		c.cancelGrant()
		c.lock()
		return Outcome{
			Events:    []Event{c.event(now, EventReadyForOTA, c.unitID)},
			Directive: DirectiveBeginUpdate,
			Refresh:   true,
		}

	case StatusCheckInStation:
		c.state.Mode = ModeCheckInStation
		return Outcome{Refresh: true}
	}

	// Unrecognized codes fail safe.
	c.log.Warn().Str("code", cmd.Text).Msg("status code not implemented, entering maintenance")
	c.state.Maintenance = true
	c.cancelGrant()
	c.lock()
	return Outcome{Refresh: true}
}

// HandleInput processes one poll of the button and card reader.
func (c *Controller) HandleInput(now time.Time, s Sample) []Event {
	c.buttonDown = s.ButtonDown

	var events []Event
	for _, in := range c.input.Read(now, s, c.state.PendingReportHold) {
		switch in.Kind {
		case InputButtonPressed:
			events = append(events, c.buttonPressed(now)...)
		case InputCardPresented:
			events = append(events, c.event(now, EventCardRead, FormatUID(in.UID)))
		}
	}
	return events
}

func (c *Controller) buttonPressed(now time.Time) []Event {
	switch {
	case c.relock.Running():
		c.relock.Stop()
		return []Event{c.relockNow(now)}
	case c.state.Mode == ModePushToUnlock:
		return []Event{c.event(now, EventPushToUnlock, c.unitID)}
	case c.state.Maintenance:
		return nil
	default:
		c.state.PendingReportHold = true
		c.reportHold.Start(now)
		return nil
	}
}

// Tick advances every controller timer. Refresh is set when the display
// refresh interval elapsed.
func (c *Controller) Tick(now time.Time) Outcome {
	c.pending = nil
	c.relock.Tick(now)
	c.reportHold.Tick(now)
	c.transient.Tick(now)
	refresh := c.refresh.Tick(now)

	out := Outcome{Events: c.pending, Refresh: refresh}
	c.pending = nil
	return out
}

func (c *Controller) relockExpired(now time.Time) {
	c.pending = append(c.pending, c.relockNow(now))
}

func (c *Controller) reportHoldExpired(now time.Time) {
	if c.buttonDown {
		c.log.Info().Msg("unit reported broken")
		c.pending = append(c.pending, c.event(now, EventButtonReportedBroken, c.unitID))
	}
	c.state.PendingReportHold = false
}

func (c *Controller) transientExpired(time.Time) {
	c.state.TransientMessage = ""
}

// relockNow secures the unit at the end of a grant. The relock timer must
// already be stopped.
func (c *Controller) relockNow(now time.Time) Event {
	c.state.UnlockWindow = 0
	c.lock()
	return c.event(now, EventStateRelocked, c.unitID)
}

func (c *Controller) cancelGrant() {
	c.relock.Stop()
	c.state.UnlockWindow = 0
}

func (c *Controller) lock() {
	c.state.LockEngaged = true
	if err := c.actuator.Engage(); err != nil {
		c.log.Error().Err(err).Msg("engage lock")
	}
}

func (c *Controller) unlock() {
	c.state.LockEngaged = false
	if err := c.actuator.Release(); err != nil {
		c.log.Error().Err(err).Msg("release lock")
	}
}

func (c *Controller) event(now time.Time, t EventType, payload string) Event {
	return Event{Timestamp: now, Type: t, Payload: payload}
}

// IsUnknownCommand reports whether err came from an unrecognized suffix.
func IsUnknownCommand(err error) bool {
	return errors.Is(err, ErrUnknownCommand)
}
