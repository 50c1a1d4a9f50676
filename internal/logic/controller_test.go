package logic

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeActuator struct {
	engaged  bool
	engages  int
	releases int
	err      error
}

func (f *fakeActuator) Engage() error {
	f.engaged = true
	f.engages++
	return f.err
}

func (f *fakeActuator) Release() error {
	f.engaged = false
	f.releases++
	return f.err
}

func newTestController(t *testing.T) (*Controller, *fakeActuator) {
	t.Helper()
	act := &fakeActuator{}
	c := NewController("a1b2c3", act, zerolog.Nop(), start)
	return c, act
}

func send(t *testing.T, c *Controller, suffix, payload string, now time.Time) Outcome {
	t.Helper()
	out, err := c.HandleMessage(suffix, []byte(payload), now)
	require.NoError(t, err)
	return out
}

// tickFor polls the controller every 100ms from 'from' for d, collecting
// events. The button is held down when held is true.
func tickFor(c *Controller, from time.Time, d time.Duration, held bool) ([]Event, time.Time) {
	var events []Event
	now := from
	for elapsed := time.Duration(0); elapsed < d; elapsed += 100 * time.Millisecond {
		now = now.Add(100 * time.Millisecond)
		events = append(events, c.HandleInput(now, Sample{ButtonDown: held})...)
		events = append(events, c.Tick(now).Events...)
	}
	return events, now
}

func countType(events []Event, typ EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestNewControllerDefaults(t *testing.T) {
	c, act := newTestController(t)

	st := c.State()
	assert.Equal(t, ModeRequiresAuth, st.Mode)
	assert.True(t, st.Maintenance)
	assert.True(t, st.LockEngaged)
	assert.Empty(t, st.UnitLabel)
	assert.Empty(t, st.MaintenanceReason)
	assert.True(t, act.engaged, "boot must engage the lock")
	assert.False(t, c.RelockRunning())
	assert.Equal(t, "a1b2c3", c.UnitID())
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		code        string
		mode        Mode
		maintenance bool
		locked      bool
	}{
		{"5", ModeRequiresAuth, false, true},
		{"2", ModePushToUnlock, false, true},
		{"0", ModePermanentlyUnlocked, false, false},
		{"-1", ModeRequiresAuth, true, true},
		{"-2", ModeAwaitingUpdate, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c, act := newTestController(t)
			send(t, c, "config_status", tt.code, start)

			st := c.State()
			assert.Equal(t, tt.mode, st.Mode)
			assert.Equal(t, tt.maintenance, st.Maintenance)
			assert.Equal(t, tt.locked, st.LockEngaged)
			assert.Equal(t, tt.locked, act.engaged)
		})
	}
}

func TestStatusCheckInKeepsMaintenance(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "config_status", "-3", start)
	assert.Equal(t, ModeCheckInStation, c.State().Mode)
	assert.True(t, c.State().Maintenance, "boot maintenance flag must survive -3")

	send(t, c, "config_status", "5", start)
	send(t, c, "config_status", "-3", start)
	assert.Equal(t, ModeCheckInStation, c.State().Mode)
	assert.False(t, c.State().Maintenance)
}

func TestUnknownStatusFailsSafe(t *testing.T) {
	for _, code := range []string{"9", "-", "-7", "x", "", "\x00"} {
		t.Run(code, func(t *testing.T) {
			c, act := newTestController(t)
			send(t, c, "config_status", "2", start)
			send(t, c, "unlocked_time", "60000", start)
			require.False(t, act.engaged)

			send(t, c, "config_status", code, start)
			st := c.State()
			assert.True(t, st.Maintenance)
			assert.Equal(t, ModePushToUnlock, st.Mode, "mode must be unchanged")
			assert.True(t, st.LockEngaged)
			assert.True(t, act.engaged)
			assert.False(t, c.RelockRunning())
		})
	}
}

func TestAwaitingUpdateEmitsReadyAndBeginsUpdate(t *testing.T) {
	c, _ := newTestController(t)
	out := send(t, c, "config_status", "-2", start)

	require.Len(t, out.Events, 1)
	assert.Equal(t, EventReadyForOTA, out.Events[0].Type)
	assert.Equal(t, "a1b2c3", out.Events[0].Payload)
	assert.Equal(t, DirectiveBeginUpdate, out.Directive)
}

func TestStatusIsIdempotent(t *testing.T) {
	for _, code := range []string{"5", "2", "0", "-1", "-2", "-3", "zz"} {
		once, _ := newTestController(t)
		twice, _ := newTestController(t)

		send(t, once, "config_status", code, start)
		send(t, twice, "config_status", code, start)
		send(t, twice, "config_status", code, start)
		send(t, twice, "config_status", code, start)

		assert.Equal(t, once.State(), twice.State(), "code %q", code)
	}
}

func TestRequiresAuthDoesNotLockDuringGrant(t *testing.T) {
	c, act := newTestController(t)
	send(t, c, "config_status", "5", start)
	send(t, c, "unlocked_time", "10000", start)
	require.False(t, act.engaged)

	send(t, c, "config_status", "5", start.Add(time.Second))
	assert.False(t, c.State().LockEngaged, "open grant must survive a status refresh")
	assert.True(t, c.RelockRunning())

	send(t, c, "config_status", "2", start.Add(2*time.Second))
	assert.False(t, c.State().LockEngaged)
	assert.Equal(t, ModePushToUnlock, c.State().Mode)
}

func TestUnlockedTimeRelocksOnce(t *testing.T) {
	c, act := newTestController(t)
	send(t, c, "config_status", "5", start)
	send(t, c, "unlocked_time", "10000", start)

	assert.False(t, c.State().LockEngaged)
	assert.False(t, act.engaged)
	assert.Equal(t, 10*time.Second, c.State().UnlockWindow)
	assert.True(t, c.RelockRunning())

	events, now := tickFor(c, start, 9900*time.Millisecond, false)
	assert.Zero(t, countType(events, EventStateRelocked))
	assert.False(t, c.State().LockEngaged)

	events, now = tickFor(c, now, 100*time.Millisecond, false)
	assert.Equal(t, 1, countType(events, EventStateRelocked))
	assert.True(t, c.State().LockEngaged)
	assert.True(t, act.engaged)
	assert.Zero(t, c.State().UnlockWindow)
	assert.Equal(t, ModeRequiresAuth, c.State().Mode, "relock must not change mode")

	events, _ = tickFor(c, now, time.Minute, false)
	assert.Zero(t, countType(events, EventStateRelocked))
}

func TestUnlockedTimeIgnoredWhenPermanentlyUnlocked(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "config_status", "0", start)
	before := c.State()

	out := send(t, c, "unlocked_time", "10000", start)
	assert.Empty(t, out.Events)
	assert.Equal(t, before, c.State())
	assert.False(t, c.RelockRunning())
}

func TestUnlockedTimeRearmResetsWindow(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "config_status", "5", start)
	send(t, c, "unlocked_time", "5000", start)

	_, now := tickFor(c, start, 4*time.Second, false)
	send(t, c, "unlocked_time", "5000", now)

	events, _ := tickFor(c, now, 4900*time.Millisecond, false)
	assert.Zero(t, countType(events, EventStateRelocked))
	assert.False(t, c.State().LockEngaged)
}

func TestMalformedUnlockedTimeIsNoOp(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "config_status", "5", start)
	before := c.State()

	_, err := c.HandleMessage("unlocked_time", []byte("soon"), start)
	assert.ErrorIs(t, err, ErrInvalidDuration)
	assert.Equal(t, before, c.State())
	assert.False(t, c.RelockRunning())
}

func TestUnknownSuffix(t *testing.T) {
	c, _ := newTestController(t)
	before := c.State()

	_, err := c.HandleMessage("open_sesame", []byte("1"), start)
	require.Error(t, err)
	assert.True(t, IsUnknownCommand(err))
	assert.Equal(t, before, c.State())
}

func TestPermanentUnlockCancelsGrant(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "config_status", "5", start)
	send(t, c, "unlocked_time", "10000", start)

	send(t, c, "config_status", "0", start.Add(time.Second))
	assert.False(t, c.RelockRunning())
	assert.False(t, c.State().LockEngaged)

	events, _ := tickFor(c, start.Add(time.Second), 20*time.Second, false)
	assert.Zero(t, countType(events, EventStateRelocked))
	assert.False(t, c.State().LockEngaged)
}

func TestMaintenanceLocksAndCancelsGrant(t *testing.T) {
	c, act := newTestController(t)
	send(t, c, "config_status", "5", start)
	send(t, c, "unlocked_time", "10000", start)

	send(t, c, "config_status", "-1", start)
	assert.True(t, act.engaged)
	assert.False(t, c.RelockRunning())
	assert.Zero(t, c.State().UnlockWindow)
}

func TestConfigAndReasonRequestRefresh(t *testing.T) {
	c, _ := newTestController(t)

	out := send(t, c, "config_name", "Laser Cutter", start)
	assert.True(t, out.Refresh)
	assert.Equal(t, "Laser Cutter", c.State().UnitLabel)

	out = send(t, c, "config_maintenance_long_reason", "Lens broken\x00\x00", start)
	assert.True(t, out.Refresh)
	assert.Equal(t, "Lens broken", c.State().MaintenanceReason, "NULs must be stripped")
}

func TestResetRequestsRestart(t *testing.T) {
	c, _ := newTestController(t)
	before := c.State()
	out := send(t, c, "reset", "", start)
	assert.Equal(t, DirectiveRestart, out.Directive)
	assert.Equal(t, before, c.State())
}

func TestTransientMessageExpires(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "quick_display_msg", "Welcome!", start)
	assert.Equal(t, "Welcome!", c.State().TransientMessage)

	_, now := tickFor(c, start, 5000*time.Millisecond, false)
	assert.Equal(t, "Welcome!", c.State().TransientMessage, "visible for at least 5000ms")

	_, _ = tickFor(c, now, 200*time.Millisecond, false)
	assert.Empty(t, c.State().TransientMessage, "cleared before 5200ms")
}

func TestTransientMessageRearm(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "quick_display_msg", "one", start)
	_, now := tickFor(c, start, 4*time.Second, false)
	send(t, c, "quick_display_msg", "two", now)

	_, _ = tickFor(c, now, 4*time.Second, false)
	assert.Equal(t, "two", c.State().TransientMessage)
}

func TestButtonEarlyRelock(t *testing.T) {
	c, act := newTestController(t)
	send(t, c, "config_status", "5", start)
	send(t, c, "unlocked_time", "60000", start)

	now := start.Add(time.Second)
	events := c.HandleInput(now, Sample{ButtonDown: true})
	require.Len(t, events, 1)
	assert.Equal(t, EventStateRelocked, events[0].Type)
	assert.True(t, act.engaged)
	assert.False(t, c.RelockRunning())

	more, _ := tickFor(c, now, 2*time.Minute, false)
	assert.Zero(t, countType(more, EventStateRelocked), "cancelled timer must not fire")
}

func TestButtonPushToUnlock(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "config_status", "2", start)

	events := c.HandleInput(start, Sample{ButtonDown: true})
	require.Len(t, events, 1)
	assert.Equal(t, EventPushToUnlock, events[0].Type)
	assert.Equal(t, "a1b2c3", events[0].Payload)
	assert.True(t, c.State().LockEngaged, "push to unlock only asks")
	assert.False(t, c.State().PendingReportHold)
}

func TestButtonDuringMaintenanceIsNoOp(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "config_status", "-1", start)
	before := c.State()

	events := c.HandleInput(start, Sample{ButtonDown: true})
	assert.Empty(t, events)
	assert.Equal(t, before, c.State())
}

func TestButtonDebounce(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "config_status", "2", start)

	first := c.HandleInput(start, Sample{ButtonDown: true})
	c.HandleInput(start.Add(100*time.Millisecond), Sample{ButtonDown: false})
	second := c.HandleInput(start.Add(1500*time.Millisecond), Sample{ButtonDown: true})
	third := c.HandleInput(start.Add(2100*time.Millisecond), Sample{ButtonDown: true})

	assert.Len(t, first, 1)
	assert.Empty(t, second, "press within 2000ms must be dropped")
	assert.Len(t, third, 1)
}

func TestReportBrokenWhenHeld(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "config_status", "5", start)

	events := c.HandleInput(start, Sample{ButtonDown: true})
	assert.Empty(t, events)
	assert.True(t, c.State().PendingReportHold)

	events, _ = tickFor(c, start, 3*time.Second, true)
	assert.Equal(t, 1, countType(events, EventButtonReportedBroken))
	assert.False(t, c.State().PendingReportHold)
}

func TestReportBrokenReleasedEarly(t *testing.T) {
	c, _ := newTestController(t)
	send(t, c, "config_status", "5", start)

	c.HandleInput(start, Sample{ButtonDown: true})
	events, _ := tickFor(c, start, 3*time.Second, false)
	assert.Zero(t, countType(events, EventButtonReportedBroken))
	assert.False(t, c.State().PendingReportHold, "hold flag clears either way")
}

func TestCardAlwaysReported(t *testing.T) {
	c, _ := newTestController(t)
	uid := []byte{0x04, 0xa1, 0x0b, 0xff}

	for i := 0; i < 3; i++ {
		events := c.HandleInput(start.Add(time.Duration(i)*100*time.Millisecond), Sample{CardUID: uid})
		require.Len(t, events, 1)
		assert.Equal(t, EventCardRead, events[0].Type)
		assert.Equal(t, "04a10bff", events[0].Payload)
	}
}

func TestActuatorErrorDoesNotBlockTransition(t *testing.T) {
	c, act := newTestController(t)
	act.err = errors.New("gpio gone")

	send(t, c, "config_status", "0", start)
	assert.Equal(t, ModePermanentlyUnlocked, c.State().Mode)
	assert.False(t, c.State().LockEngaged)
}

func TestRefreshTick(t *testing.T) {
	c, _ := newTestController(t)
	assert.False(t, c.Tick(start.Add(999*time.Millisecond)).Refresh)
	assert.True(t, c.Tick(start.Add(time.Second)).Refresh)
	assert.False(t, c.Tick(start.Add(1500*time.Millisecond)).Refresh)

	c.StopRefresh()
	assert.False(t, c.Tick(start.Add(time.Hour)).Refresh)
}

func TestViewRemaining(t *testing.T) {
	c, _ := newTestController(t)
	c.SetLocalIP("10.0.0.7")
	send(t, c, "config_status", "5", start)
	send(t, c, "unlocked_time", "90000", start)

	v := c.View(start.Add(30 * time.Second))
	assert.True(t, v.RelockRunning)
	assert.Equal(t, 60*time.Second, v.RelockRemaining)
	assert.Equal(t, "10.0.0.7", v.LocalIP)
	assert.Equal(t, "a1b2c3", v.UnitID)
}

func TestRelockEngagesFromEveryPath(t *testing.T) {
	c, _ := newTestController(t)
	steps := []struct{ suffix, payload string }{
		{"config_status", "5"},
		{"unlocked_time", "3000"},
		{"config_status", "2"},
		{"config_status", "0"},
		{"unlocked_time", "3000"},
		{"config_status", "5"},
		{"unlocked_time", "3000"},
		{"config_status", "-3"},
		{"config_status", "-1"},
	}
	now := start
	for _, s := range steps {
		now = now.Add(500 * time.Millisecond)
		_, _ = c.HandleMessage(s.suffix, []byte(s.payload), now)
		if c.RelockRunning() {
			assert.False(t, c.State().LockEngaged, "after %s=%s", s.suffix, s.payload)
			assert.NotEqual(t, ModePermanentlyUnlocked, c.State().Mode)
		}
	}
}
