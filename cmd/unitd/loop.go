package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/openunitstate/unitd/internal/display"
	"github.com/openunitstate/unitd/internal/gpio"
	"github.com/openunitstate/unitd/internal/logic"
	"github.com/openunitstate/unitd/internal/metrics"
	"github.com/openunitstate/unitd/internal/rfid"
	"github.com/openunitstate/unitd/internal/status"
	"github.com/openunitstate/unitd/internal/timer"
	"github.com/openunitstate/unitd/internal/transport"
	"github.com/openunitstate/unitd/internal/update"
)

// errRestart is returned by runLoop when the process must be replaced.
var errRestart = errors.New("restart requested")

// How long terminal update notices stay up before the restart.
const (
	updateCompleteHold = 5 * time.Second
	updateErrorHold    = 10 * time.Second
)

// updater is the part of update.Updater the loop drives.
type updater interface {
	Begin() error
	Events() <-chan update.Event
}

// addresser reports the local IP shown on the update screen and waits for
// the link to come back after it drops.
type addresser interface {
	LocalIP() (string, error)
	WaitConnected(ctx context.Context, timeout time.Duration) (string, error)
}

// loopDeps are the collaborators driven by runLoop. Cards, Updater,
// Network, Tracker, Metrics and Console may be nil.
type loopDeps struct {
	Controller *logic.Controller
	Presenter  *display.Presenter
	Display    display.Driver
	Lock       gpio.Actuator
	Button     gpio.Button
	Cards      rfid.Reader
	Transport  transport.Transport
	Updater    updater
	Network    addresser
	Tracker    *status.Tracker
	Metrics    *metrics.Metrics
	Console    <-chan consoleInput
	RetryDelay time.Duration
	Log        zerolog.Logger

	// NetworkTimeout bounds the wait for the link before a broker attempt.
	NetworkTimeout time.Duration
}

// runLoop drives the unit until a signal arrives or a restart is due.
// Every tick runs one cooperative iteration: reconnect, commands, inputs,
// timers, display and update progress.
func runLoop(d loopDeps, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	u := newUnitLoop(d)

	for {
		select {
		case s := <-sig:
			u.Log.Info().Stringer("signal", s).Msg("shutting down")
			u.secure()
			return nil

		case <-tick:
			if u.step(now()) {
				return u.err
			}
		}
	}
}

type unitLoop struct {
	loopDeps

	nextConnect time.Time
	started     bool

	// frozen is set once an update notice owns the display.
	frozen bool
	// reported holds the report notice until the button is released.
	reported bool
	restart  *timer.Timer

	tap, held     bool
	consoleCard   []byte
	buttonFailing bool

	done bool
	err  error
}

func newUnitLoop(d loopDeps) *unitLoop {
	u := &unitLoop{loopDeps: d}
	u.restart = timer.New(0, timer.OneShot, func(time.Time) {
		u.exit("update finished")
	})
	return u
}

// step runs one iteration and reports whether the loop must end.
func (u *unitLoop) step(now time.Time) bool {
	phases := []func(time.Time){
		u.ensureConnected,
		u.drainCommands,
		u.drainConsole,
		u.sampleInputs,
		u.tick,
		u.drainUpdates,
		func(now time.Time) { u.restart.Tick(now) },
	}
	for _, phase := range phases {
		phase(now)
		if u.done {
			return true
		}
	}
	u.observe(now)
	return false
}

func (u *unitLoop) ensureConnected(now time.Time) {
	if u.Transport.IsConnected() || now.Before(u.nextConnect) {
		return
	}
	if u.Network != nil && !u.ensureNetwork(now) {
		return
	}

	if !u.frozen {
		u.notice(display.NoticeConnectingBroker)
	}
	if err := u.Transport.Connect(context.Background()); err != nil {
		u.Log.Warn().Err(err).Dur("retry", u.RetryDelay).Msg("broker connect failed")
		if !u.frozen {
			u.notice(display.NoticeBrokerError)
		}
		u.nextConnect = now.Add(u.RetryDelay)
		return
	}

	u.Log.Info().Int("pending", u.Transport.Pending()).Msg("broker connected")
	if u.Metrics != nil {
		u.Metrics.ObserveConnect()
	}
	if !u.started {
		u.started = true
		u.publish([]logic.Event{{Timestamp: now, Type: logic.EventStarted, Payload: u.Controller.UnitID()}})
	}
	u.render(now)
}

// ensureNetwork waits up to NetworkTimeout for an address when the link is
// down. On failure the broker attempt is skipped until the retry deadline.
func (u *unitLoop) ensureNetwork(now time.Time) bool {
	ip, err := u.Network.LocalIP()
	if err != nil {
		if !u.frozen {
			u.notice(display.NoticeConnectingNetwork)
		}
		ip, err = u.Network.WaitConnected(context.Background(), u.NetworkTimeout)
	}
	if err != nil {
		u.Log.Warn().Err(err).Dur("retry", u.RetryDelay).Msg("network down")
		if !u.frozen {
			u.notice(display.NoticeNetworkError)
		}
		u.nextConnect = now.Add(u.RetryDelay)
		return false
	}
	u.Controller.SetLocalIP(ip)
	return true
}

func (u *unitLoop) drainCommands(now time.Time) {
	for {
		select {
		case msg := <-u.Transport.Messages():
			u.handleMessage(now, msg)
			if u.done {
				return
			}
		default:
			return
		}
	}
}

func (u *unitLoop) handleMessage(now time.Time, msg transport.Message) {
	out, err := u.Controller.HandleMessage(msg.Suffix, msg.Payload, now)
	if u.Metrics != nil {
		u.Metrics.ObserveCommand(msg.Suffix, err)
	}
	if err != nil {
		if logic.IsUnknownCommand(err) {
			u.Log.Debug().Str("suffix", msg.Suffix).Msg("ignoring unknown command")
		} else {
			u.Log.Warn().Err(err).Str("suffix", msg.Suffix).Msg("command rejected")
		}
		return
	}
	u.Log.Debug().Str("suffix", msg.Suffix).Bytes("payload", msg.Payload).Msg("command")
	u.apply(now, out)
}

func (u *unitLoop) drainConsole(now time.Time) {
	if u.Console == nil {
		return
	}
	for {
		select {
		case in, ok := <-u.Console:
			if !ok {
				u.Console = nil
				return
			}
			u.handleConsole(now, in)
			if u.done {
				return
			}
		default:
			return
		}
	}
}

func (u *unitLoop) handleConsole(now time.Time, in consoleInput) {
	switch in.Kind {
	case consoleMessage:
		u.handleMessage(now, in.Message)
	case consoleTap:
		u.tap = true
	case consoleHold:
		u.held = true
	case consoleRelease:
		u.held = false
	case consoleCard:
		u.consoleCard = in.Card
	}
}

func (u *unitLoop) sampleInputs(now time.Time) {
	down, err := u.Button.Read()
	switch {
	case err != nil && !u.buttonFailing:
		u.buttonFailing = true
		u.Log.Error().Err(err).Msg("button read failed")
	case err == nil && u.buttonFailing:
		u.buttonFailing = false
		u.Log.Info().Msg("button read recovered")
	}
	down = (err == nil && down) || u.tap || u.held
	u.tap = false

	var uid []byte
	if u.Cards != nil {
		if id, ok := u.Cards.Poll(); ok {
			uid = id
		}
	}
	if uid == nil && u.consoleCard != nil {
		uid, u.consoleCard = u.consoleCard, nil
	}

	if u.reported {
		if down {
			// Held over from the report; wait for release.
			down = false
		} else {
			u.reported = false
			u.render(now)
		}
	}
	u.publish(u.Controller.HandleInput(now, logic.Sample{ButtonDown: down, CardUID: uid}))
}

func (u *unitLoop) tick(now time.Time) {
	u.apply(now, u.Controller.Tick(now))
}

func (u *unitLoop) apply(now time.Time, out logic.Outcome) {
	u.publish(out.Events)

	switch out.Directive {
	case logic.DirectiveBeginUpdate:
		if u.Updater == nil {
			u.Log.Warn().Msg("firmware update requested but updates are disabled")
		} else if err := u.Updater.Begin(); err != nil {
			u.Log.Error().Err(err).Msg("arm updater")
		}
	case logic.DirectiveRestart:
		u.exit("reset command")
		return
	}

	if out.Refresh {
		u.render(now)
	}
}

func (u *unitLoop) publish(events []logic.Event) {
	if len(events) == 0 {
		return
	}
	for _, e := range events {
		u.Log.Info().Str("event", string(e.Type)).Str("payload", e.Payload).Msg("event")
		if err := u.Transport.Publish(e); err != nil {
			if errors.Is(err, transport.ErrNotConnected) {
				u.Log.Debug().Str("event", string(e.Type)).Msg("buffered while offline")
			} else {
				u.Log.Warn().Err(err).Str("event", string(e.Type)).Msg("publish failed")
			}
			// Don't crash on publish failure
		}
		if e.Type == logic.EventButtonReportedBroken && !u.frozen {
			u.reported = true
			u.notice(display.NoticeReported)
		}
	}
	if u.Tracker != nil {
		u.Tracker.CountEvents(events)
	}
	if u.Metrics != nil {
		u.Metrics.ObserveEvents(events)
	}
}

func (u *unitLoop) drainUpdates(now time.Time) {
	if u.Updater == nil {
		return
	}
	for {
		select {
		case e := <-u.Updater.Events():
			u.handleUpdate(now, e)
		default:
			return
		}
	}
}

func (u *unitLoop) handleUpdate(now time.Time, e update.Event) {
	u.frozen = true
	u.Controller.StopRefresh()

	switch e.Phase {
	case update.PhaseStart:
		u.Log.Info().Msg("firmware upload started")
		u.notice(display.ProgressNotice(0))
	case update.PhaseProgress:
		u.notice(display.ProgressNotice(e.Percent))
	case update.PhaseComplete:
		u.Log.Info().Msg("firmware upload complete")
		u.notice(display.NoticeUpdateComplete)
		u.scheduleRestart(now, updateCompleteHold)
	case update.PhaseError:
		u.Log.Error().Err(e.Err).Stringer("code", e.Code).Msg("firmware upload failed")
		u.notice(display.UpdateErrorNotice(int(e.Code)))
		u.scheduleRestart(now, updateErrorHold)
	}
}

func (u *unitLoop) scheduleRestart(now time.Time, after time.Duration) {
	if u.restart.Running() {
		return
	}
	u.restart.SetInterval(after)
	u.restart.Start(now)
}

func (u *unitLoop) render(now time.Time) {
	if u.frozen || u.reported {
		return
	}
	f := u.Presenter.Render(u.Controller.View(now))
	if err := display.Show(u.Display, f); err != nil {
		u.Log.Error().Err(err).Msg("display")
	}
	if u.Tracker != nil {
		u.Tracker.SetDisplay(f.Line1, f.Line2)
	}
}

func (u *unitLoop) notice(n display.Notice) {
	if err := display.ShowNotice(u.Display, n); err != nil {
		u.Log.Error().Err(err).Msg("display")
	}
	if u.Tracker != nil {
		u.Tracker.SetDisplay(n.Line1, n.Line2)
	}
}

func (u *unitLoop) observe(now time.Time) {
	connected, pending := u.Transport.IsConnected(), u.Transport.Pending()
	if u.Tracker != nil {
		u.Tracker.Update(u.Controller.View(now))
		u.Tracker.SetTransport(connected, pending)
	}
	if u.Metrics != nil {
		u.Metrics.ObserveState(u.Controller.State())
		u.Metrics.ObserveTransport(connected, pending)
	}
}

// secure engages the lock before the process goes away.
func (u *unitLoop) secure() {
	if err := u.Lock.Engage(); err != nil {
		u.Log.Error().Err(err).Msg("engage lock")
	}
}

func (u *unitLoop) exit(reason string) {
	u.Log.Warn().Str("reason", reason).Msg("restarting")
	u.secure()
	u.done = true
	u.err = errRestart
}
