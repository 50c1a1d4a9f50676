package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openunitstate/unitd/internal/display"
	"github.com/openunitstate/unitd/internal/gpio"
	"github.com/openunitstate/unitd/internal/logic"
	"github.com/openunitstate/unitd/internal/metrics"
	"github.com/openunitstate/unitd/internal/rfid"
	"github.com/openunitstate/unitd/internal/status"
	"github.com/openunitstate/unitd/internal/transport"
	"github.com/openunitstate/unitd/internal/update"
	"github.com/openunitstate/unitd/internal/web"
)

const unitID = "a1b2c3"

var startTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// chain is a minimal main loop over fakes: transport -> controller ->
// actuator, with events published back and the display rendered on refresh.
type chain struct {
	t         *testing.T
	ctrl      *logic.Controller
	lock      *gpio.FakeActuator
	button    *gpio.FakeButton
	cards     *rfid.FakeReader
	tr        *transport.Fake
	lcd       *display.FakeDriver
	presenter *display.Presenter
	tracker   *status.Tracker
	now       time.Time
	directive logic.Directive
}

func newChain(t *testing.T) *chain {
	t.Helper()
	lock := gpio.NewFakeActuator()
	c := &chain{
		t:         t,
		ctrl:      logic.NewController(unitID, lock, zerolog.Nop(), startTime),
		lock:      lock,
		button:    gpio.NewFakeButton(false),
		cards:     rfid.NewFakeReader(),
		tr:        transport.NewFake(),
		lcd:       display.NewFakeDriver(),
		presenter: display.NewPresenter(),
		tracker:   status.NewTracker(unitID, "1.0.3", startTime, status.Config{Transport: "mqtt", Broker: "tcp://broker:1883"}),
		now:       startTime,
	}
	if err := c.tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

// poll runs one 100ms loop iteration.
func (c *chain) poll() {
	c.t.Helper()
	c.now = c.now.Add(100 * time.Millisecond)

	for {
		select {
		case msg := <-c.tr.Messages():
			out, err := c.ctrl.HandleMessage(msg.Suffix, msg.Payload, c.now)
			if err != nil {
				continue
			}
			c.apply(out)
			continue
		default:
		}
		break
	}

	down, err := c.button.Read()
	if err != nil {
		c.t.Fatalf("button read: %v", err)
	}
	uid, _ := c.cards.Poll()
	c.publish(c.ctrl.HandleInput(c.now, logic.Sample{ButtonDown: down, CardUID: uid}))
	c.apply(c.ctrl.Tick(c.now))

	c.tracker.Update(c.ctrl.View(c.now))
	c.tracker.SetTransport(c.tr.IsConnected(), c.tr.Pending())
}

func (c *chain) pollFor(d time.Duration) {
	c.t.Helper()
	for end := c.now.Add(d); c.now.Before(end); {
		c.poll()
	}
}

func (c *chain) apply(out logic.Outcome) {
	c.publish(out.Events)
	if out.Directive != logic.DirectiveNone {
		c.directive = out.Directive
	}
	if out.Refresh {
		f := c.presenter.Render(c.ctrl.View(c.now))
		if err := display.Show(c.lcd, f); err != nil {
			c.t.Fatalf("show: %v", err)
		}
		c.tracker.SetDisplay(f.Line1, f.Line2)
	}
}

func (c *chain) publish(events []logic.Event) {
	for _, e := range events {
		// Don't crash on publish failure
		_ = c.tr.Publish(e)
	}
	c.tracker.CountEvents(events)
}

func (c *chain) sent() []string {
	var out []string
	for _, m := range c.tr.Sent() {
		out = append(out, m.Suffix+"="+string(m.Payload))
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestIntegrationFullFlow configures a unit, grants a timed unlock and lets
// it relock.
func TestIntegrationFullFlow(t *testing.T) {
	c := newChain(t)

	c.tr.Inject("config_name", "Laser Cutter")
	c.tr.Inject("config_status", "5")
	c.poll()

	if !c.lock.Engaged() {
		t.Fatal("lock should be engaged after configuration")
	}
	if got := c.lcd.Line(1); !strings.HasPrefix(got, "ID to unlock") {
		t.Errorf("line 2: got %q, want ID to unlock prompt", got)
	}

	c.cards.Present([]byte{0xde, 0xad, 0xbe, 0xef})
	c.poll()
	c.tr.Inject("unlocked_time", "1500")
	c.poll()

	if c.lock.Engaged() {
		t.Fatal("lock should be released during the grant")
	}

	c.pollFor(2 * time.Second)

	if !c.lock.Engaged() {
		t.Fatal("lock should be engaged after the grant")
	}
	want := []string{
		"connected=true",
		"card_read=deadbeef",
		"state_relocked=" + unitID,
	}
	if got := c.sent(); !equalStrings(got, want) {
		t.Errorf("published: got %v, want %v", got, want)
	}
	engages, releases := c.lock.Counts()
	if releases != 1 {
		t.Errorf("releases: got %d, want 1", releases)
	}
	if engages < 2 {
		t.Errorf("engages: got %d, want at least 2", engages)
	}
}

// TestIntegrationPushToUnlock publishes a push request and leaves the lock
// to the server.
func TestIntegrationPushToUnlock(t *testing.T) {
	c := newChain(t)
	c.tr.Inject("config_status", "2")
	c.poll()

	c.button.Samples = []bool{true, false}
	c.poll()
	c.poll()

	if !c.lock.Engaged() {
		t.Error("push alone must not unlock")
	}
	want := []string{"connected=true", "push_to_unlock=" + unitID}
	if got := c.sent(); !equalStrings(got, want) {
		t.Errorf("published: got %v, want %v", got, want)
	}
}

// TestIntegrationUnknownStatusFailsSafe ends an open grant on an unknown
// status code.
func TestIntegrationUnknownStatusFailsSafe(t *testing.T) {
	c := newChain(t)
	c.tr.Inject("config_status", "5")
	c.tr.Inject("unlocked_time", "60000")
	c.poll()
	if c.lock.Engaged() {
		t.Fatal("grant should be open")
	}

	c.tr.Inject("config_status", "9")
	c.poll()

	if !c.lock.Engaged() {
		t.Error("unknown status must lock")
	}
	st := c.ctrl.State()
	if !st.Maintenance {
		t.Error("unknown status must enter maintenance")
	}
	if c.ctrl.RelockRunning() {
		t.Error("unknown status must cancel the grant")
	}
}

// TestIntegrationOfflineBuffering holds events while the broker is away and
// replays them in order after the announcement.
func TestIntegrationOfflineBuffering(t *testing.T) {
	c := newChain(t)
	c.tr.Inject("config_status", "5")
	c.poll()

	c.tr.Drop()
	c.cards.Present([]byte{0x01})
	c.poll()
	c.cards.Present([]byte{0x02})
	c.poll()

	if got := c.tr.Pending(); got != 2 {
		t.Fatalf("pending: got %d, want 2", got)
	}

	if err := c.tr.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	want := []string{
		"connected=true",
		"connected=true",
		"card_read=01",
		"card_read=02",
	}
	if got := c.sent(); !equalStrings(got, want) {
		t.Errorf("published: got %v, want %v", got, want)
	}
}

// TestIntegrationStatusJSON serves the tracked state over HTTP.
func TestIntegrationStatusJSON(t *testing.T) {
	c := newChain(t)
	c.tr.Inject("config_name", "Lathe")
	c.tr.Inject("config_status", "5")
	c.tr.Inject("unlocked_time", "30000")
	c.poll()
	c.cards.Present([]byte{0xab})
	c.poll()

	m := metrics.New()
	m.ObserveState(c.ctrl.State())
	srv := web.New(":0", c.tracker, web.Options{Metrics: m.Handler()})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d", rec.Code)
	}

	var got status.StatusJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	s := got.Status
	if s.UnitID != unitID || s.Label != "Lathe" || s.Mode != "REQUIRES_AUTH" {
		t.Errorf("identity: got %+v", s)
	}
	if s.LockEngaged {
		t.Error("lock_engaged: got true during grant")
	}
	if s.RelockRemainingSeconds == nil || *s.RelockRemainingSeconds <= 0 {
		t.Errorf("relock_remaining_seconds: got %v", s.RelockRemainingSeconds)
	}
	if s.Counts["card_read"] != 1 {
		t.Errorf("event_counts: got %v", s.Counts)
	}
	if !s.Transport.Connected || s.Transport.Kind != "mqtt" {
		t.Errorf("transport: got %+v", s.Transport)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "unitd_lock_engaged 0") {
		t.Errorf("metrics missing lock gauge:\n%s", rec.Body.String())
	}
}

// TestIntegrationFirmwareUpload arms the updater from a status change and
// installs an image posted to the web server.
func TestIntegrationFirmwareUpload(t *testing.T) {
	c := newChain(t)
	target := filepath.Join(t.TempDir(), "unitd")
	upd := update.NewUpdater(target, "", zerolog.Nop())
	srv := web.New(":0", c.tracker, web.Options{Update: upd})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/update", strings.NewReader("early")))
	if rec.Code != http.StatusConflict {
		t.Fatalf("upload before arming: got %d, want 409", rec.Code)
	}

	c.tr.Inject("config_status", "-2")
	c.poll()
	if c.directive != logic.DirectiveBeginUpdate {
		t.Fatalf("directive: got %v", c.directive)
	}
	if err := upd.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/update", strings.NewReader("firmware v2")))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("upload: got %d: %s", rec.Code, rec.Body.String())
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "firmware v2" {
		t.Errorf("target: got %q", data)
	}

	var phases []update.Phase
	for len(upd.Events()) > 0 {
		phases = append(phases, (<-upd.Events()).Phase)
	}
	if len(phases) < 2 || phases[0] != update.PhaseStart || phases[len(phases)-1] != update.PhaseComplete {
		t.Errorf("phases: got %v", phases)
	}
}
