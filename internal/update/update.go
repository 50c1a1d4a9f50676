// Package update receives firmware images over HTTP while the unit is in
// update mode and installs them over the running binary.
package update

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors.
var (
	ErrNotArmed = errors.New("update: not armed")
	ErrBusy     = errors.New("update: upload in progress")
)

// ErrorCode classifies a failed upload. The values are shown on the display.
type ErrorCode int

const (
	ErrorAuth ErrorCode = iota
	ErrorBegin
	ErrorConnect
	ErrorReceive
	ErrorEnd
)

// String returns a human-readable error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrorAuth:
		return "AUTH"
	case ErrorBegin:
		return "BEGIN"
	case ErrorConnect:
		return "CONNECT"
	case ErrorReceive:
		return "RECEIVE"
	case ErrorEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// Phase is the stage an Event reports.
type Phase uint8

const (
	PhaseStart Phase = iota
	PhaseProgress
	PhaseError
	PhaseComplete
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "START"
	case PhaseProgress:
		return "PROGRESS"
	case PhaseError:
		return "ERROR"
	case PhaseComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Event reports upload progress to the main loop.
type Event struct {
	Phase   Phase
	Percent int
	Code    ErrorCode
	Err     error
}

// Fatal reports whether the event ends the update and requires a restart.
func (e Event) Fatal() bool {
	return e.Phase == PhaseError || e.Phase == PhaseComplete
}

// Updater accepts one firmware image once armed.
type Updater struct {
	target string
	hash   []byte
	log    zerolog.Logger
	events chan Event

	mu    sync.Mutex
	armed bool
	busy  bool
	// ended is set once a terminal event has been queued. The main loop
	// stops reading after that, so later sends must not block.
	ended bool
}

// NewUpdater creates an Updater that installs images at target. An empty
// passwordHash disables authentication.
func NewUpdater(target, passwordHash string, logger zerolog.Logger) *Updater {
	return &Updater{
		target: target,
		hash:   []byte(passwordHash),
		log:    logger.With().Str("component", "update").Logger(),
		events: make(chan Event, 16),
	}
}

// Begin arms the updater. Uploads are refused until then.
func (u *Updater) Begin() error {
	if u.target == "" {
		return errors.New("update: no target configured")
	}
	u.mu.Lock()
	u.armed = true
	u.mu.Unlock()
	u.log.Info().Str("target", u.target).Msg("waiting for firmware upload")
	return nil
}

// Armed reports whether Begin was called.
func (u *Updater) Armed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.armed
}

// Events delivers upload progress.
func (u *Updater) Events() <-chan Event {
	return u.events
}

// Authorize checks basic-auth credentials against the configured bcrypt
// hash.
func (u *Updater) Authorize(password string) bool {
	if len(u.hash) == 0 {
		return true
	}
	return bcrypt.CompareHashAndPassword(u.hash, []byte(password)) == nil
}

// Receive streams an image of size bytes (or -1 if unknown) into a staging
// file next to the target and renames it into place.
func (u *Updater) Receive(r io.Reader, size int64) error {
	u.mu.Lock()
	switch {
	case !u.armed:
		u.mu.Unlock()
		return ErrNotArmed
	case u.busy:
		u.mu.Unlock()
		return ErrBusy
	}
	u.busy = true
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.busy = false
		u.mu.Unlock()
	}()

	u.emit(Event{Phase: PhaseStart})

	tmp, err := os.CreateTemp(filepath.Dir(u.target), ".unitd-update-*")
	if err != nil {
		return u.fail(ErrorBegin, fmt.Errorf("create staging file: %w", err))
	}
	defer os.Remove(tmp.Name())

	pw := &progressWriter{w: tmp, total: size, report: func(pct int) {
		u.emit(Event{Phase: PhaseProgress, Percent: pct})
	}}
	n, err := io.Copy(pw, r)
	if err != nil {
		tmp.Close()
		return u.fail(ErrorReceive, fmt.Errorf("receive image: %w", err))
	}
	if size >= 0 && n != size {
		tmp.Close()
		return u.fail(ErrorReceive, fmt.Errorf("short image: got %d of %d bytes", n, size))
	}
	if err := tmp.Close(); err != nil {
		return u.fail(ErrorEnd, fmt.Errorf("close staging file: %w", err))
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return u.fail(ErrorEnd, fmt.Errorf("chmod staging file: %w", err))
	}
	if err := os.Rename(tmp.Name(), u.target); err != nil {
		return u.fail(ErrorEnd, fmt.Errorf("install image: %w", err))
	}

	u.log.Info().Int64("bytes", n).Msg("firmware installed")
	u.emit(Event{Phase: PhaseComplete, Percent: 100})
	return nil
}

func (u *Updater) fail(code ErrorCode, err error) error {
	u.log.Error().Err(err).Stringer("code", code).Msg("update failed")
	u.emit(Event{Phase: PhaseError, Code: code, Err: err})
	return err
}

// emit never drops the first terminal event. Progress, and anything after
// the first terminal event, is dropped when nobody is reading.
func (u *Updater) emit(e Event) {
	u.mu.Lock()
	block := !u.ended && e.Phase != PhaseProgress
	if e.Fatal() {
		u.ended = true
	}
	u.mu.Unlock()

	if block {
		u.events <- e
		return
	}
	select {
	case u.events <- e:
	default:
	}
}

// ServeHTTP accepts a firmware image as the request body.
func (u *Updater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !u.Armed() {
		http.Error(w, "not in update mode", http.StatusConflict)
		return
	}
	_, pass, _ := r.BasicAuth()
	if !u.Authorize(pass) {
		u.fail(ErrorAuth, errors.New("bad credentials"))
		w.Header().Set("WWW-Authenticate", `Basic realm="unitd"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	err := u.Receive(r.Body, r.ContentLength)
	switch {
	case errors.Is(err, ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// progressWriter reports whole-percent progress as bytes pass through.
type progressWriter struct {
	w       io.Writer
	total   int64
	written int64
	last    int
	report  func(int)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.total > 0 {
		pct := int(p.written * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
