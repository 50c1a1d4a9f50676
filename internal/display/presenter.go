// Package display renders controller state onto a 2x16 character display.
// The Presenter is pure apart from its own scroll, spinner and blink
// counters; drivers only move bytes.
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/openunitstate/unitd/internal/logic"
)

// Width is the number of characters per line.
const Width = 16

// Blink thresholds for the remaining-time countdown.
const (
	blinkBelow     = 180
	alwaysLitBelow = 5
)

var spinnerSymbols = []byte{'.', 'o', 'O', 'o'}

// Frame is one fully rendered screen.
type Frame struct {
	Line1 string
	Line2 string
	// Glyph is drawn at line 1, column 15.
	Glyph Glyph
	// Spinner is drawn at line 2, column 15 when non-zero.
	Spinner   byte
	Backlight bool
}

// Idle is the idle-screen content for a view.
type Idle struct {
	Line1       string
	Line2       string
	ShowSpinner bool
	NeedsScroll bool
}

// Presenter turns controller views into frames. It must be driven from one
// goroutine.
type Presenter struct {
	line1   string
	line2   string
	scroll  int
	spinner int
	blink   bool
}

// NewPresenter returns a presenter whose lines read "UNKNOWN / ERROR" until
// the first idle render.
func NewPresenter() *Presenter {
	return &Presenter{
		line1: "    UNKNOWN",
		line2: "     ERROR",
	}
}

// Render produces the frame for v and advances the scroll, spinner and blink
// counters.
func (p *Presenter) Render(v logic.View) Frame {
	st := v.State
	f := Frame{Backlight: true, Glyph: StatusGlyph(v)}
	spinner := false

	switch {
	case v.RelockRunning && !st.PendingReportHold:
		p.line1 = st.UnitLabel
		secs := int(v.RelockRemaining / time.Second)
		p.line2 = FormatRemaining(secs)
		if secs < blinkBelow {
			f.Backlight = !(p.blink && secs > alwaysLitBelow)
			p.blink = !p.blink
		}
	case st.PendingReportHold:
		p.line1 = "KEEP PRESSING TO"
		p.line2 = " REPORT BROKEN"
	case st.TransientMessage != "":
		p.line2 = st.TransientMessage
	default:
		idle := RenderIdle(v)
		p.line1, p.line2 = idle.Line1, idle.Line2
		spinner = idle.ShowSpinner
	}

	line2 := printable(p.line2)
	f.Line1 = fit(printable(p.line1))
	if st.Maintenance && !v.RelockRunning && len([]rune(line2)) > Width {
		f.Line2 = p.window(line2)
	} else {
		f.Line2 = fit(line2)
	}

	if spinner {
		f.Spinner = spinnerSymbols[p.spinner]
		p.spinner = (p.spinner + 1) % len(spinnerSymbols)
	}
	return f
}

// window returns the current 16-character slice of text and advances the
// scroll offset by two, wrapping once the window would run past the end.
func (p *Presenter) window(text string) string {
	r := []rune(text)
	last := len(r) - Width
	if p.scroll > last {
		p.scroll = 0
	}
	shown := string(r[p.scroll : p.scroll+Width])
	p.scroll += 2
	if p.scroll > last {
		p.scroll = 0
	}
	return shown
}

// RenderIdle returns the idle screen for v.
func RenderIdle(v logic.View) Idle {
	st := v.State
	switch {
	case st.Mode == logic.ModeAwaitingUpdate:
		return Idle{Line1: "OTA MODE " + v.UnitID, Line2: v.LocalIP, ShowSpinner: true}
	case st.UnitLabel == "":
		return Idle{Line1: " Not configured", Line2: "     " + v.UnitID, ShowSpinner: true}
	case st.Maintenance:
		if st.MaintenanceReason == "" {
			return Idle{Line1: st.UnitLabel, Line2: "!SERVICE MODE!", ShowSpinner: true}
		}
		if len([]rune(st.MaintenanceReason)) <= Width {
			return Idle{Line1: st.UnitLabel, Line2: st.MaintenanceReason, ShowSpinner: true}
		}
		return Idle{Line1: st.UnitLabel, Line2: st.MaintenanceReason, NeedsScroll: true}
	}

	idle := Idle{Line1: st.UnitLabel, ShowSpinner: true}
	switch st.Mode {
	case logic.ModePermanentlyUnlocked:
		idle.Line2 = "Ready"
	case logic.ModePushToUnlock:
		idle.Line2 = "Push to unlock"
	case logic.ModeRequiresAuth:
		idle.Line2 = "ID to unlock"
	case logic.ModeCheckInStation:
		idle.Line2 = "Present ID"
	}
	return idle
}

// StatusGlyph picks the glyph for the top-right cell.
func StatusGlyph(v logic.View) Glyph {
	switch v.State.Mode {
	case logic.ModeRequiresAuth:
		return GlyphLock
	case logic.ModePermanentlyUnlocked:
		return GlyphCheck
	case logic.ModePushToUnlock:
		return GlyphButton
	}
	switch {
	case v.RelockRunning:
		return GlyphCheck
	case v.State.Maintenance:
		return GlyphSkull
	default:
		return GlyphNone
	}
}

// FormatRemaining renders a countdown as "1h 2m 3s rem.", dropping the hour
// segment when it is zero.
func FormatRemaining(secs int) string {
	if secs < 0 {
		secs = 0
	}
	h := secs / 3600
	m := secs / 60 % 60
	s := secs % 60
	if h != 0 {
		return fmt.Sprintf("%dh %dm %ds rem.", h, m, s)
	}
	return fmt.Sprintf("%dm %ds rem.", m, s)
}

// printable replaces control characters with '?'. Labels and reasons come
// from the server, and the low bytes are glyph slots or terminal framing.
func printable(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '?'
		}
		return r
	}, text)
}

// fit pads or truncates text to exactly Width characters.
func fit(text string) string {
	r := []rune(text)
	if len(r) >= Width {
		return string(r[:Width])
	}
	return text + strings.Repeat(" ", Width-len(r))
}
