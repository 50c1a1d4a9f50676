package display

import "fmt"

// Driver writes to the character display hardware.
type Driver interface {
	// Clear blanks both lines.
	Clear() error

	// WriteAt writes text starting at the given line (0 or 1) and column.
	// Bytes 0-3 select a loaded glyph.
	WriteAt(line, col int, text string) error

	// SetBacklight switches the backlight.
	SetBacklight(on bool) error

	// DefineGlyph loads a 5x8 bitmap into a character-generator slot.
	DefineGlyph(slot byte, bitmap [8]byte) error

	// Close releases the device.
	Close() error
}

// Notice is a fixed two-line message shown outside the normal render cycle.
type Notice struct {
	Line1 string
	Line2 string
}

// Notices shown during boot, reconnects and updates.
var (
	NoticeConnectingNetwork = Notice{Line1: "Connecting WiFi"}
	NoticeNetworkError      = Notice{Line1: "  WiFi ERROR!"}
	NoticeConnectingBroker  = Notice{Line1: "Connecting MQTT"}
	NoticeBrokerError       = Notice{Line1: "  MQTT ERROR!"}
	NoticeInitReader        = Notice{Line1: "   Init. RFID"}
	NoticeInitUpdate        = Notice{Line1: "   Init. OTA"}
	NoticeReported          = Notice{Line1: "   REPORTED!", Line2: " RELEASE BUTTON "}
	NoticeUpdateComplete    = Notice{Line1: "UPGRADE COMPLETE"}
)

// BootNotice is the splash shown while the unit initializes.
func BootNotice(version string) Notice {
	return Notice{Line1: " Initialization ", Line2: "    FW " + version}
}

// ProgressNotice reports firmware upload progress.
func ProgressNotice(percent int) Notice {
	return Notice{Line1: "UPGRADE IN ", Line2: fmt.Sprintf("PROGRESS %d%%", percent)}
}

// UpdateErrorNotice reports a failed firmware upload.
func UpdateErrorNotice(code int) Notice {
	return Notice{Line1: fmt.Sprintf("OTA ERROR %d", code)}
}

// Init loads the status glyphs and switches the backlight on.
func Init(d Driver) error {
	for _, g := range Glyphs {
		if err := d.DefineGlyph(g.Slot(), g.Bitmap()); err != nil {
			return fmt.Errorf("define glyph %s: %w", g, err)
		}
	}
	if err := d.SetBacklight(true); err != nil {
		return fmt.Errorf("backlight: %w", err)
	}
	return nil
}

// Show draws a rendered frame.
func Show(d Driver, f Frame) error {
	if err := d.Clear(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if err := d.WriteAt(0, 0, f.Line1); err != nil {
		return fmt.Errorf("write line 1: %w", err)
	}
	if err := d.WriteAt(1, 0, f.Line2); err != nil {
		return fmt.Errorf("write line 2: %w", err)
	}
	if f.Glyph != GlyphNone {
		if err := d.WriteAt(0, Width-1, string([]byte{f.Glyph.Slot()})); err != nil {
			return fmt.Errorf("write glyph: %w", err)
		}
	}
	if f.Spinner != 0 {
		if err := d.WriteAt(1, Width-1, string([]byte{f.Spinner})); err != nil {
			return fmt.Errorf("write spinner: %w", err)
		}
	}
	if err := d.SetBacklight(f.Backlight); err != nil {
		return fmt.Errorf("backlight: %w", err)
	}
	return nil
}

// ShowNotice clears the display and writes a notice with the backlight on.
func ShowNotice(d Driver, n Notice) error {
	if err := d.Clear(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if err := d.SetBacklight(true); err != nil {
		return fmt.Errorf("backlight: %w", err)
	}
	if err := d.WriteAt(0, 0, n.Line1); err != nil {
		return fmt.Errorf("write line 1: %w", err)
	}
	if n.Line2 != "" {
		if err := d.WriteAt(1, 0, n.Line2); err != nil {
			return fmt.Errorf("write line 2: %w", err)
		}
	}
	return nil
}
