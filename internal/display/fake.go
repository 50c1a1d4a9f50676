package display

import "strings"

// FakeDriver records display writes for test assertions. It keeps a 2x16
// character grid that reflects what real hardware would show.
type FakeDriver struct {
	// Grid holds the visible characters.
	Grid [2][Width]byte

	// Backlight is the last backlight state.
	Backlight bool

	// Glyphs holds defined glyph bitmaps by slot.
	Glyphs map[byte][8]byte

	// Clears counts Clear calls.
	Clears int

	// Writes counts WriteAt calls.
	Writes int

	// Err, if set, is returned by every call.
	Err error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeDriver creates a blank FakeDriver.
func NewFakeDriver() *FakeDriver {
	f := &FakeDriver{Glyphs: make(map[byte][8]byte)}
	f.blank()
	return f
}

func (f *FakeDriver) blank() {
	for l := range f.Grid {
		for c := range f.Grid[l] {
			f.Grid[l][c] = ' '
		}
	}
}

// Clear blanks the grid.
func (f *FakeDriver) Clear() error {
	if f.Err != nil {
		return f.Err
	}
	f.Clears++
	f.blank()
	return nil
}

// WriteAt writes text into the grid, clipping at the right edge.
func (f *FakeDriver) WriteAt(line, col int, text string) error {
	if f.Err != nil {
		return f.Err
	}
	f.Writes++
	for i := 0; i < len(text) && col+i < Width; i++ {
		f.Grid[line][col+i] = text[i]
	}
	return nil
}

// SetBacklight records the backlight state.
func (f *FakeDriver) SetBacklight(on bool) error {
	if f.Err != nil {
		return f.Err
	}
	f.Backlight = on
	return nil
}

// DefineGlyph records the bitmap.
func (f *FakeDriver) DefineGlyph(slot byte, bitmap [8]byte) error {
	if f.Err != nil {
		return f.Err
	}
	f.Glyphs[slot] = bitmap
	return nil
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.Closed = true
	return nil
}

// Line returns the visible text of a line with trailing spaces trimmed.
func (f *FakeDriver) Line(n int) string {
	return strings.TrimRight(string(f.Grid[n][:]), " ")
}

// Cell returns the byte shown at line/col.
func (f *FakeDriver) Cell(line, col int) byte {
	return f.Grid[line][col]
}
