package display

// Glyph is one of the four custom characters loaded at boot.
type Glyph uint8

const (
	GlyphNone Glyph = iota
	GlyphLock
	GlyphCheck
	GlyphSkull
	GlyphButton
)

// String returns a human-readable glyph name.
func (g Glyph) String() string {
	switch g {
	case GlyphLock:
		return "LOCK"
	case GlyphCheck:
		return "CHECK"
	case GlyphSkull:
		return "SKULL"
	case GlyphButton:
		return "BUTTON"
	default:
		return "NONE"
	}
}

// Slot returns the character-generator slot the glyph is loaded into.
func (g Glyph) Slot() byte {
	return byte(g) - 1
}

// Bitmap returns the 5x8 pixel rows of the glyph.
func (g Glyph) Bitmap() [8]byte {
	return bitmaps[g]
}

// Glyphs lists the glyphs loaded at boot, in slot order.
var Glyphs = []Glyph{GlyphLock, GlyphCheck, GlyphSkull, GlyphButton}

var bitmaps = map[Glyph][8]byte{
	GlyphLock:   {0b01110, 0b10001, 0b10001, 0b11111, 0b11011, 0b11011, 0b11111, 0b00000},
	GlyphCheck:  {0b00000, 0b00001, 0b00011, 0b10110, 0b11100, 0b01000, 0b00000, 0b00000},
	GlyphSkull:  {0b00000, 0b01110, 0b10101, 0b11011, 0b01110, 0b01110, 0b00000, 0b00000},
	GlyphButton: {0b00000, 0b00100, 0b00100, 0b01110, 0b00100, 0b00000, 0b01110, 0b11111},
}
