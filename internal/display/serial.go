package display

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	serial "github.com/tarm/goserial"
)

// SerialDriver drives a character LCD behind a line-oriented serial
// terminal. Each command is one newline-terminated line:
//
//	C                 clear
//	M<line><col><txt> write text, line is one digit, col two digits
//	B<0|1>            backlight
//	G<slot><16 hex>   define glyph
type SerialDriver struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	w    *bufio.Writer
}

// NewSerialDriver opens the display terminal on the given port.
func NewSerialDriver(port string, baud int) (*SerialDriver, error) {
	p, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("open display port %s: %w", port, err)
	}
	return newSerialDriver(p), nil
}

func newSerialDriver(rw io.ReadWriteCloser) *SerialDriver {
	return &SerialDriver{port: rw, w: bufio.NewWriter(rw)}
}

// Clear blanks the display.
func (s *SerialDriver) Clear() error {
	return s.send("C")
}

// WriteAt writes text at line/col. Line breaks in text are sent as '?'
// so they cannot end the command early; glyph slot bytes pass through.
func (s *SerialDriver) WriteAt(line, col int, text string) error {
	if line < 0 || line > 1 || col < 0 || col >= Width {
		return fmt.Errorf("position %d,%d out of range", line, col)
	}
	return s.send(fmt.Sprintf("M%d%02d%s", line, col, frameSafe.Replace(text)))
}

var frameSafe = strings.NewReplacer("\n", "?", "\r", "?")

// SetBacklight switches the backlight.
func (s *SerialDriver) SetBacklight(on bool) error {
	if on {
		return s.send("B1")
	}
	return s.send("B0")
}

// DefineGlyph loads a glyph bitmap into slot.
func (s *SerialDriver) DefineGlyph(slot byte, bitmap [8]byte) error {
	return s.send(fmt.Sprintf("G%d%x", slot, bitmap[:]))
}

// Close closes the serial port.
func (s *SerialDriver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

func (s *SerialDriver) send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write display: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush display: %w", err)
	}
	return nil
}
