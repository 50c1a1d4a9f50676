//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealButton reads the button from actual hardware using the Linux GPIO
// character device.
type RealButton struct {
	chip      *gpiocdev.Chip
	line      *gpiocdev.Line
	activeLow bool
}

// NewRealButton requests pin as an input. Active-low buttons get a pull-up,
// active-high ones a pull-down.
func NewRealButton(chipName string, pin int, activeLow bool) (*RealButton, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	bias := gpiocdev.WithPullDown
	if activeLow {
		bias = gpiocdev.WithPullUp
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsInput, bias)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button pin %d: %w", pin, err)
	}

	return &RealButton{chip: chip, line: line, activeLow: activeLow}, nil
}

// Read returns true while the button is pressed.
func (b *RealButton) Read() (bool, error) {
	raw, err := b.line.Value()
	if err != nil {
		return false, fmt.Errorf("read button pin: %w", err)
	}
	if b.activeLow {
		return raw == 0, nil
	}
	return raw == 1, nil
}

// Close releases GPIO resources.
func (b *RealButton) Close() error {
	var errs []error
	if b.line != nil {
		if err := b.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pin: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealActuator drives the lock output line.
type RealActuator struct {
	chip       *gpiocdev.Chip
	line       *gpiocdev.Line
	activeHigh bool
}

// NewRealActuator requests pin as an output that starts engaged. When
// activeHigh is set, driving the line high releases the lock.
func NewRealActuator(chipName string, pin int, activeHigh bool) (*RealActuator, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	a := &RealActuator{chip: chip, activeHigh: activeHigh}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(a.level(false)))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request lock pin %d: %w", pin, err)
	}
	a.line = line
	return a, nil
}

// level returns the raw output value for the lock open or closed.
func (a *RealActuator) level(open bool) int {
	if open == a.activeHigh {
		return 1
	}
	return 0
}

// Engage secures the unit.
func (a *RealActuator) Engage() error {
	if err := a.line.SetValue(a.level(false)); err != nil {
		return fmt.Errorf("engage lock: %w", err)
	}
	return nil
}

// Release opens the unit.
func (a *RealActuator) Release() error {
	if err := a.line.SetValue(a.level(true)); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Close engages the lock before releasing the line so the unit is left
// secured across restarts.
func (a *RealActuator) Close() error {
	var errs []error
	if a.line != nil {
		if err := a.line.SetValue(a.level(false)); err != nil {
			errs = append(errs, fmt.Errorf("engage lock: %w", err))
		}
		if err := a.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lock pin: %w", err))
		}
	}
	if a.chip != nil {
		if err := a.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
