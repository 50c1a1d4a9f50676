// Package gpio provides the lock actuator output and the button input with
// hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Button reads the physical push button.
type Button interface {
	// Read returns true while the button is held down. Active-low wiring is
	// already inverted.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Actuator drives the lock output. Engage and Release are idempotent.
type Actuator interface {
	// Engage secures the unit.
	Engage() error

	// Release opens the unit.
	Release() error

	// Close leaves the lock engaged and releases GPIO resources.
	Close() error
}

// Default pin definitions (BCM numbering)
const (
	DefaultPinLock   = 17
	DefaultPinButton = 27
)
