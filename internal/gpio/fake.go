package gpio

import (
	"errors"
	"sync"
)

// FakeButton is a test double that returns scripted button levels.
type FakeButton struct {
	// Samples contains scripted pressed levels.
	// Each call to Read() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeButton creates a FakeButton with the given samples.
func NewFakeButton(samples ...bool) *FakeButton {
	return &FakeButton{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeButton) Read() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Close marks the button as closed.
func (f *FakeButton) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the button to the beginning of samples.
func (f *FakeButton) Reset() {
	f.index = 0
	f.Closed = false
}

// FakeActuator records lock transitions.
type FakeActuator struct {
	mu sync.Mutex

	engaged  bool
	engages  int
	releases int
	closed   bool

	// Err, if set, is returned by Engage and Release.
	Err error
}

// NewFakeActuator creates a FakeActuator in the engaged position.
func NewFakeActuator() *FakeActuator {
	return &FakeActuator{engaged: true}
}

// Engage records an engage call.
func (f *FakeActuator) Engage() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.engaged = true
	f.engages++
	return nil
}

// Release records a release call.
func (f *FakeActuator) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.engaged = false
	f.releases++
	return nil
}

// Close engages the lock and marks the actuator closed.
func (f *FakeActuator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.engaged = true
	f.closed = true
	return nil
}

// Engaged reports the current lock position.
func (f *FakeActuator) Engaged() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engaged
}

// Counts returns the number of Engage and Release calls.
func (f *FakeActuator) Counts() (engages, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engages, f.releases
}

// Closed reports whether Close was called.
func (f *FakeActuator) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
