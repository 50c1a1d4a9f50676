package update

import (
	"fmt"
	"os"
	"sync"
)

// Restarter replaces the running process.
type Restarter interface {
	Restart() error
}

// ExecRestarter re-executes the current binary with the original arguments.
type ExecRestarter struct {
	Path string
	Args []string
}

// NewExecRestarter captures the running executable and its arguments.
func NewExecRestarter() (*ExecRestarter, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &ExecRestarter{Path: path, Args: os.Args}, nil
}

// Restart replaces the process image. It only returns on failure.
func (r *ExecRestarter) Restart() error {
	if err := execve(r.Path, r.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", r.Path, err)
	}
	return nil
}

// FakeRestarter counts restarts.
type FakeRestarter struct {
	mu    sync.Mutex
	count int

	// Err, if set, is returned by Restart.
	Err error
}

// Restart records the call.
func (f *FakeRestarter) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return f.Err
}

// Count returns the number of Restart calls.
func (f *FakeRestarter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}
