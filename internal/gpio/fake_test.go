package gpio

import (
	"errors"
	"testing"
)

func TestFakeButtonRead(t *testing.T) {
	f := NewFakeButton(false, true, true)

	want := []bool{false, true, true, true}
	for i, w := range want {
		got, err := f.Read()
		if err != nil {
			t.Fatalf("sample %d: unexpected error: %v", i, err)
		}
		if got != w {
			t.Errorf("sample %d: expected %v, got %v", i, w, got)
		}
	}
}

func TestFakeButtonNoSamples(t *testing.T) {
	f := NewFakeButton()

	_, err := f.Read()
	if err == nil {
		t.Error("expected error with no samples")
	}
}

func TestFakeButtonError(t *testing.T) {
	f := NewFakeButton(true)
	f.ReadError = errors.New("simulated error")

	_, err := f.Read()
	if err == nil {
		t.Error("expected error to be returned")
	}
	if err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFakeButtonCloseAndReset(t *testing.T) {
	f := NewFakeButton(true, false)

	if f.Closed {
		t.Error("should not be closed initially")
	}
	f.Read()
	if err := f.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}

	f.Reset()
	if f.Closed {
		t.Error("should not be closed after Reset()")
	}
	got, _ := f.Read()
	if !got {
		t.Error("expected first sample after Reset()")
	}
}

func TestFakeActuator(t *testing.T) {
	a := NewFakeActuator()
	if !a.Engaged() {
		t.Fatal("actuator should start engaged")
	}

	if err := a.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Engaged() {
		t.Error("expected released")
	}
	if err := a.Engage(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Engaged() {
		t.Error("expected engaged")
	}

	engages, releases := a.Counts()
	if engages != 1 || releases != 1 {
		t.Errorf("expected 1/1 calls, got %d/%d", engages, releases)
	}
}

func TestFakeActuatorCloseEngages(t *testing.T) {
	a := NewFakeActuator()
	a.Release()
	a.Close()
	if !a.Engaged() || !a.Closed() {
		t.Error("Close should leave the lock engaged")
	}
}

func TestFakeActuatorError(t *testing.T) {
	a := NewFakeActuator()
	a.Err = errors.New("line busy")
	if err := a.Release(); err == nil {
		t.Error("expected error")
	}
	if !a.Engaged() {
		t.Error("failed release must not change position")
	}
}

func TestDefaultPins(t *testing.T) {
	if DefaultPinLock == DefaultPinButton {
		t.Error("lock and button must use different pins")
	}
}
