package gpio

import (
	"fmt"
	"sync"
)

// PinWrite records one WritePin call.
type PinWrite struct {
	Pin  int
	High bool
}

// FakeBank is a test double with settable input levels and recorded writes.
// Inputs default to high (released, pull-up). Safe for concurrent use.
type FakeBank struct {
	mu      sync.Mutex
	levels  map[int]bool
	outputs map[int]bool
	writes  []PinWrite

	// ReadErrors makes ReadPin fail for the given pins.
	ReadErrors map[int]error

	// WriteError, if set, is returned by WritePin (the write is still recorded).
	WriteError error

	closed bool
}

// NewFakeBank creates a FakeBank.
func NewFakeBank() *FakeBank {
	return &FakeBank{
		levels:     make(map[int]bool),
		outputs:    make(map[int]bool),
		ReadErrors: make(map[int]error),
	}
}

// SetLevel sets the raw level an input pin reads.
func (f *FakeBank) SetLevel(pin int, high bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[pin] = high
}

// Press pulls an active-low button pin low.
func (f *FakeBank) Press(pin int) { f.SetLevel(pin, false) }

// Release lets an active-low button pin float back high.
func (f *FakeBank) Release(pin int) { f.SetLevel(pin, true) }

// ReadPin returns the configured level, high if never set.
func (f *FakeBank) ReadPin(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, fmt.Errorf("gpio: bank closed")
	}
	if err := f.ReadErrors[pin]; err != nil {
		return false, err
	}
	high, ok := f.levels[pin]
	if !ok {
		return true, nil
	}
	return high, nil
}

// WritePin records the write and updates the output level.
func (f *FakeBank) WritePin(pin int, high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, PinWrite{Pin: pin, High: high})
	f.outputs[pin] = high
	return f.WriteError
}

// Output returns the last level written to pin and whether it was ever written.
func (f *FakeBank) Output(pin int) (high, written bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	high, written = f.outputs[pin]
	return high, written
}

// Writes returns a copy of all recorded writes.
func (f *FakeBank) Writes() []PinWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PinWrite(nil), f.writes...)
}

// WritesTo returns the recorded writes for one pin.
func (f *FakeBank) WritesTo(pin int) []PinWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PinWrite
	for _, w := range f.writes {
		if w.Pin == pin {
			out = append(out, w)
		}
	}
	return out
}

// Close marks the bank as closed.
func (f *FakeBank) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeBank) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded writes and input levels.
func (f *FakeBank) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = make(map[int]bool)
	f.outputs = make(map[int]bool)
	f.writes = nil
	f.closed = false
}
