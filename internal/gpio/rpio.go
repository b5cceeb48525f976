//go:build linux

package gpio

import (
	"fmt"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// RPIOBank drives GPIO through memory-mapped registers (/dev/gpiomem).
// rpio keeps global state, so only one RPIOBank may be open at a time.
type RPIOBank struct {
	mu      sync.Mutex
	inputs  map[int]rpio.Pin
	outputs map[int]rpio.Pin
}

// NewRPIOBank maps GPIO memory and configures the layout's pins.
func NewRPIOBank(layout Layout) (*RPIOBank, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio memory: %w", err)
	}

	r := &RPIOBank{
		inputs:  make(map[int]rpio.Pin),
		outputs: make(map[int]rpio.Pin),
	}
	for _, n := range layout.Inputs {
		pin := rpio.Pin(n)
		pin.Input()
		pin.PullUp()
		r.inputs[n] = pin
	}
	for _, n := range layout.Outputs {
		pin := rpio.Pin(n)
		pin.Output()
		pin.Low()
		r.outputs[n] = pin
	}
	return r, nil
}

// ReadPin returns the raw level of a configured input pin.
func (r *RPIOBank) ReadPin(n int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pin, ok := r.inputs[n]
	if !ok {
		return false, fmt.Errorf("pin %d not configured as input", n)
	}
	return pin.Read() == rpio.High, nil
}

// WritePin drives a configured output pin.
func (r *RPIOBank) WritePin(n int, high bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pin, ok := r.outputs[n]
	if !ok {
		return fmt.Errorf("pin %d not configured as output", n)
	}
	if high {
		pin.High()
	} else {
		pin.Low()
	}
	return nil
}

// Close returns outputs to pulled-down inputs and unmaps GPIO memory.
func (r *RPIOBank) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pin := range r.outputs {
		pin.Input()
		pin.PullDown()
	}
	if err := rpio.Close(); err != nil {
		return fmt.Errorf("close gpio memory: %w", err)
	}
	return nil
}
