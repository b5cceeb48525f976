//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// RealBank drives GPIO through the Linux GPIO character device.
type RealBank struct {
	chip    *gpiocdev.Chip
	inputs  map[int]*gpiocdev.Line
	outputs map[int]*gpiocdev.Line
}

// NewRealBank requests the layout's lines on the named chip.
// Inputs get a pull-up (buttons short to ground); outputs start low.
func NewRealBank(chipName string, layout Layout) (*RealBank, error) {
	if chipName == "" {
		chipName = DefaultChip
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealBank{
		chip:    chip,
		inputs:  make(map[int]*gpiocdev.Line),
		outputs: make(map[int]*gpiocdev.Line),
	}

	for _, pin := range layout.Inputs {
		line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request input pin %d: %w", pin, err)
		}
		r.inputs[pin] = line
	}

	for _, pin := range layout.Outputs {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request output pin %d: %w", pin, err)
		}
		r.outputs[pin] = line
	}

	return r, nil
}

// ReadPin returns the raw level of a requested input pin.
func (r *RealBank) ReadPin(pin int) (bool, error) {
	line, ok := r.inputs[pin]
	if !ok {
		return false, fmt.Errorf("pin %d not requested as input", pin)
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v != 0, nil
}

// WritePin drives a requested output pin.
func (r *RealBank) WritePin(pin int, high bool) error {
	line, ok := r.outputs[pin]
	if !ok {
		return fmt.Errorf("pin %d not requested as output", pin)
	}
	v := 0
	if high {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Close releases GPIO resources.
// Outputs are reconfigured to input with pull-down (matching Pi boot
// defaults) before closing so attached LEDs and relays are left off.
func (r *RealBank) Close() error {
	var errs []error

	for pin, line := range r.outputs {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	for pin, line := range r.inputs {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
