//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealBank is not available on non-Linux platforms.
type RealBank struct{}

// NewRealBank returns an error on non-Linux platforms.
func NewRealBank(chip string, layout Layout) (*RealBank, error) {
	return nil, errUnsupported
}

func (r *RealBank) ReadPin(pin int) (bool, error)     { return false, errUnsupported }
func (r *RealBank) WritePin(pin int, high bool) error { return errUnsupported }
func (r *RealBank) Close() error                      { return nil }

// RPIOBank is not available on non-Linux platforms.
type RPIOBank struct{}

// NewRPIOBank returns an error on non-Linux platforms.
func NewRPIOBank(layout Layout) (*RPIOBank, error) {
	return nil, errUnsupported
}

func (r *RPIOBank) ReadPin(pin int) (bool, error)     { return false, errUnsupported }
func (r *RPIOBank) WritePin(pin int, high bool) error { return errUnsupported }
func (r *RPIOBank) Close() error                      { return nil }
