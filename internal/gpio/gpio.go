// Package gpio provides pin-level GPIO access with hardware abstraction.
// The real implementations use the Linux GPIO character device (gpiocdev)
// or memory-mapped registers (rpio). The fake implementation allows testing
// without hardware.
package gpio

// NoPin marks an absent pin (e.g. a channel without a button).
const NoPin = -1

// Reader samples input pins.
type Reader interface {
	// ReadPin returns the raw level of an input pin: true = high.
	// Buttons are wired active-low, so a pressed button reads false.
	ReadPin(pin int) (bool, error)
}

// Writer drives output pins.
type Writer interface {
	// WritePin drives an output pin high (true) or low (false).
	WritePin(pin int, high bool) error
}

// Bank is a set of requested input and output pins.
type Bank interface {
	Reader
	Writer

	// Close releases GPIO resources.
	Close() error
}

// Layout lists the pins a Bank must request (BCM numbering).
type Layout struct {
	Inputs  []int
	Outputs []int
}

// Backend names accepted by Open.
const (
	BackendGPIOCDev = "gpiocdev"
	BackendRPIO     = "rpio"
	// BackendFake runs without hardware: outputs are recorded, inputs
	// read released.
	BackendFake = "fake"
)
