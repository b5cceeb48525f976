package gpio

import "fmt"

// Open requests the layout's pins using the named backend.
// chip is only used by the gpiocdev backend.
func Open(backend, chip string, layout Layout) (Bank, error) {
	switch backend {
	case BackendGPIOCDev, "":
		b, err := NewRealBank(chip, layout)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendRPIO:
		b, err := NewRPIOBank(layout)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendFake:
		return NewFakeBank(), nil
	}
	return nil, fmt.Errorf("gpio: unknown backend %q", backend)
}
