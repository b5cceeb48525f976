package node

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("config error")

	// ErrInvalidValue is returned when a value cannot be used for the requested operation.
	ErrInvalidValue = errors.New("invalid value")

	// ErrTypeMismatch is returned when a written value does not match the attribute type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrRejected wraps a PreUpdate callback error that vetoed a write.
	ErrRejected = errors.New("update rejected")
)

// ConfigError reports an endpoint, cluster or attribute that could not be
// created or resolved. At startup it is fatal for the affected channel.
type ConfigError struct {
	Op     string
	Path   AttributePath
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Reason)
}

// Is makes errors.Is(err, ErrConfig) true for any *ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}
