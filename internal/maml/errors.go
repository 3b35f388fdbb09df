package maml

import (
	"errors"

	"metabert/internal/device"
	"metabert/internal/head"
)

// IsUnsupportedMode reports whether err came from an unknown task output mode.
func IsUnsupportedMode(err error) bool {
	var u head.UnsupportedModeError
	return errors.As(err, &u)
}

// IsResourceExhausted reports whether err came from a device budget overflow.
func IsResourceExhausted(err error) bool {
	var r device.ResourceExhaustionError
	return errors.As(err, &r)
}
