package head

import "metabert/pkg/types"

// UnsupportedModeError is returned for an output mode with no head shape.
type UnsupportedModeError struct{ Mode types.OutputMode }

func (e UnsupportedModeError) Error() string { return "unsupported output mode: " + string(e.Mode) }

// IsUnsupportedMode reports whether err signals an unknown output mode.
func IsUnsupportedMode(err error) bool {
	_, ok := err.(UnsupportedModeError)
	return ok
}
