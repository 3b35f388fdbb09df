package run

import "errors"

// ErrAlreadyRunning is returned when Run is called on a Runner that has
// already started.
var ErrAlreadyRunning = errors.New("run already started")

// noTasksError signals an empty task pool after filtering.
type noTasksError struct{ pool string }

func (e noTasksError) Error() string { return "no tasks available for " + e.pool }

// IsNoTasks reports whether err indicates an empty task pool.
func IsNoTasks(err error) bool {
	var e noTasksError
	return errors.As(err, &e)
}
