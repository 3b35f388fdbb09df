package device

import "fmt"

// ResourceExhaustionError reports that a placement does not fit the device
// budget even after flushing the cache.
type ResourceExhaustionError struct {
	Device      string
	RequestedMB float64
	UsedMB      float64
	BudgetMB    int
	MarginMB    int
}

func (e ResourceExhaustionError) Error() string {
	return fmt.Sprintf("device %s exhausted: requested %.1fMB with %.1fMB used of %dMB budget (margin %dMB)",
		e.Device, e.RequestedMB, e.UsedMB, e.BudgetMB, e.MarginMB)
}

// IsResourceExhausted reports whether err is a budget overflow.
func IsResourceExhausted(err error) bool {
	_, ok := err.(ResourceExhaustionError)
	return ok
}
