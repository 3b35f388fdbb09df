package run

import "metabert/internal/maml"

// Publish tracks the task in progress and forwards e to the configured
// publisher.
func (r *Runner) Publish(e maml.Event) {
	r.mu.Lock()
	switch e.Name {
	case maml.EventTaskStart:
		r.current = e.TaskID
	case maml.EventTaskDone, maml.EventEvalDone, maml.EventForgettingDone:
		r.current = ""
	}
	r.mu.Unlock()
	if r.pub != nil {
		r.pub.Publish(e)
	}
}
