package maml

import "sync"

// Event is a learner lifecycle event: a name, the task it concerns and
// optional fields.
type Event struct {
	Name   string
	TaskID string
	Fields map[string]any
}

// Event names.
const (
	EventTaskStart       = "task_start"
	EventInnerPass       = "inner_pass"
	EventOuterStep       = "outer_step"
	EventTaskDone        = "task_done"
	EventEvalDone        = "eval_done"
	EventForgettingStart = "forgetting_start"
	EventForgettingDone  = "forgetting_done"
)

// EventPublisher receives events synchronously from the learner.
// Implementations must be cheap and must not panic.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Named returns the published events with the given name.
func (p *MemoryPublisher) Named(name string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// MultiPublisher fans an event out to several publishers in order.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}
