package run

import "time"

// Phase is the lifecycle phase of a run.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseTraining      Phase = "training"
	PhaseTesting       Phase = "testing"
	PhaseCheckpointing Phase = "checkpointing"
	PhaseDone          Phase = "done"
	PhaseError         Phase = "error"
)

// point is a recorded metric value.
type point struct {
	step  int
	epoch int
	value float64
	at    time.Time
}
