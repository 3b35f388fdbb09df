package run

import (
	"fmt"
	"time"

	"metabert/internal/device"
	"metabert/pkg/types"
)

func (p *point) metric() *types.MetricPoint {
	if p == nil {
		return nil
	}
	return &types.MetricPoint{Step: p.step, Epoch: p.epoch, Value: p.value, TimeUnix: p.at.Unix()}
}

// Status builds a detailed status response for /status.
func (r *Runner) Status() types.StatusResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return types.StatusResponse{
		RunID:          r.id,
		Phase:          string(r.phase),
		Epoch:          r.epoch,
		Step:           r.step,
		CurrentTask:    r.current,
		LastTrain:      r.lastTrain.metric(),
		LastTest:       r.lastTest.metric(),
		LastForgetting: r.lastForget.metric(),
		BestTest:       r.bestTest.metric(),
		Checkpoint:     r.checkpoint,
		Fingerprint:    fmt.Sprintf("%016x", r.fingerprint),
		Device:         device.StatusOf(r.dev),
		LastError:      r.err,
		UptimeSeconds:  int64(time.Since(r.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
}

// Ready reports whether the run is healthy.
func (r *Runner) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase != PhaseError
}

// Tasks lists every task known to the sampler.
func (r *Runner) Tasks() []types.TaskSpec { return r.sampler.Tasks() }

// Phase returns the current lifecycle phase.
func (r *Runner) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Step is the number of completed meta steps.
func (r *Runner) Step() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.step
}
