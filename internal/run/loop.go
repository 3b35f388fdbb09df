package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"metabert/internal/common/fsutil"
	"metabert/internal/maml"
)

// Run executes the configured epochs. Each meta step samples
// outer_batch_size training tasks and calls MetaTrain; every eval_every
// steps a meta-test runs on a copy of the encoder; after each epoch the
// encoder is checkpointed when checkpoint_dir is set. Run returns when all
// epochs are done, a step fails or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.started = true
	r.phase = PhaseTraining
	r.mu.Unlock()

	r.log.Info().Int("epochs", r.settings.Epochs).Int("steps_per_epoch", r.settings.StepsPerEpoch).
		Strs("train_tasks", r.trainPool).Msg("run started")
	if err := r.loop(ctx); err != nil {
		r.fail(err)
		return err
	}
	r.mu.Lock()
	r.phase = PhaseDone
	r.fingerprint = r.enc.Fingerprint()
	r.mu.Unlock()
	r.log.Info().Int("steps", r.Step()).Msg("run finished")
	return nil
}

func (r *Runner) loop(ctx context.Context) error {
	s := r.settings
	for epoch := 1; epoch <= s.Epochs; epoch++ {
		r.mu.Lock()
		r.epoch = epoch
		r.mu.Unlock()
		for i := 0; i < s.StepsPerEpoch; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.trainStep(); err != nil {
				return err
			}
			if s.EvalEvery > 0 && r.Step()%s.EvalEvery == 0 {
				if _, err := r.Evaluate(ctx); err != nil {
					return err
				}
			}
		}
		if s.CheckpointDir != "" {
			if err := r.saveCheckpoint(epoch); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) trainStep() error {
	s := r.settings
	ids, err := r.sampler.SampleTasks(s.OuterBatchSize, r.trainPool)
	if err != nil {
		return err
	}
	batch, err := r.sampler.BuildMetaBatch(ids, s.KSupport, s.KQuery)
	if err != nil {
		return err
	}
	acc, err := r.learner.MetaTrain(ids, batch, r.modes)
	if err != nil {
		return fmt.Errorf("step %d: %w", r.Step()+1, err)
	}
	metaSteps.Inc()
	lastMetric.WithLabelValues("train").Set(acc)

	r.mu.Lock()
	r.step++
	r.lastTrain = &point{step: r.step, epoch: r.epoch, value: acc, at: time.Now()}
	step := r.step
	r.mu.Unlock()
	r.log.Info().Int("step", step).Strs("tasks", ids).Float64("query_metric", acc).Msg("meta step")
	return nil
}

// Evaluate meta-tests num_task_test tasks from the test pool on a copy of
// the encoder, drawing from a forked sampler. Neither the shared weights nor
// the training random streams are affected. It must not be called
// concurrently with Run.
func (r *Runner) Evaluate(ctx context.Context) (maml.TestResult, error) {
	if err := ctx.Err(); err != nil {
		return maml.TestResult{}, err
	}
	s := r.settings
	prev := r.setPhase(PhaseTesting)
	defer r.setPhase(prev)

	r.mu.Lock()
	r.evals++
	seed := s.Seed + int64(r.evals)*7919
	r.mu.Unlock()

	sampler := r.sampler.Fork(seed)
	ids, err := sampler.SampleTasks(s.NumTaskTest, r.testPool)
	if err != nil {
		return maml.TestResult{}, err
	}
	batch, err := sampler.BuildMetaBatch(ids, s.KSupport, s.KQuery)
	if err != nil {
		return maml.TestResult{}, err
	}
	clone, err := r.enc.Clone(seed)
	if err != nil {
		return maml.TestResult{}, err
	}
	tester, err := maml.New(clone, r.learnerConfig(seed, nil))
	if err != nil {
		return maml.TestResult{}, err
	}
	res, err := tester.MetaTest(ids, batch, r.modes)
	if err != nil {
		return maml.TestResult{}, fmt.Errorf("evaluate: %w", err)
	}
	evaluations.Inc()
	lastMetric.WithLabelValues("test").Set(res.QueryMetric)
	lastMetric.WithLabelValues("forgetting").Set(res.ForgettingMetric)

	r.mu.Lock()
	now := time.Now()
	r.lastTest = &point{step: r.step, epoch: r.epoch, value: res.QueryMetric, at: now}
	r.lastForget = &point{step: r.step, epoch: r.epoch, value: res.ForgettingMetric, at: now}
	improved := r.bestTest == nil || res.QueryMetric > r.bestTest.value
	if improved {
		r.bestTest = r.lastTest
	}
	r.mu.Unlock()
	r.log.Info().Strs("tasks", ids).Float64("query_metric", res.QueryMetric).
		Float64("forgetting_metric", res.ForgettingMetric).Bool("best", improved).Msg("evaluation")
	return res, nil
}

// CheckpointPath is where the encoder is saved after epoch.
func CheckpointPath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("encoder-epoch-%03d.ckpt", epoch))
}

func (r *Runner) saveCheckpoint(epoch int) error {
	prev := r.setPhase(PhaseCheckpointing)
	defer r.setPhase(prev)
	dir, err := fsutil.ExpandHome(r.settings.CheckpointDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint dir: %w", err)
	}
	path := CheckpointPath(dir, epoch)
	if err := r.enc.SaveFile(path); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	checkpoints.Inc()
	fp := r.enc.Fingerprint()
	r.mu.Lock()
	r.checkpoint = path
	r.fingerprint = fp
	r.mu.Unlock()
	r.log.Info().Int("epoch", epoch).Str("path", path).Str("fingerprint", fmt.Sprintf("%016x", fp)).Msg("checkpoint saved")
	return nil
}

func (r *Runner) setPhase(p Phase) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.phase
	r.phase = p
	return prev
}

func (r *Runner) fail(err error) {
	r.mu.Lock()
	r.phase = PhaseError
	r.err = err.Error()
	r.current = ""
	r.mu.Unlock()
	r.log.Error().Err(err).Msg("run failed")
}
