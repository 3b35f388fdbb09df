package run

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"metabert/internal/config"
	"metabert/internal/device"
	"metabert/internal/encoder"
	"metabert/internal/head"
	"metabert/internal/maml"
	"metabert/internal/tasks"
)

// Options are the collaborators of a Runner.
type Options struct {
	Encoder *encoder.Encoder
	Sampler *tasks.Sampler
	// Device defaults to the host pool.
	Device device.Device
	Logger *zerolog.Logger
	// Publisher receives every learner event after the Runner has seen it.
	Publisher maml.EventPublisher
}

// Runner owns a learner and its task pools and records run progress.
type Runner struct {
	id        string
	settings  config.Config
	enc       *encoder.Encoder
	sampler   *tasks.Sampler
	dev       device.Device
	learner   *maml.Learner
	heads     *head.Log
	modes     tasks.ModeMap
	trainPool []string
	testPool  []string
	log       zerolog.Logger
	pub       maml.EventPublisher
	startTime time.Time

	mu          sync.RWMutex
	started     bool
	phase       Phase
	epoch       int
	step        int
	evals       int
	current     string
	lastTrain   *point
	lastTest    *point
	lastForget  *point
	bestTest    *point
	checkpoint  string
	fingerprint uint64
	err         string
}

// New validates settings and wires a learner around opts.Encoder.
func New(settings config.Config, opts Options) (*Runner, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Encoder == nil || opts.Sampler == nil {
		return nil, fmt.Errorf("runner needs an encoder and a sampler")
	}
	if opts.Device == nil {
		opts.Device = device.DefaultHost()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	r := &Runner{
		id:        uuid.NewString(),
		settings:  settings,
		enc:       opts.Encoder,
		sampler:   opts.Sampler,
		dev:       opts.Device,
		heads:     head.NewLog(settings.HeadLogSize),
		modes:     opts.Sampler.Modes(),
		pub:       opts.Publisher,
		startTime: time.Now(),
		phase:     PhaseIdle,
	}
	r.log = logger.With().Str("component", "run").Str("run_id", r.id).Logger()
	var err error
	if r.trainPool, err = resolvePool("train_tasks", settings.TrainTasks, opts.Sampler); err != nil {
		return nil, err
	}
	if r.testPool, err = resolvePool("test_tasks", settings.TestTasks, opts.Sampler); err != nil {
		return nil, err
	}
	r.learner, err = maml.New(r.enc, r.learnerConfig(settings.Seed, r.heads))
	if err != nil {
		return nil, err
	}
	r.fingerprint = r.enc.Fingerprint()
	return r, nil
}

func (r *Runner) learnerConfig(seed int64, heads maml.HeadRecorder) maml.Config {
	s := r.settings
	return maml.Config{
		InnerBatchSize:      s.InnerBatchSize,
		OuterUpdateLR:       s.OuterUpdateLR,
		InnerUpdateLR:       s.InnerUpdateLR,
		InnerUpdateStep:     s.InnerUpdateStep,
		InnerUpdateStepEval: s.InnerUpdateStepEval,
		MetaTestingSize:     s.MetaTestingSize,
		EvalBatchSize:       s.EvalBatchSize,
		Seed:                seed,
		Device:              r.dev,
		Logger:              &r.log,
		Publisher:           r,
		Heads:               heads,
	}
}

// resolvePool lowercases requested ids and checks them against the sampler.
// An empty request selects every task.
func resolvePool(name string, requested []string, s *tasks.Sampler) ([]string, error) {
	if len(requested) == 0 {
		ids := s.TaskIDs()
		if len(ids) == 0 {
			return nil, noTasksError{pool: name}
		}
		return ids, nil
	}
	known := s.Modes()
	out := make([]string, 0, len(requested))
	for _, id := range requested {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, ok := known[id]; !ok {
			return nil, fmt.Errorf("%s: unknown task %q", name, id)
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, noTasksError{pool: name}
	}
	return out, nil
}

// ID is the run identifier.
func (r *Runner) ID() string { return r.id }

// Learner returns the learner driving the shared encoder.
func (r *Runner) Learner() *maml.Learner { return r.learner }

// Heads returns the log of heads used during meta-training.
func (r *Runner) Heads() *head.Log { return r.heads }

// TrainPool lists the task ids meta-training samples from.
func (r *Runner) TrainPool() []string { return append([]string(nil), r.trainPool...) }

// TestPool lists the task ids meta-testing samples from.
func (r *Runner) TestPool() []string { return append([]string(nil), r.testPool...) }
