// Package maml implements model-agnostic meta-learning over the shared
// encoder. MetaTrain adapts a fresh head per task on its support set and
// updates the encoder from the query loss; MetaTest fine-tunes encoder and
// head per task, scores the query set and re-scores every task afterwards
// to measure forgetting.
package maml

import (
	"math/rand"
	"runtime"

	"github.com/rs/zerolog"

	"metabert/internal/autograd"
	"metabert/internal/device"
	"metabert/internal/encoder"
	"metabert/internal/head"
	"metabert/internal/optim"
	"metabert/internal/tasks"
)

// Learner owns the encoder, the outer optimizer and the per-task loop.
// A Learner is not safe for concurrent use: tasks are processed strictly in
// order and each call mutates the encoder.
type Learner struct {
	cfg   Config
	enc   *encoder.Encoder
	outer *optim.Adam
	rng   *rand.Rand
	log   zerolog.Logger
	pub   EventPublisher
}

// New wraps enc. The encoder's dropout source is reseeded from cfg.Seed so a
// run is reproducible from one seed.
func New(enc *encoder.Encoder, cfg Config) (*Learner, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	enc.SetSeed(cfg.Seed + 1)
	enc.SetTraining(false)
	return &Learner{
		cfg:   cfg,
		enc:   enc,
		outer: optim.NewAdam(enc.Params(), cfg.OuterUpdateLR),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		log:   cfg.Logger.With().Str("component", "maml").Logger(),
		pub:   cfg.Publisher,
	}, nil
}

// Encoder returns the shared encoder.
func (l *Learner) Encoder() *encoder.Encoder { return l.enc }

// Config returns the effective configuration after defaults.
func (l *Learner) Config() Config { return l.cfg }

// OuterSteps is the number of encoder optimizer steps taken so far.
func (l *Learner) OuterSteps() int { return l.outer.Steps() }

// SetEventPublisher replaces the event sink.
func (l *Learner) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	l.pub = p
}

// acquire leases the encoder onto the configured device. The returned
// release func must be deferred; it restores evaluation mode and gradient
// tracking, returns the encoder to the host and flushes the device cache.
func (l *Learner) acquire() (func(), error) {
	lease, err := device.Acquire(l.cfg.Device, l.enc)
	if err != nil {
		return nil, err
	}
	return func() {
		l.enc.SetTraining(false)
		l.enc.SetRequiresGrad(true)
		lease.Release()
		l.cfg.Device.EmptyCache()
		runtime.GC()
	}, nil
}

func (l *Learner) newHead(taskID string, spec tasks.ModeMap) (*head.Head, head.Objective, error) {
	return head.New(spec[taskID].Mode, taskID, l.enc.HiddenSize(), l.rng)
}

func (l *Learner) logits(g *autograd.Graph, h *head.Head, b tasks.Batch) (*autograd.Node, error) {
	pooled, err := l.enc.Forward(g, b.InputIDs, b.AttentionMask, b.SegmentIDs)
	if err != nil {
		return nil, err
	}
	return h.Forward(g, pooled), nil
}

// step zeroes every optimizer, backpropagates loss and steps every optimizer.
func step(g *autograd.Graph, loss *autograd.Node, opts ...*optim.Adam) error {
	for _, o := range opts {
		o.ZeroGrad()
	}
	if err := g.Backward(loss); err != nil {
		return err
	}
	for _, o := range opts {
		o.Step()
	}
	return nil
}

// Predict scores b with h without recording gradients. The returned logits
// are never tracked.
func (l *Learner) Predict(h *head.Head, b tasks.Batch) (*autograd.Node, error) {
	return l.logits(autograd.NewGraph(false), h, b)
}

// evaluate scores b in chunks of EvalBatchSize with gradients disabled and
// returns the pooled metric and the mean loss.
func (l *Learner) evaluate(h *head.Head, obj head.Objective, b tasks.Batch) (float64, float64, error) {
	tally := obj.NewTally()
	var lossSum float64
	n := b.Len()
	for from := 0; from < n; from += l.cfg.EvalBatchSize {
		to := min(from+l.cfg.EvalBatchSize, n)
		chunk := b.Range(from, to)
		out, err := l.Predict(h, chunk)
		if err != nil {
			return 0, 0, err
		}
		loss, err := obj.Loss(autograd.NewGraph(false), out, chunk.Labels)
		if err != nil {
			return 0, 0, err
		}
		lossSum += loss.Scalar() * float64(to-from)
		tally.Add(out.Value, chunk.Labels)
	}
	return tally.Value(), lossSum / float64(n), nil
}

// shuffled splits a permutation of [0,n) into mini-batches.
func (l *Learner) shuffled(n, size int) [][]int {
	return chunk(l.rng.Perm(n), size)
}

// drawn samples draws indices from [0,n) with replacement and splits them
// into mini-batches.
func (l *Learner) drawn(n, draws, size int) [][]int {
	idx := make([]int, draws)
	for i := range idx {
		idx[i] = l.rng.Intn(n)
	}
	return chunk(idx, size)
}

func chunk(idx []int, size int) [][]int {
	var out [][]int
	for from := 0; from < len(idx); from += size {
		out = append(out, idx[from:min(from+size, len(idx))])
	}
	return out
}
