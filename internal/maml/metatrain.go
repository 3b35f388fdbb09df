package maml

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"metabert/internal/autograd"
	"metabert/internal/head"
	"metabert/internal/optim"
	"metabert/internal/tasks"
)

// MetaTrain runs one meta-training step over a meta-batch, task by task:
// a fresh head is adapted on the support set with the encoder frozen, then
// the encoder takes one outer step on the query loss with the head frozen.
// It returns the mean normalized query metric measured at the outer step.
//
// Encoder updates are cumulative across tasks and are not rolled back when
// a later task fails. The encoder is back on the host in evaluation mode
// when MetaTrain returns, on every path.
func (l *Learner) MetaTrain(ids []string, batch []tasks.Episode, modes tasks.ModeMap) (float64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: empty meta-batch", tasks.ErrInvalidBatch)
	}
	if err := tasks.ValidateMetaBatch(ids, batch, modes); err != nil {
		return 0, err
	}
	metrics := make([]float64, 0, len(ids))
	for i, id := range ids {
		m, err := l.trainTask(id, batch[i], modes)
		if err != nil {
			tasksTotal.WithLabelValues(phaseTrain, "error").Inc()
			l.log.Error().Err(err).Str("task", id).Msg("meta-train task failed")
			return 0, fmt.Errorf("meta-train task %s: %w", id, err)
		}
		metrics = append(metrics, m)
	}
	return stat.Mean(metrics, nil), nil
}

func (l *Learner) trainTask(id string, ep tasks.Episode, modes tasks.ModeMap) (float64, error) {
	start := time.Now()
	h, obj, err := l.newHead(id, modes)
	if err != nil {
		return 0, err
	}
	inner := optim.NewAdam(h.Params(), l.cfg.InnerUpdateLR)
	release, err := l.acquire()
	if err != nil {
		inner.Release()
		return 0, err
	}
	defer func() {
		inner.Release()
		release()
	}()
	l.pub.Publish(Event{Name: EventTaskStart, TaskID: id, Fields: map[string]any{
		"phase": phaseTrain, "mode": string(h.Mode), "support": ep.Support.Len(), "query": ep.Query.Len(),
	}})

	l.enc.SetTraining(false)
	l.enc.SetRequiresGrad(false)
	h.SetTraining(true)
	h.SetRequiresGrad(true)
	for pass := 0; pass < l.cfg.InnerUpdateStep; pass++ {
		batches := l.shuffled(ep.Support.Len(), l.cfg.InnerBatchSize)
		if err := l.innerPass(phaseTrain, id, pass, h, obj, ep.Support, batches, inner, false); err != nil {
			return 0, err
		}
	}

	l.enc.SetTraining(true)
	l.enc.SetRequiresGrad(true)
	h.SetTraining(false)
	h.SetRequiresGrad(false)
	g := autograd.NewGraph(true)
	out, err := l.logits(g, h, ep.Query)
	if err != nil {
		return 0, err
	}
	loss, err := obj.Loss(g, out, ep.Query.Labels)
	if err != nil {
		return 0, err
	}
	if err := step(g, loss, l.outer); err != nil {
		return 0, fmt.Errorf("outer step: %w", err)
	}
	optimizerSteps.WithLabelValues(phaseTrain, "encoder").Inc()
	metric := obj.Score(out.Value, ep.Query.Labels)
	l.pub.Publish(Event{Name: EventOuterStep, TaskID: id, Fields: map[string]any{
		"loss": loss.Scalar(), "metric": metric, "outer_steps": l.outer.Steps(),
	}})

	if l.cfg.Heads != nil {
		l.cfg.Heads.Record(h)
	}
	tasksTotal.WithLabelValues(phaseTrain, "ok").Inc()
	queryMetric.WithLabelValues(phaseTrain).Observe(metric)
	taskSeconds.WithLabelValues(phaseTrain).Observe(time.Since(start).Seconds())
	l.log.Info().Str("task", id).Str("mode", string(h.Mode)).Float64("query_loss", loss.Scalar()).
		Float64("query_metric", metric).Dur("took", time.Since(start)).Msg("meta-train task done")
	l.pub.Publish(Event{Name: EventTaskDone, TaskID: id, Fields: map[string]any{"phase": phaseTrain, "metric": metric}})
	return metric, nil
}

// innerPass runs one pass over the given support mini-batches, stepping the
// inner optimizer and, when tuneEncoder is set, the outer one as well.
func (l *Learner) innerPass(phase, id string, pass int, h *head.Head, obj head.Objective, support tasks.Batch, batches [][]int, inner *optim.Adam, tuneEncoder bool) error {
	opts := []*optim.Adam{inner}
	if tuneEncoder {
		opts = append(opts, l.outer)
	}
	losses := make([]float64, 0, len(batches))
	for _, idx := range batches {
		b := support.Subset(idx)
		g := autograd.NewGraph(true)
		out, err := l.logits(g, h, b)
		if err != nil {
			return err
		}
		loss, err := obj.Loss(g, out, b.Labels)
		if err != nil {
			return err
		}
		if err := step(g, loss, opts...); err != nil {
			return fmt.Errorf("inner step: %w", err)
		}
		losses = append(losses, loss.Scalar())
	}
	mean := stat.Mean(losses, nil)
	supportLoss.WithLabelValues(phase).Set(mean)
	optimizerSteps.WithLabelValues(phase, "head").Add(float64(len(batches)))
	if tuneEncoder {
		optimizerSteps.WithLabelValues(phase, "encoder").Add(float64(len(batches)))
	}
	l.log.Debug().Str("task", id).Str("phase", phase).Int("pass", pass).Float64("support_loss", mean).Msg("inner pass")
	l.pub.Publish(Event{Name: EventInnerPass, TaskID: id, Fields: map[string]any{
		"phase": phase, "pass": pass, "loss": mean, "batches": len(batches),
	}})
	return nil
}
