package maml

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"metabert/internal/head"
	"metabert/internal/optim"
	"metabert/internal/tasks"
	"metabert/pkg/types"
)

// TaskReport is the meta-test outcome of one task.
type TaskReport struct {
	TaskID string           `json:"task_id"`
	Mode   types.OutputMode `json:"mode"`
	// Metric is the query metric right after the task's fine-tuning.
	Metric    float64 `json:"metric"`
	QueryLoss float64 `json:"query_loss"`
	// ForgettingMetric is the query metric re-measured after every task in
	// the meta-batch has been fine-tuned.
	ForgettingMetric float64 `json:"forgetting_metric"`
	HeadSteps        int     `json:"head_steps"`
	EncoderSteps     int     `json:"encoder_steps"`
}

// TestResult aggregates a MetaTest call.
type TestResult struct {
	QueryMetric      float64      `json:"query_metric"`
	ForgettingMetric float64      `json:"forgetting_metric"`
	Tasks            []TaskReport `json:"tasks"`
}

type adapted struct {
	h   *head.Head
	obj head.Objective
}

// MetaTest fine-tunes the encoder and a fresh head on each task's support
// set, sampled with replacement, and scores the query set without gradients.
// After all tasks it re-scores every query set with that task's own head to
// measure forgetting; nothing is updated during that pass.
func (l *Learner) MetaTest(ids []string, batch []tasks.Episode, modes tasks.ModeMap) (TestResult, error) {
	if len(ids) == 0 {
		return TestResult{}, fmt.Errorf("%w: empty meta-batch", tasks.ErrInvalidBatch)
	}
	if err := tasks.ValidateMetaBatch(ids, batch, modes); err != nil {
		return TestResult{}, err
	}
	res := TestResult{Tasks: make([]TaskReport, len(ids))}
	heads := make([]adapted, len(ids))
	for i, id := range ids {
		rep, a, err := l.testTask(id, batch[i], modes)
		if err != nil {
			tasksTotal.WithLabelValues(phaseTest, "error").Inc()
			l.log.Error().Err(err).Str("task", id).Msg("meta-test task failed")
			return TestResult{}, fmt.Errorf("meta-test task %s: %w", id, err)
		}
		res.Tasks[i] = rep
		heads[i] = a
	}
	if err := l.forgetting(ids, batch, heads, res.Tasks); err != nil {
		return TestResult{}, fmt.Errorf("forgetting check: %w", err)
	}
	query := make([]float64, len(ids))
	forget := make([]float64, len(ids))
	for i, r := range res.Tasks {
		query[i], forget[i] = r.Metric, r.ForgettingMetric
	}
	res.QueryMetric = stat.Mean(query, nil)
	res.ForgettingMetric = stat.Mean(forget, nil)
	l.log.Info().Int("tasks", len(ids)).Float64("query_metric", res.QueryMetric).
		Float64("forgetting_metric", res.ForgettingMetric).Msg("meta-test done")
	return res, nil
}

func (l *Learner) testTask(id string, ep tasks.Episode, modes tasks.ModeMap) (TaskReport, adapted, error) {
	start := time.Now()
	h, obj, err := l.newHead(id, modes)
	if err != nil {
		return TaskReport{}, adapted{}, err
	}
	inner := optim.NewAdam(h.Params(), l.cfg.InnerUpdateLR)
	release, err := l.acquire()
	if err != nil {
		inner.Release()
		return TaskReport{}, adapted{}, err
	}
	defer func() {
		inner.Release()
		release()
	}()
	l.pub.Publish(Event{Name: EventTaskStart, TaskID: id, Fields: map[string]any{
		"phase": phaseTest, "mode": string(h.Mode), "support": ep.Support.Len(), "query": ep.Query.Len(),
	}})

	encBefore := l.outer.Steps()
	l.enc.SetTraining(true)
	l.enc.SetRequiresGrad(true)
	h.SetTraining(true)
	h.SetRequiresGrad(true)
	for pass := 0; pass < l.cfg.InnerUpdateStepEval; pass++ {
		batches := l.drawn(ep.Support.Len(), l.cfg.MetaTestingSize, l.cfg.InnerBatchSize)
		if err := l.innerPass(phaseTest, id, pass, h, obj, ep.Support, batches, inner, true); err != nil {
			return TaskReport{}, adapted{}, err
		}
	}
	rep := TaskReport{TaskID: id, Mode: h.Mode, HeadSteps: inner.Steps(), EncoderSteps: l.outer.Steps() - encBefore}

	l.enc.SetTraining(false)
	h.SetTraining(false)
	h.SetRequiresGrad(false)
	rep.Metric, rep.QueryLoss, err = l.evaluate(h, obj, ep.Query)
	if err != nil {
		return TaskReport{}, adapted{}, err
	}
	tasksTotal.WithLabelValues(phaseTest, "ok").Inc()
	queryMetric.WithLabelValues(phaseTest).Observe(rep.Metric)
	taskSeconds.WithLabelValues(phaseTest).Observe(time.Since(start).Seconds())
	l.log.Info().Str("task", id).Float64("query_metric", rep.Metric).Float64("query_loss", rep.QueryLoss).
		Int("head_steps", rep.HeadSteps).Int("encoder_steps", rep.EncoderSteps).Msg("meta-test task done")
	l.pub.Publish(Event{Name: EventEvalDone, TaskID: id, Fields: map[string]any{
		"metric": rep.Metric, "loss": rep.QueryLoss, "head_steps": rep.HeadSteps, "encoder_steps": rep.EncoderSteps,
	}})
	return rep, adapted{h: h, obj: obj}, nil
}

func (l *Learner) forgetting(ids []string, batch []tasks.Episode, heads []adapted, reports []TaskReport) error {
	release, err := l.acquire()
	if err != nil {
		return err
	}
	defer release()
	l.pub.Publish(Event{Name: EventForgettingStart, Fields: map[string]any{"tasks": len(ids)}})
	l.enc.SetTraining(false)
	for i, id := range ids {
		a := heads[i]
		a.h.SetTraining(false)
		m, _, err := l.evaluate(a.h, a.obj, batch[i].Query)
		if err != nil {
			return fmt.Errorf("task %s: %w", id, err)
		}
		reports[i].ForgettingMetric = m
		queryMetric.WithLabelValues(phaseForgetting).Observe(m)
		l.log.Debug().Str("task", id).Float64("metric", m).Msg("forgetting check")
	}
	l.pub.Publish(Event{Name: EventForgettingDone, Fields: map[string]any{"tasks": len(ids)}})
	return nil
}
