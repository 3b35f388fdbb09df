package run

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"metabert/internal/config"
	"metabert/internal/device"
	"metabert/internal/encoder"
	"metabert/internal/maml"
	"metabert/internal/tasks"
	"metabert/pkg/types"
)

func smallSettings(t *testing.T) config.Config {
	t.Helper()
	c := config.Default()
	c.EncoderCheckpoint = "bert-micro"
	c.OuterBatchSize = 2
	c.InnerBatchSize = 2
	c.OuterUpdateLR = 1e-3
	c.InnerUpdateLR = 1e-3
	c.InnerUpdateStep = 1
	c.InnerUpdateStepEval = 1
	c.MetaTestingSize = 4
	c.KSupport = 4
	c.KQuery = 4
	c.NumTaskTest = 2
	c.SyntheticTasks = 4
	c.SyntheticRows = 24
	c.SeqLen = 8
	c.Epochs = 2
	c.StepsPerEpoch = 2
	c.EvalEvery = 2
	c.Seed = 3
	c.Device = "accel:0"
	c.CheckpointDir = t.TempDir()
	return c
}

func buildRunner(t *testing.T, c config.Config, pub maml.EventPublisher) *Runner {
	t.Helper()
	r, err := Build(c, nil, pub)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return r
}

func TestRunEndToEnd(t *testing.T) {
	c := smallSettings(t)
	pub := maml.NewMemoryPublisher()
	r := buildRunner(t, c, pub)
	stepsBefore := testutil.ToFloat64(metaSteps)
	ckptsBefore := testutil.ToFloat64(checkpoints)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	st := r.Status()
	if st.Phase != string(PhaseDone) || st.Epoch != 2 || st.Step != 4 {
		t.Fatalf("unexpected status: phase=%s epoch=%d step=%d", st.Phase, st.Epoch, st.Step)
	}
	if st.LastTrain == nil || st.LastTest == nil || st.LastForgetting == nil || st.BestTest == nil {
		t.Fatalf("metrics not recorded: %+v", st)
	}
	if st.LastTest.Step != 4 || st.BestTest.Value < st.LastTest.Value {
		t.Fatalf("best/last test inconsistent: best=%+v last=%+v", st.BestTest, st.LastTest)
	}
	if st.CurrentTask != "" || st.LastError != "" || !r.Ready() {
		t.Fatalf("run should be idle and healthy: %+v", st)
	}
	if got := testutil.ToFloat64(metaSteps) - stepsBefore; got != 4 {
		t.Fatalf("meta steps metric delta = %v", got)
	}
	if got := testutil.ToFloat64(checkpoints) - ckptsBefore; got != 2 {
		t.Fatalf("checkpoints metric delta = %v", got)
	}
	if r.Heads().Len() != 8 {
		t.Fatalf("expected 8 recorded heads, got %d", r.Heads().Len())
	}
	// 4 steps x 2 tasks, plus 2 evaluations x (2 tasks + forgetting pass)
	if st.Device.Moves != 14 || st.Device.UsedBytes != 0 || len(st.Device.Residents) != 0 {
		t.Fatalf("unexpected device accounting: %+v", st.Device)
	}
	if len(pub.Named(maml.EventTaskStart)) != 8+4 {
		t.Fatalf("publisher saw %d task_start events", len(pub.Named(maml.EventTaskStart)))
	}

	want := CheckpointPath(c.CheckpointDir, 2)
	if st.Checkpoint != want {
		t.Fatalf("checkpoint = %q want %q", st.Checkpoint, want)
	}
	loaded, err := encoder.LoadFile(want, 1)
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if loaded.Fingerprint() != r.Learner().Encoder().Fingerprint() {
		t.Fatalf("checkpoint does not match final encoder")
	}
	if _, err := os.Stat(CheckpointPath(c.CheckpointDir, 1)); err != nil {
		t.Fatalf("first epoch checkpoint missing: %v", err)
	}

	if err := r.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestEvaluationDoesNotChangeTraining(t *testing.T) {
	final := func(evalEvery int) uint64 {
		c := smallSettings(t)
		c.EvalEvery = evalEvery
		c.CheckpointDir = ""
		r := buildRunner(t, c, nil)
		if err := r.Run(context.Background()); err != nil {
			t.Fatalf("run (eval_every=%d): %v", evalEvery, err)
		}
		return r.Learner().Encoder().Fingerprint()
	}
	without, with := final(0), final(1)
	if without != with {
		t.Fatalf("evaluations changed the trained encoder: %016x vs %016x", without, with)
	}
}

func TestEvaluateLeavesSharedEncoderUntouched(t *testing.T) {
	c := smallSettings(t)
	r := buildRunner(t, c, nil)
	before := r.Learner().Encoder().Fingerprint()
	res, err := r.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Tasks) != c.NumTaskTest {
		t.Fatalf("expected %d task reports, got %d", c.NumTaskTest, len(res.Tasks))
	}
	if r.Learner().Encoder().Fingerprint() != before {
		t.Fatalf("evaluation changed the shared encoder")
	}
	if r.Phase() != PhaseIdle {
		t.Fatalf("phase not restored: %s", r.Phase())
	}
	if st := r.Status(); st.LastTest == nil || st.BestTest == nil || st.Step != 0 {
		t.Fatalf("evaluation not recorded: %+v", st)
	}
}

func TestRunCancelled(t *testing.T) {
	r := buildRunner(t, smallSettings(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	st := r.Status()
	if st.Phase != string(PhaseError) || st.LastError == "" || r.Ready() {
		t.Fatalf("cancelled run should report error: %+v", st)
	}
	if st.Step != 0 {
		t.Fatalf("no step should have run, got %d", st.Step)
	}
}

func TestNew_TaskPools(t *testing.T) {
	c := smallSettings(t)
	enc, err := encoder.FromCheckpoint("bert-micro", 1)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	sets, err := LoadTasks(c, enc.Config())
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	s, err := tasks.NewSampler(sets, 1)
	if err != nil {
		t.Fatalf("sampler: %v", err)
	}

	c.TrainTasks = []string{" Synthetic-00 ", "synthetic-02"}
	c.TestTasks = []string{"synthetic-01"}
	r, err := New(c, Options{Encoder: enc, Sampler: s, Device: device.NewHost()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := r.TrainPool(); len(got) != 2 || got[0] != "synthetic-00" {
		t.Fatalf("train pool = %v", got)
	}
	if got := r.TestPool(); len(got) != 1 || got[0] != "synthetic-01" {
		t.Fatalf("test pool = %v", got)
	}

	c.TrainTasks = []string{"cola"}
	if _, err := New(c, Options{Encoder: enc, Sampler: s}); err == nil {
		t.Fatalf("expected unknown task error")
	}
	c.TrainTasks = []string{" "}
	if _, err := New(c, Options{Encoder: enc, Sampler: s}); !IsNoTasks(err) {
		t.Fatalf("expected no-tasks error, got %v", err)
	}
	if _, err := New(c, Options{Sampler: s}); err == nil {
		t.Fatalf("expected missing encoder error")
	}
}

func TestBuild_RejectsInvalidSettings(t *testing.T) {
	c := smallSettings(t)
	c.KQuery = 0
	if _, err := Build(c, nil, nil); err == nil {
		t.Fatalf("expected validation error")
	}
	c = smallSettings(t)
	c.Device = "tpu"
	if _, err := Build(c, nil, nil); err == nil {
		t.Fatalf("expected device error")
	}
	c = smallSettings(t)
	c.EncoderCheckpoint = "no-such-model"
	if _, err := Build(c, nil, nil); err == nil {
		t.Fatalf("expected checkpoint error")
	}
}

func TestLoadTasks_SyntheticAlternatesModes(t *testing.T) {
	c := smallSettings(t)
	cfg, _ := encoder.Preset("bert-micro")
	sets, err := LoadTasks(c, cfg)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(sets) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(sets))
	}
	for i, fs := range sets {
		want := types.Classification
		if i%2 == 1 {
			want = types.Regression
		}
		if fs.Spec.Mode != want || fs.Rows.Len() != c.SyntheticRows || fs.Rows.SeqLen() != c.SeqLen {
			t.Fatalf("task %d: mode=%s rows=%d seq=%d", i, fs.Spec.Mode, fs.Rows.Len(), fs.Rows.SeqLen())
		}
	}
}

func TestLoadTasks_DataDir(t *testing.T) {
	dir := t.TempDir()
	rows := `{"input_ids":[1,5,2],"label":1}
{"input_ids":[1,7,2],"label":0}
`
	if err := os.WriteFile(filepath.Join(dir, "RTE.jsonl"), []byte(rows), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := smallSettings(t)
	c.DataDir = dir
	cfg, _ := encoder.Preset("bert-micro")
	sets, err := LoadTasks(c, cfg)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(sets) != 1 || sets[0].Spec.ID != "rte" || sets[0].Spec.Rows != 2 {
		t.Fatalf("unexpected sets: %+v", sets)
	}

	c.DataDir = t.TempDir()
	if _, err := LoadTasks(c, cfg); !IsNoTasks(err) {
		t.Fatalf("expected no-tasks error for empty dir, got %v", err)
	}
}

func TestPublishTracksCurrentTask(t *testing.T) {
	pub := maml.NewMemoryPublisher()
	r := buildRunner(t, smallSettings(t), pub)
	r.Publish(maml.Event{Name: maml.EventTaskStart, TaskID: "synthetic-01"})
	if got := r.Status().CurrentTask; got != "synthetic-01" {
		t.Fatalf("current task = %q", got)
	}
	r.Publish(maml.Event{Name: maml.EventTaskDone, TaskID: "synthetic-01"})
	if got := r.Status().CurrentTask; got != "" {
		t.Fatalf("current task not cleared: %q", got)
	}
	if len(pub.Events()) != 2 {
		t.Fatalf("events not forwarded: %d", len(pub.Events()))
	}
}
