package tasks

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"metabert/pkg/types"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	return p
}

func TestLoadDir_GLUEAndOverrides(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "RTE.jsonl", `{"input_ids":[1,5,2],"attention_mask":[1,1,1],"segment_ids":[0,0,0],"label":1}
{"input_ids":[1,6,2],"label":0}
`)
	writeTempFile(t, dir, "sts-b.jsonl", `{"input_ids":[1,5,2],"label":3.4}`+"\n")
	writeTempFile(t, dir, "custom.jsonl", `{"input_ids":[1,9],"label":0.5}`+"\n")
	writeTempFile(t, dir, "notes.txt", "ignored")

	sets, err := LoadDir(dir, map[string]types.OutputMode{"custom": types.Regression})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sets) != 3 {
		t.Fatalf("expected 3 sets, got %d", len(sets))
	}
	byID := map[string]*FeatureSet{}
	for _, s := range sets {
		byID[s.Spec.ID] = s
	}
	rte := byID["rte"]
	if rte == nil || rte.Spec.Mode != types.Classification || rte.Spec.Rows != 2 {
		t.Fatalf("unexpected rte set: %+v", rte)
	}
	// defaults for missing mask and segments
	if rte.Rows.AttentionMask[1][2] != 1 || rte.Rows.SegmentIDs[1][0] != 0 {
		t.Fatalf("defaults not applied: %+v", rte.Rows)
	}
	if byID["sts-b"].Spec.Mode != types.Regression || byID["custom"].Spec.Mode != types.Regression {
		t.Fatalf("modes not assigned")
	}
}

func TestLoadDir_UnknownTaskNeedsMode(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "mystery.jsonl", `{"input_ids":[1],"label":0}`+"\n")
	if _, err := LoadDir(dir, nil); err == nil {
		t.Fatalf("expected error for task without mode")
	}
}

func TestLoadDir_RejectsBadRows(t *testing.T) {
	cases := map[string]string{
		"ragged":    `{"input_ids":[1,2],"label":0}` + "\n" + `{"input_ids":[1],"label":1}`,
		"label":     `{"input_ids":[1,2],"label":2}`,
		"not json":  `{"input_ids":[1,2],`,
		"empty set": ``,
	}
	for name, body := range cases {
		dir := t.TempDir()
		writeTempFile(t, dir, "sst-2.jsonl", body)
		if _, err := LoadDir(dir, nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidateMetaBatch(t *testing.T) {
	good := Synthetic("a", types.Classification, 6, 8, 64, 1)
	modes := ModeMap{"a": good.Spec}
	ep := Episode{Support: good.Rows.Range(0, 3), Query: good.Rows.Range(3, 6)}
	if err := ValidateMetaBatch([]string{"a"}, []Episode{ep}, modes); err != nil {
		t.Fatalf("valid batch rejected: %v", err)
	}
	if err := ValidateMetaBatch([]string{"a", "a"}, []Episode{ep}, modes); !errors.Is(err, ErrInvalidBatch) {
		t.Fatalf("length mismatch: %v", err)
	}
	if err := ValidateMetaBatch([]string{"b"}, []Episode{ep}, modes); !errors.Is(err, ErrInvalidBatch) {
		t.Fatalf("unknown id: %v", err)
	}
	bad := ep
	bad.Query.Labels = []float64{0, 1, 3}
	if err := ValidateMetaBatch([]string{"a"}, []Episode{bad}, modes); !errors.Is(err, ErrInvalidBatch) {
		t.Fatalf("bad label: %v", err)
	}
}

func TestSampler_BuildMetaBatch(t *testing.T) {
	s, err := NewSampler([]*FeatureSet{
		Synthetic("a", types.Classification, 20, 8, 64, 1),
		Synthetic("b", types.Regression, 20, 8, 64, 2),
	}, 3)
	if err != nil {
		t.Fatalf("sampler: %v", err)
	}
	eps, err := s.BuildMetaBatch([]string{"a", "b"}, 4, 3)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(eps) != 2 || eps[0].Support.Len() != 4 || eps[1].Query.Len() != 3 {
		t.Fatalf("unexpected episode sizes")
	}
	if err := ValidateMetaBatch([]string{"a", "b"}, eps, s.Modes()); err != nil {
		t.Fatalf("sampled batch invalid: %v", err)
	}
	if _, err := s.BuildMetaBatch([]string{"a"}, 15, 10); !errors.Is(err, ErrInvalidBatch) {
		t.Fatalf("expected too-few-rows error, got %v", err)
	}
	if _, err := s.BuildMetaBatch([]string{"zzz"}, 1, 1); !errors.Is(err, ErrInvalidBatch) {
		t.Fatalf("expected unknown-task error, got %v", err)
	}
}

func TestSampler_SampleTasks(t *testing.T) {
	s, _ := NewSampler([]*FeatureSet{
		Synthetic("a", types.Classification, 4, 6, 32, 1),
		Synthetic("b", types.Classification, 4, 6, 32, 2),
		Synthetic("c", types.Classification, 4, 6, 32, 3),
	}, 9)
	ids, err := s.SampleTasks(3, nil)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected distinct ids, got %v", ids)
	}
	ids, _ = s.SampleTasks(5, []string{"a"})
	if len(ids) != 5 || ids[4] != "a" {
		t.Fatalf("expected repeated pool, got %v", ids)
	}
	if _, err := s.SampleTasks(1, []string{"nope"}); err == nil {
		t.Fatalf("expected unknown pool id error")
	}
}

func TestSampler_ForkLeavesParentStream(t *testing.T) {
	newSampler := func() *Sampler {
		s, err := NewSampler([]*FeatureSet{
			Synthetic("a", types.Classification, 12, 6, 32, 1),
			Synthetic("b", types.Regression, 12, 6, 32, 2),
		}, 5)
		if err != nil {
			t.Fatalf("sampler: %v", err)
		}
		return s
	}
	plain, forked := newSampler(), newSampler()
	f := forked.Fork(99)
	fids, err := f.SampleTasks(2, nil)
	if err != nil {
		t.Fatalf("fork sample: %v", err)
	}
	if _, err := f.BuildMetaBatch(fids, 3, 3); err != nil {
		t.Fatalf("fork batch: %v", err)
	}
	for i := 0; i < 3; i++ {
		x, _ := plain.SampleTasks(2, nil)
		y, _ := forked.SampleTasks(2, nil)
		if x[0] != y[0] || x[1] != y[1] {
			t.Fatalf("draw %d: fork changed parent task order: %v vs %v", i, x, y)
		}
		bx, err := plain.BuildMetaBatch(x, 3, 3)
		if err != nil {
			t.Fatalf("batch: %v", err)
		}
		by, _ := forked.BuildMetaBatch(y, 3, 3)
		if !reflect.DeepEqual(bx, by) {
			t.Fatalf("draw %d: fork changed parent rows", i)
		}
	}
}

func TestSampler_RejectsDuplicates(t *testing.T) {
	a := Synthetic("a", types.Classification, 2, 4, 16, 1)
	if _, err := NewSampler([]*FeatureSet{a, a}, 1); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestSynthetic_Shapes(t *testing.T) {
	for _, mode := range []types.OutputMode{types.Classification, types.Regression} {
		fs := Synthetic("x", mode, 50, 8, 40, 5)
		if err := fs.Rows.Validate(); err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if err := fs.Rows.ValidateLabels(mode); err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		for i, row := range fs.Rows.InputIDs {
			if row[0] != clsToken {
				t.Fatalf("row %d does not start with CLS", i)
			}
			for _, id := range row {
				if id < 0 || id >= 40 {
					t.Fatalf("token %d outside vocabulary", id)
				}
			}
		}
	}
	// same seed, same data
	a := Synthetic("x", types.Classification, 5, 8, 40, 5)
	b := Synthetic("x", types.Classification, 5, 8, 40, 5)
	for i := range a.Rows.Labels {
		if a.Rows.Labels[i] != b.Rows.Labels[i] || a.Rows.InputIDs[i][1] != b.Rows.InputIDs[i][1] {
			t.Fatalf("synthetic data not deterministic")
		}
	}
}
