package tasks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"metabert/internal/common/fsutil"
	"metabert/pkg/types"
)

// FeatureSet is every row available for one task.
type FeatureSet struct {
	Spec types.TaskSpec
	Rows Batch
}

type featureRow struct {
	InputIDs      []int   `json:"input_ids"`
	AttentionMask []int   `json:"attention_mask"`
	SegmentIDs    []int   `json:"segment_ids"`
	Label         float64 `json:"label"`
}

const maxLineBytes = 4 << 20

// LoadDir scans dir for <task>.jsonl feature files. The task id is the
// lowercased file name without extension. Output modes come from modes
// when present there, otherwise from the GLUE table; a file whose task has
// neither is an error.
func LoadDir(dir string, modes map[string]types.OutputMode) ([]*FeatureSet, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var sets []*FeatureSet
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")
		spec, ok := GLUE(id)
		if m, override := modes[id]; override {
			if !ok {
				spec = types.TaskSpec{ID: id, Name: id}
			}
			spec.Mode = m
			ok = true
		}
		if !ok {
			return nil, fmt.Errorf("task %q: no output mode known; set one under task_modes", id)
		}
		fs, err := ReadFeatures(filepath.Join(abs, e.Name()), spec)
		if err != nil {
			return nil, err
		}
		sets = append(sets, fs)
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].Spec.ID < sets[j].Spec.ID })
	return sets, nil
}

// ReadFeatures parses one JSON object per line. Missing attention masks
// default to all ones and missing segment ids to zeros.
func ReadFeatures(path string, spec types.TaskSpec) (*FeatureSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fs := &FeatureSet{Spec: spec}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var row featureRow
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if row.AttentionMask == nil {
			row.AttentionMask = make([]int, len(row.InputIDs))
			for i := range row.AttentionMask {
				row.AttentionMask[i] = 1
			}
		}
		if row.SegmentIDs == nil {
			row.SegmentIDs = make([]int, len(row.InputIDs))
		}
		fs.Rows.Append(row.InputIDs, row.AttentionMask, row.SegmentIDs, row.Label)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := fs.Rows.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := fs.Rows.ValidateLabels(spec.Mode); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	fs.Spec.Rows = fs.Rows.Len()
	return fs, nil
}
