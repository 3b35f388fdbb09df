// Package tasks provides the episodic data the meta-learner consumes:
// pre-tokenized feature batches, support/query episodes and the samplers
// that build meta-batches from feature files or synthetic generators.
package tasks

import (
	"errors"
	"fmt"

	"metabert/pkg/types"
)

// ErrInvalidBatch marks malformed batches and meta-batches.
var ErrInvalidBatch = errors.New("invalid batch")

// Batch is a set of pre-tokenized rows. All four components have one entry
// per row and every row has the same sequence length.
type Batch struct {
	InputIDs      [][]int
	AttentionMask [][]int
	SegmentIDs    [][]int
	Labels        []float64
}

// Episode is one task's support and query sets.
type Episode struct {
	Support Batch
	Query   Batch
}

// ModeMap maps task ids to their specs.
type ModeMap map[string]types.TaskSpec

// Builder produces meta-batches of episodes aligned with ids.
type Builder interface {
	BuildMetaBatch(ids []string, kSupport, kQuery int) ([]Episode, error)
	Modes() ModeMap
}

// Len is the number of rows.
func (b Batch) Len() int { return len(b.Labels) }

// SeqLen is the sequence length of the first row.
func (b Batch) SeqLen() int {
	if len(b.InputIDs) == 0 {
		return 0
	}
	return len(b.InputIDs[0])
}

// Validate checks shape consistency.
func (b Batch) Validate() error {
	n := len(b.Labels)
	if n == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidBatch)
	}
	if len(b.InputIDs) != n || len(b.AttentionMask) != n || len(b.SegmentIDs) != n {
		return fmt.Errorf("%w: %d ids, %d masks, %d segments for %d labels",
			ErrInvalidBatch, len(b.InputIDs), len(b.AttentionMask), len(b.SegmentIDs), n)
	}
	s := len(b.InputIDs[0])
	if s == 0 {
		return fmt.Errorf("%w: empty sequence", ErrInvalidBatch)
	}
	for i := 0; i < n; i++ {
		if len(b.InputIDs[i]) != s || len(b.AttentionMask[i]) != s || len(b.SegmentIDs[i]) != s {
			return fmt.Errorf("%w: row %d length differs from %d", ErrInvalidBatch, i, s)
		}
	}
	return nil
}

// ValidateLabels checks labels against the mode: classification labels must
// be 0 or 1.
func (b Batch) ValidateLabels(mode types.OutputMode) error {
	if mode != types.Classification {
		return nil
	}
	for i, l := range b.Labels {
		if l != 0 && l != 1 {
			return fmt.Errorf("%w: row %d has classification label %v, want 0 or 1", ErrInvalidBatch, i, l)
		}
	}
	return nil
}

// Subset returns the rows at idx in that order. Rows are shared, not copied.
func (b Batch) Subset(idx []int) Batch {
	out := Batch{
		InputIDs:      make([][]int, len(idx)),
		AttentionMask: make([][]int, len(idx)),
		SegmentIDs:    make([][]int, len(idx)),
		Labels:        make([]float64, len(idx)),
	}
	for i, k := range idx {
		out.InputIDs[i] = b.InputIDs[k]
		out.AttentionMask[i] = b.AttentionMask[k]
		out.SegmentIDs[i] = b.SegmentIDs[k]
		out.Labels[i] = b.Labels[k]
	}
	return out
}

// Range returns rows [from, to).
func (b Batch) Range(from, to int) Batch {
	return Batch{
		InputIDs:      b.InputIDs[from:to],
		AttentionMask: b.AttentionMask[from:to],
		SegmentIDs:    b.SegmentIDs[from:to],
		Labels:        b.Labels[from:to],
	}
}

// Append adds one row.
func (b *Batch) Append(ids, mask, seg []int, label float64) {
	b.InputIDs = append(b.InputIDs, ids)
	b.AttentionMask = append(b.AttentionMask, mask)
	b.SegmentIDs = append(b.SegmentIDs, seg)
	b.Labels = append(b.Labels, label)
}

// ValidateMetaBatch checks that ids and episodes align and every id is known.
func ValidateMetaBatch(ids []string, batch []Episode, modes ModeMap) error {
	if len(ids) != len(batch) {
		return fmt.Errorf("%w: %d task ids for %d episodes", ErrInvalidBatch, len(ids), len(batch))
	}
	for i, id := range ids {
		spec, ok := modes[id]
		if !ok {
			return fmt.Errorf("%w: unknown task %q", ErrInvalidBatch, id)
		}
		for _, part := range []struct {
			name string
			b    Batch
		}{{"support", batch[i].Support}, {"query", batch[i].Query}} {
			if err := part.b.Validate(); err != nil {
				return fmt.Errorf("task %s %s: %w", id, part.name, err)
			}
			if err := part.b.ValidateLabels(spec.Mode); err != nil {
				return fmt.Errorf("task %s %s: %w", id, part.name, err)
			}
		}
	}
	return nil
}
