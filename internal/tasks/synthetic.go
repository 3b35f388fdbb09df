package tasks

import (
	"math/rand"

	"metabert/pkg/types"
)

const (
	clsToken = 1
	sepToken = 2
	// first id free for content tokens
	firstContentToken = 3
)

// Synthetic generates a learnable task over a small vocabulary. Each task
// draws a pivot token; classification labels are 1 when the first content
// token is at or above the pivot, regression labels are the fraction of
// content tokens at or above it scaled to [0,5]. Rows are padded to seqLen
// with zero attention beyond their length. seqLen is raised to at least 3
// and vocab to at least 4.
func Synthetic(id string, mode types.OutputMode, rows, seqLen, vocab int, seed int64) *FeatureSet {
	seqLen = max(seqLen, 3)
	vocab = max(vocab, firstContentToken+1)
	rng := rand.New(rand.NewSource(seed))
	span := vocab - firstContentToken
	pivot := firstContentToken + span/4 + rng.Intn(span/2+1)
	fs := &FeatureSet{Spec: types.TaskSpec{ID: id, Name: id, Mode: mode, Rows: rows}}
	for r := 0; r < rows; r++ {
		// content tokens fill between half and all of the room left by CLS and SEP
		room := seqLen - 2
		n := (room+1)/2 + rng.Intn(room-(room+1)/2+1)
		ids := make([]int, seqLen)
		mask := make([]int, seqLen)
		seg := make([]int, seqLen)
		ids[0], mask[0] = clsToken, 1
		above := 0
		for j := 1; j <= n; j++ {
			tok := firstContentToken + rng.Intn(span)
			if tok >= pivot {
				above++
			}
			ids[j], mask[j] = tok, 1
		}
		ids[n+1], mask[n+1] = sepToken, 1
		var label float64
		switch mode {
		case types.Regression:
			label = 5 * float64(above) / float64(n)
		default:
			if ids[1] >= pivot {
				label = 1
			}
		}
		fs.Rows.Append(ids, mask, seg, label)
	}
	return fs
}
