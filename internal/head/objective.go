package head

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"metabert/internal/autograd"
	"metabert/pkg/types"
)

// Objective is the loss and metric of one output mode.
type Objective interface {
	Mode() types.OutputMode
	NumLabels() int
	Loss(g *autograd.Graph, logits *autograd.Node, labels []float64) (*autograd.Node, error)
	// Score is accuracy in [0,1] or Pearson correlation.
	Score(logits *mat.Dense, labels []float64) float64
	// ScoreCount is the raw number of correct rows for classification and
	// equals Score for regression.
	ScoreCount(logits *mat.Dense, labels []float64) float64
	NewTally() Tally
}

// ObjectiveFor dispatches on the output mode.
func ObjectiveFor(mode types.OutputMode) (Objective, error) {
	switch mode {
	case types.Classification:
		return classification{}, nil
	case types.Regression:
		return regression{}, nil
	}
	return nil, UnsupportedModeError{Mode: mode}
}

// Score is the normalized metric for mode: accuracy or Pearson correlation.
func Score(mode types.OutputMode, logits *mat.Dense, labels []float64, normalize bool) (float64, error) {
	obj, err := ObjectiveFor(mode)
	if err != nil {
		return 0, err
	}
	if normalize {
		return obj.Score(logits, labels), nil
	}
	return obj.ScoreCount(logits, labels), nil
}

type classification struct{}

func (classification) Mode() types.OutputMode { return types.Classification }
func (classification) NumLabels() int         { return 2 }

func (classification) Loss(g *autograd.Graph, logits *autograd.Node, labels []float64) (*autograd.Node, error) {
	idx := make([]int, len(labels))
	for i, l := range labels {
		if l != math.Trunc(l) {
			return nil, fmt.Errorf("classification label %v is not an integer", l)
		}
		idx[i] = int(l)
	}
	return g.SoftmaxCrossEntropy(logits, idx)
}

func correct(logits *mat.Dense, labels []float64) int {
	n := 0
	for i, l := range labels {
		if float64(floats.MaxIdx(logits.RawRowView(i))) == l {
			n++
		}
	}
	return n
}

func (classification) Score(logits *mat.Dense, labels []float64) float64 {
	if len(labels) == 0 {
		return 0
	}
	return float64(correct(logits, labels)) / float64(len(labels))
}

func (classification) ScoreCount(logits *mat.Dense, labels []float64) float64 {
	return float64(correct(logits, labels))
}

func (classification) NewTally() Tally { return &accuracyTally{} }

type regression struct{}

func (regression) Mode() types.OutputMode { return types.Regression }
func (regression) NumLabels() int         { return 1 }

func (regression) Loss(g *autograd.Graph, logits *autograd.Node, labels []float64) (*autograd.Node, error) {
	return g.MSE(logits, labels)
}

func (regression) Score(logits *mat.Dense, labels []float64) float64 {
	return pearson(mat.Col(nil, 0, logits), labels)
}

func (r regression) ScoreCount(logits *mat.Dense, labels []float64) float64 {
	return r.Score(logits, labels)
}

func (regression) NewTally() Tally { return &pearsonTally{} }

// pearson returns 0 when either side has no variance.
func pearson(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
