package autograd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SoftmaxCrossEntropy is the mean negative log-likelihood of labels under
// a row-wise softmax of logits.
func (g *Graph) SoftmaxCrossEntropy(logits *Node, labels []int) (*Node, error) {
	r, c := logits.Value.Dims()
	if len(labels) != r {
		return nil, fmt.Errorf("autograd: %d labels for %d rows", len(labels), r)
	}
	probs := mat.NewDense(r, c, nil)
	var loss float64
	for i := 0; i < r; i++ {
		l := labels[i]
		if l < 0 || l >= c {
			return nil, fmt.Errorf("autograd: label %d out of range [0,%d)", l, c)
		}
		row := probs.RawRowView(i)
		copy(row, logits.Value.RawRowView(i))
		softmaxInPlace(row)
		loss -= math.Log(math.Max(row[l], math.SmallestNonzeroFloat64))
	}
	loss /= float64(r)
	n := g.record(mat.NewDense(1, 1, []float64{loss}), logits)
	if n.tracked {
		n.back = func() {
			scale := n.Grad.At(0, 0) / float64(r)
			d := mat.NewDense(r, c, nil)
			for i := 0; i < r; i++ {
				dr := d.RawRowView(i)
				copy(dr, probs.RawRowView(i))
				dr[labels[i]]--
				for j := range dr {
					dr[j] *= scale
				}
			}
			logits.accumulate(d)
		}
	}
	return n, nil
}

// MSE is the mean squared error between a single-column prediction and
// targets.
func (g *Graph) MSE(pred *Node, target []float64) (*Node, error) {
	r, c := pred.Value.Dims()
	if c != 1 {
		return nil, fmt.Errorf("autograd: mse prediction has %d columns, want 1", c)
	}
	if len(target) != r {
		return nil, fmt.Errorf("autograd: %d targets for %d rows", len(target), r)
	}
	diff := make([]float64, r)
	var loss float64
	for i := 0; i < r; i++ {
		diff[i] = pred.Value.At(i, 0) - target[i]
		loss += diff[i] * diff[i]
	}
	loss /= float64(r)
	n := g.record(mat.NewDense(1, 1, []float64{loss}), pred)
	if n.tracked {
		n.back = func() {
			scale := 2 * n.Grad.At(0, 0) / float64(r)
			d := mat.NewDense(r, 1, nil)
			for i := range diff {
				d.Set(i, 0, diff[i]*scale)
			}
			pred.accumulate(d)
		}
	}
	return n, nil
}
