// Package head builds the per-task output layers placed on top of the
// pooled encoder output, along with the loss and metric of each output mode.
package head

import (
	"math/rand"

	"metabert/internal/autograd"
	"metabert/pkg/types"
)

const (
	// DropoutProb is applied to the pooled representation in training mode.
	DropoutProb = 0.1
	biasInit    = 0.01
)

// Head is dropout followed by a linear map from the pooled hidden state to
// the task's labels. A head belongs to the iteration that created it.
type Head struct {
	TaskID string
	Mode   types.OutputMode
	W      *autograd.Param
	B      *autograd.Param

	training bool
	rng      *rand.Rand
}

// New returns a freshly initialized head and the objective for mode. Weights
// are Xavier-uniform and the bias is 0.01; the same rng state yields the same
// head.
func New(mode types.OutputMode, taskID string, hidden int, rng *rand.Rand) (*Head, Objective, error) {
	obj, err := ObjectiveFor(mode)
	if err != nil {
		return nil, nil, err
	}
	n := obj.NumLabels()
	h := &Head{
		TaskID:   taskID,
		Mode:     mode,
		W:        autograd.NewParam(taskID+".head.weight", hidden, n),
		B:        autograd.NewParam(taskID+".head.bias", 1, n),
		training: true,
		rng:      rng,
	}
	h.W.XavierUniform(rng)
	h.B.Fill(biasInit)
	return h, obj, nil
}

// Forward maps pooled (batch x hidden) to logits (batch x labels).
func (h *Head) Forward(g *autograd.Graph, pooled *autograd.Node) *autograd.Node {
	x := pooled
	if h.training {
		x = g.Dropout(x, DropoutProb, h.rng)
	}
	return g.AddBias(g.MatMul(x, g.Param(h.W)), g.Param(h.B))
}

// NumLabels is the output width.
func (h *Head) NumLabels() int {
	_, c := h.W.Value.Dims()
	return c
}

// Params returns the weight and bias.
func (h *Head) Params() []*autograd.Param { return []*autograd.Param{h.W, h.B} }

// SetTraining toggles dropout.
func (h *Head) SetTraining(on bool) { h.training = on }

// Training reports whether dropout is active.
func (h *Head) Training() bool { return h.training }

// SetRequiresGrad freezes or unfreezes the head.
func (h *Head) SetRequiresGrad(on bool) {
	h.W.RequiresGrad = on
	h.B.RequiresGrad = on
}
