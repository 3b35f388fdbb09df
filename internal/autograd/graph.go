// Package autograd is a small reverse-mode differentiation tape over gonum
// dense matrices. A Graph records every operation whose inputs require
// gradients; Backward replays the tape in reverse and accumulates into the
// Param values that took part in the forward pass.
//
// A Graph built with grad=false records nothing: its nodes carry values
// only, which is how evaluation passes run without gradient bookkeeping.
package autograd

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrGradDisabled is returned by Backward on a graph built without gradients.
	ErrGradDisabled = errors.New("autograd: graph built with gradients disabled")
	// ErrNotTracked is returned when the loss does not depend on any trainable value.
	ErrNotTracked = errors.New("autograd: loss does not depend on a parameter requiring grad")
)

// Node is a value produced by a graph operation.
type Node struct {
	Value *mat.Dense
	// Grad is populated by Backward for tracked nodes only.
	Grad *mat.Dense

	tracked bool
	back    func()
}

// Tracked reports whether the node participates in gradient computation.
func (n *Node) Tracked() bool { return n.tracked }

// Dims returns the shape of the node value.
func (n *Node) Dims() (int, int) { return n.Value.Dims() }

// Scalar returns the single element of a 1x1 node.
func (n *Node) Scalar() float64 { return n.Value.At(0, 0) }

func (n *Node) ensureGrad() *mat.Dense {
	if n.Grad == nil {
		r, c := n.Value.Dims()
		n.Grad = mat.NewDense(r, c, nil)
	}
	return n.Grad
}

func (n *Node) accumulate(d mat.Matrix) {
	g := n.ensureGrad()
	g.Add(g, d)
}

// Graph is a single forward pass.
type Graph struct {
	grad bool
	tape []*Node
}

// NewGraph starts a forward pass. With grad=false no operation is recorded.
func NewGraph(grad bool) *Graph { return &Graph{grad: grad} }

// GradEnabled reports whether the graph records operations.
func (g *Graph) GradEnabled() bool { return g.grad }

// Len is the number of recorded operations.
func (g *Graph) Len() int { return len(g.tape) }

// Const wraps a matrix that never receives gradients.
func (g *Graph) Const(m *mat.Dense) *Node { return &Node{Value: m} }

// Param wraps a trainable parameter. The node is tracked only when the graph
// records gradients and the parameter requires them.
func (g *Graph) Param(p *Param) *Node {
	n := &Node{Value: p.Value}
	if g.grad && p.RequiresGrad {
		n.tracked = true
		n.back = func() { p.accumulate(n.Grad) }
		g.tape = append(g.tape, n)
	}
	return n
}

func (g *Graph) record(v *mat.Dense, parents ...*Node) *Node {
	n := &Node{Value: v}
	if !g.grad {
		return n
	}
	for _, p := range parents {
		if p != nil && p.tracked {
			n.tracked = true
			break
		}
	}
	if n.tracked {
		g.tape = append(g.tape, n)
	}
	return n
}

// Backward seeds d(loss)/d(loss)=1 and propagates gradients to every tracked
// parameter. The tape is consumed; a graph can be backpropagated once.
func (g *Graph) Backward(loss *Node) error {
	if !g.grad {
		return ErrGradDisabled
	}
	if !loss.tracked {
		return ErrNotTracked
	}
	if r, c := loss.Value.Dims(); r != 1 || c != 1 {
		return fmt.Errorf("autograd: backward from %dx%d node, want scalar", r, c)
	}
	loss.Grad = mat.NewDense(1, 1, []float64{1})
	for i := len(g.tape) - 1; i >= 0; i-- {
		n := g.tape[i]
		if n.Grad == nil || n.back == nil {
			continue
		}
		n.back()
	}
	g.tape = nil
	return nil
}
