// Package optim holds first-order optimizers over autograd parameters.
package optim

import (
	"math"

	"metabert/internal/autograd"
)

const (
	defaultBeta1 = 0.9
	defaultBeta2 = 0.999
	defaultEps   = 1e-8
)

// Option tunes an Adam optimizer.
type Option func(*Adam)

// WithBetas overrides the moment decay rates.
func WithBetas(b1, b2 float64) Option { return func(a *Adam) { a.beta1, a.beta2 = b1, b2 } }

// WithEpsilon overrides the denominator epsilon.
func WithEpsilon(eps float64) Option { return func(a *Adam) { a.eps = eps } }

// WithWeightDecay adds L2 decay folded into the gradient.
func WithWeightDecay(wd float64) Option { return func(a *Adam) { a.weightDecay = wd } }

// Adam implements Kingma & Ba with bias correction. Parameters whose Grad is
// nil at Step time are skipped and keep their moment state untouched.
type Adam struct {
	params      []*autograd.Param
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64

	m, v  [][]float64
	t     []int
	steps int
}

// NewAdam builds an optimizer over params with learning rate lr.
func NewAdam(params []*autograd.Param, lr float64, opts ...Option) *Adam {
	a := &Adam{
		params: params,
		lr:     lr,
		beta1:  defaultBeta1,
		beta2:  defaultBeta2,
		eps:    defaultEps,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
		t:      make([]int, len(params)),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ZeroGrad clears the gradients of every managed parameter.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Step applies one update to every parameter holding a gradient.
func (a *Adam) Step() {
	a.steps++
	for i, p := range a.params {
		if p.Grad == nil || !p.RequiresGrad {
			continue
		}
		if a.m[i] == nil {
			a.m[i] = make([]float64, p.Size())
			a.v[i] = make([]float64, p.Size())
		}
		a.t[i]++
		bc1 := 1 - math.Pow(a.beta1, float64(a.t[i]))
		bc2 := 1 - math.Pow(a.beta2, float64(a.t[i]))
		w := p.Data()
		gr := p.Grad.RawMatrix().Data
		m, v := a.m[i], a.v[i]
		for j := range w {
			gj := gr[j]
			if a.weightDecay != 0 {
				gj += a.weightDecay * w[j]
			}
			m[j] = a.beta1*m[j] + (1-a.beta1)*gj
			v[j] = a.beta2*v[j] + (1-a.beta2)*gj*gj
			mhat := m[j] / bc1
			vhat := v[j] / bc2
			w[j] -= a.lr * mhat / (math.Sqrt(vhat) + a.eps)
		}
	}
}

// Steps is the number of Step calls so far.
func (a *Adam) Steps() int { return a.steps }

// LR returns the learning rate.
func (a *Adam) LR() float64 { return a.lr }

// SetLR changes the learning rate for subsequent steps.
func (a *Adam) SetLR(lr float64) { a.lr = lr }

// Release drops moment state. The optimizer must not be stepped afterwards.
func (a *Adam) Release() {
	a.m, a.v, a.t = nil, nil, nil
	a.params = nil
}
