package autograd

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Param is a trainable matrix and its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	// Grad is nil until a backward pass reaches the parameter and is reset to
	// nil by ZeroGrad, so optimizers can skip parameters that received nothing.
	Grad         *mat.Dense
	RequiresGrad bool
}

// NewParam allocates a zero-initialized rows x cols parameter.
func NewParam(name string, rows, cols int) *Param {
	return &Param{Name: name, Value: mat.NewDense(rows, cols, nil), RequiresGrad: true}
}

func (p *Param) accumulate(d mat.Matrix) {
	if p.Grad == nil {
		r, c := p.Value.Dims()
		p.Grad = mat.NewDense(r, c, nil)
	}
	p.Grad.Add(p.Grad, d)
}

// ZeroGrad drops the accumulated gradient.
func (p *Param) ZeroGrad() { p.Grad = nil }

// Size is the number of scalar elements.
func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// Data exposes the row-major backing slice of the value.
func (p *Param) Data() []float64 { return p.Value.RawMatrix().Data }

// Fill sets every element to v.
func (p *Param) Fill(v float64) {
	d := p.Data()
	for i := range d {
		d[i] = v
	}
}

// XavierUniform draws from U(-a, a) with a = sqrt(6/(fan_in+fan_out)).
func (p *Param) XavierUniform(rng *rand.Rand) {
	r, c := p.Value.Dims()
	limit := math.Sqrt(6.0 / float64(r+c))
	d := p.Data()
	for i := range d {
		d[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Normal draws from N(0, std^2).
func (p *Param) Normal(rng *rand.Rand, std float64) {
	d := p.Data()
	for i := range d {
		d[i] = rng.NormFloat64() * std
	}
}

// Clone deep-copies value and flags; the gradient is not copied.
func (p *Param) Clone() *Param {
	return &Param{Name: p.Name, Value: mat.DenseCopyOf(p.Value), RequiresGrad: p.RequiresGrad}
}

// Norm is the L2 norm over a set of parameters.
func Norm(params []*Param) float64 {
	var sum float64
	for _, p := range params {
		n := floats.Norm(p.Data(), 2)
		sum += n * n
	}
	return math.Sqrt(sum)
}

// CountParams is the total number of scalars across params.
func CountParams(params []*Param) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}
