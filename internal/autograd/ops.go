package autograd

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MatMul computes a·b.
func (g *Graph) MatMul(a, b *Node) *Node {
	v := new(mat.Dense)
	v.Mul(a.Value, b.Value)
	n := g.record(v, a, b)
	if n.tracked {
		n.back = func() {
			if a.tracked {
				d := new(mat.Dense)
				d.Mul(n.Grad, b.Value.T())
				a.accumulate(d)
			}
			if b.tracked {
				d := new(mat.Dense)
				d.Mul(a.Value.T(), n.Grad)
				b.accumulate(d)
			}
		}
	}
	return n
}

// MatMulT computes a·bᵀ.
func (g *Graph) MatMulT(a, b *Node) *Node {
	v := new(mat.Dense)
	v.Mul(a.Value, b.Value.T())
	n := g.record(v, a, b)
	if n.tracked {
		n.back = func() {
			if a.tracked {
				d := new(mat.Dense)
				d.Mul(n.Grad, b.Value)
				a.accumulate(d)
			}
			if b.tracked {
				d := new(mat.Dense)
				d.Mul(n.Grad.T(), a.Value)
				b.accumulate(d)
			}
		}
	}
	return n
}

// AddBias adds the 1 x c row vector b to every row of x.
func (g *Graph) AddBias(x, b *Node) *Node {
	v := mat.DenseCopyOf(x.Value)
	r, c := v.Dims()
	bias := b.Value.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(v.RawRowView(i), bias)
	}
	n := g.record(v, x, b)
	if n.tracked {
		n.back = func() {
			if x.tracked {
				x.accumulate(n.Grad)
			}
			if b.tracked {
				sum := make([]float64, c)
				for i := 0; i < r; i++ {
					floats.Add(sum, n.Grad.RawRowView(i))
				}
				b.accumulate(mat.NewDense(1, c, sum))
			}
		}
	}
	return n
}

// Add is the element-wise sum of two equally shaped nodes.
func (g *Graph) Add(a, b *Node) *Node {
	v := new(mat.Dense)
	v.Add(a.Value, b.Value)
	n := g.record(v, a, b)
	if n.tracked {
		n.back = func() {
			if a.tracked {
				a.accumulate(n.Grad)
			}
			if b.tracked {
				b.accumulate(n.Grad)
			}
		}
	}
	return n
}

// Scale multiplies every element by s.
func (g *Graph) Scale(x *Node, s float64) *Node {
	v := new(mat.Dense)
	v.Scale(s, x.Value)
	n := g.record(v, x)
	if n.tracked {
		n.back = func() {
			d := new(mat.Dense)
			d.Scale(s, n.Grad)
			x.accumulate(d)
		}
	}
	return n
}

// Tanh applies tanh element-wise.
func (g *Graph) Tanh(x *Node) *Node {
	v := new(mat.Dense)
	v.Apply(func(_, _ int, z float64) float64 { return math.Tanh(z) }, x.Value)
	n := g.record(v, x)
	if n.tracked {
		n.back = func() {
			d := new(mat.Dense)
			d.Apply(func(i, j int, gv float64) float64 {
				y := v.At(i, j)
				return gv * (1 - y*y)
			}, n.Grad)
			x.accumulate(d)
		}
	}
	return n
}

const (
	geluC = 0.044715
)

var geluK = math.Sqrt(2 / math.Pi)

// GELU applies the tanh approximation of the Gaussian error linear unit.
func (g *Graph) GELU(x *Node) *Node {
	v := new(mat.Dense)
	v.Apply(func(_, _ int, z float64) float64 {
		return 0.5 * z * (1 + math.Tanh(geluK*(z+geluC*z*z*z)))
	}, x.Value)
	n := g.record(v, x)
	if n.tracked {
		n.back = func() {
			d := new(mat.Dense)
			d.Apply(func(i, j int, gv float64) float64 {
				z := x.Value.At(i, j)
				t := math.Tanh(geluK * (z + geluC*z*z*z))
				dt := (1 - t*t) * geluK * (1 + 3*geluC*z*z)
				return gv * (0.5*(1+t) + 0.5*z*dt)
			}, n.Grad)
			x.accumulate(d)
		}
	}
	return n
}

// Dropout zeroes elements with probability p and rescales survivors by
// 1/(1-p). A non-positive p returns x unchanged.
func (g *Graph) Dropout(x *Node, p float64, rng *rand.Rand) *Node {
	if p <= 0 {
		return x
	}
	r, c := x.Value.Dims()
	keep := 1 - p
	mask := mat.NewDense(r, c, nil)
	md := mask.RawMatrix().Data
	for i := range md {
		if rng.Float64() < keep {
			md[i] = 1 / keep
		}
	}
	v := new(mat.Dense)
	v.MulElem(x.Value, mask)
	n := g.record(v, x)
	if n.tracked {
		n.back = func() {
			d := new(mat.Dense)
			d.MulElem(n.Grad, mask)
			x.accumulate(d)
		}
	}
	return n
}

// Rows gathers the rows of x listed in idx, in order. Repeated indices are
// allowed; their gradients add up.
func (g *Graph) Rows(x *Node, idx []int) *Node {
	_, c := x.Value.Dims()
	v := mat.NewDense(len(idx), c, nil)
	for i, k := range idx {
		v.SetRow(i, x.Value.RawRowView(k))
	}
	n := g.record(v, x)
	if n.tracked {
		n.back = func() {
			xg := x.ensureGrad()
			for i, k := range idx {
				floats.Add(xg.RawRowView(k), n.Grad.RawRowView(i))
			}
		}
	}
	return n
}

// RowRange selects rows [from, to).
func (g *Graph) RowRange(x *Node, from, to int) *Node {
	idx := make([]int, to-from)
	for i := range idx {
		idx[i] = from + i
	}
	return g.Rows(x, idx)
}

// SliceCols copies columns [from, to).
func (g *Graph) SliceCols(x *Node, from, to int) *Node {
	r, _ := x.Value.Dims()
	v := mat.DenseCopyOf(x.Value.Slice(0, r, from, to))
	n := g.record(v, x)
	if n.tracked {
		n.back = func() {
			xg := x.ensureGrad()
			for i := 0; i < r; i++ {
				floats.Add(xg.RawRowView(i)[from:to], n.Grad.RawRowView(i))
			}
		}
	}
	return n
}

// ConcatCols joins nodes with equal row counts side by side.
func (g *Graph) ConcatCols(parts ...*Node) *Node {
	r, _ := parts[0].Value.Dims()
	total := 0
	for _, p := range parts {
		_, c := p.Value.Dims()
		total += c
	}
	v := mat.NewDense(r, total, nil)
	off := 0
	for _, p := range parts {
		_, c := p.Value.Dims()
		for i := 0; i < r; i++ {
			copy(v.RawRowView(i)[off:off+c], p.Value.RawRowView(i))
		}
		off += c
	}
	n := g.record(v, parts...)
	if n.tracked {
		n.back = func() {
			off := 0
			for _, p := range parts {
				_, c := p.Value.Dims()
				if p.tracked {
					pg := p.ensureGrad()
					for i := 0; i < r; i++ {
						floats.Add(pg.RawRowView(i), n.Grad.RawRowView(i)[off:off+c])
					}
				}
				off += c
			}
		}
	}
	return n
}

// ConcatRows stacks nodes with equal column counts.
func (g *Graph) ConcatRows(parts ...*Node) *Node {
	_, c := parts[0].Value.Dims()
	total := 0
	for _, p := range parts {
		r, _ := p.Value.Dims()
		total += r
	}
	v := mat.NewDense(total, c, nil)
	off := 0
	for _, p := range parts {
		r, _ := p.Value.Dims()
		for i := 0; i < r; i++ {
			v.SetRow(off+i, p.Value.RawRowView(i))
		}
		off += r
	}
	n := g.record(v, parts...)
	if n.tracked {
		n.back = func() {
			off := 0
			for _, p := range parts {
				r, _ := p.Value.Dims()
				if p.tracked {
					pg := p.ensureGrad()
					for i := 0; i < r; i++ {
						floats.Add(pg.RawRowView(i), n.Grad.RawRowView(off+i))
					}
				}
				off += r
			}
		}
	}
	return n
}

// SoftmaxRows normalizes each row of x+bias. bias, when non-nil, is added
// to every row before normalization and is typically an attention mask of
// zeros and large negative values.
func (g *Graph) SoftmaxRows(x *Node, bias []float64) *Node {
	r, c := x.Value.Dims()
	v := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := v.RawRowView(i)
		copy(row, x.Value.RawRowView(i))
		if bias != nil {
			floats.Add(row, bias)
		}
		softmaxInPlace(row)
	}
	n := g.record(v, x)
	if n.tracked {
		n.back = func() {
			d := mat.NewDense(r, c, nil)
			for i := 0; i < r; i++ {
				y := v.RawRowView(i)
				gr := n.Grad.RawRowView(i)
				dot := floats.Dot(y, gr)
				dr := d.RawRowView(i)
				for j := range dr {
					dr[j] = y[j] * (gr[j] - dot)
				}
			}
			x.accumulate(d)
		}
	}
	return n
}

func softmaxInPlace(row []float64) {
	m := floats.Max(row)
	var sum float64
	for j, z := range row {
		e := math.Exp(z - m)
		row[j] = e
		sum += e
	}
	floats.Scale(1/sum, row)
}

// LayerNorm normalizes each row to zero mean and unit variance and applies
// the 1 x c affine parameters gamma and beta.
func (g *Graph) LayerNorm(x, gamma, beta *Node, eps float64) *Node {
	r, c := x.Value.Dims()
	xhat := mat.NewDense(r, c, nil)
	inv := make([]float64, r)
	v := mat.NewDense(r, c, nil)
	gm := gamma.Value.RawRowView(0)
	bt := beta.Value.RawRowView(0)
	for i := 0; i < r; i++ {
		row := x.Value.RawRowView(i)
		mean := floats.Sum(row) / float64(c)
		var variance float64
		for _, z := range row {
			variance += (z - mean) * (z - mean)
		}
		variance /= float64(c)
		inv[i] = 1 / math.Sqrt(variance+eps)
		hr := xhat.RawRowView(i)
		vr := v.RawRowView(i)
		for j, z := range row {
			hr[j] = (z - mean) * inv[i]
			vr[j] = gm[j]*hr[j] + bt[j]
		}
	}
	n := g.record(v, x, gamma, beta)
	if n.tracked {
		n.back = func() {
			if gamma.tracked || beta.tracked {
				dg := make([]float64, c)
				db := make([]float64, c)
				for i := 0; i < r; i++ {
					gr := n.Grad.RawRowView(i)
					hr := xhat.RawRowView(i)
					for j := range gr {
						dg[j] += gr[j] * hr[j]
						db[j] += gr[j]
					}
				}
				if gamma.tracked {
					gamma.accumulate(mat.NewDense(1, c, dg))
				}
				if beta.tracked {
					beta.accumulate(mat.NewDense(1, c, db))
				}
			}
			if x.tracked {
				d := mat.NewDense(r, c, nil)
				dxhat := make([]float64, c)
				for i := 0; i < r; i++ {
					gr := n.Grad.RawRowView(i)
					hr := xhat.RawRowView(i)
					for j := range gr {
						dxhat[j] = gr[j] * gm[j]
					}
					s1 := floats.Sum(dxhat)
					s2 := floats.Dot(dxhat, hr)
					dr := d.RawRowView(i)
					k := inv[i] / float64(c)
					for j := range dr {
						dr[j] = k * (float64(c)*dxhat[j] - s1 - hr[j]*s2)
					}
				}
				x.accumulate(d)
			}
		}
	}
	return n
}
