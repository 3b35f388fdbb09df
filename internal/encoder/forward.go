package encoder

import (
	"fmt"
	"math"

	"metabert/internal/autograd"
)

// maskedBias is added to attention scores of padding positions.
const maskedBias = -10000.0

// Forward runs the encoder over a batch of token rows and returns the pooled
// representation (batch x hidden). All rows must share one sequence length.
func (e *Encoder) Forward(g *autograd.Graph, inputIDs, attentionMask, segmentIDs [][]int) (*autograd.Node, error) {
	b := len(inputIDs)
	if b == 0 {
		return nil, fmt.Errorf("encoder: empty batch")
	}
	if len(attentionMask) != b || len(segmentIDs) != b {
		return nil, fmt.Errorf("encoder: batch components disagree: %d ids, %d masks, %d segments", b, len(attentionMask), len(segmentIDs))
	}
	s := len(inputIDs[0])
	if s == 0 || s > e.cfg.MaxPositions {
		return nil, fmt.Errorf("encoder: sequence length %d outside [1,%d]", s, e.cfg.MaxPositions)
	}
	tok := make([]int, 0, b*s)
	pos := make([]int, 0, b*s)
	seg := make([]int, 0, b*s)
	masks := make([][]float64, b)
	for i := 0; i < b; i++ {
		if len(inputIDs[i]) != s || len(attentionMask[i]) != s || len(segmentIDs[i]) != s {
			return nil, fmt.Errorf("encoder: row %d length differs from %d", i, s)
		}
		masks[i] = make([]float64, s)
		for j := 0; j < s; j++ {
			id, sg := inputIDs[i][j], segmentIDs[i][j]
			if id < 0 || id >= e.cfg.VocabSize {
				return nil, fmt.Errorf("encoder: token id %d outside vocabulary of %d", id, e.cfg.VocabSize)
			}
			if sg < 0 || sg >= e.cfg.TypeVocabSize {
				return nil, fmt.Errorf("encoder: segment id %d outside [0,%d)", sg, e.cfg.TypeVocabSize)
			}
			tok = append(tok, id)
			pos = append(pos, j)
			seg = append(seg, sg)
			if attentionMask[i][j] == 0 {
				masks[i][j] = maskedBias
			}
		}
	}

	x := g.Add(g.Add(g.Rows(g.Param(e.word), tok), g.Rows(g.Param(e.position), pos)), g.Rows(g.Param(e.segment), seg))
	x = g.LayerNorm(x, g.Param(e.embNorm.gamma), g.Param(e.embNorm.beta), e.cfg.LayerNormEps)
	x = e.dropout(g, x, e.cfg.HiddenDropout)

	for li := range e.layers {
		x = e.layerForward(g, &e.layers[li], x, b, s, masks)
	}

	cls := make([]int, b)
	for i := range cls {
		cls[i] = i * s
	}
	return g.Tanh(e.pooler.forward(g, g.Rows(x, cls))), nil
}

func (e *Encoder) dropout(g *autograd.Graph, x *autograd.Node, p float64) *autograd.Node {
	if !e.training {
		return x
	}
	return g.Dropout(x, p, e.rng)
}

func (e *Encoder) layerForward(g *autograd.Graph, l *layer, x *autograd.Node, b, s int, masks [][]float64) *autograd.Node {
	q := l.query.forward(g, x)
	k := l.key.forward(g, x)
	v := l.value.forward(g, x)
	dh := e.cfg.HiddenSize / e.cfg.NumHeads
	scale := 1 / math.Sqrt(float64(dh))

	rows := make([]*autograd.Node, b)
	for i := 0; i < b; i++ {
		qi := g.RowRange(q, i*s, (i+1)*s)
		ki := g.RowRange(k, i*s, (i+1)*s)
		vi := g.RowRange(v, i*s, (i+1)*s)
		heads := make([]*autograd.Node, e.cfg.NumHeads)
		for h := range heads {
			lo, hi := h*dh, (h+1)*dh
			scores := g.Scale(g.MatMulT(g.SliceCols(qi, lo, hi), g.SliceCols(ki, lo, hi)), scale)
			probs := e.dropout(g, g.SoftmaxRows(scores, masks[i]), e.cfg.AttentionDropout)
			heads[h] = g.MatMul(probs, g.SliceCols(vi, lo, hi))
		}
		rows[i] = g.ConcatCols(heads...)
	}
	ctx := g.ConcatRows(rows...)

	attn := e.dropout(g, l.attnOut.forward(g, ctx), e.cfg.HiddenDropout)
	x = g.LayerNorm(g.Add(attn, x), g.Param(l.attnNorm.gamma), g.Param(l.attnNorm.beta), e.cfg.LayerNormEps)

	ff := g.GELU(l.ffIn.forward(g, x))
	ff = e.dropout(g, l.ffOut.forward(g, ff), e.cfg.HiddenDropout)
	return g.LayerNorm(g.Add(ff, x), g.Param(l.ffNorm.gamma), g.Param(l.ffNorm.beta), e.cfg.LayerNormEps)
}
