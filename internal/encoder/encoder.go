// Package encoder implements the shared BERT-style encoder: token, position
// and segment embeddings, post-LN transformer layers and a tanh pooler over
// the first token.
package encoder

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"metabert/internal/autograd"
	"metabert/internal/device"
)

type linear struct{ w, b *autograd.Param }

func newLinear(name string, in, out int) linear {
	return linear{w: autograd.NewParam(name+".weight", in, out), b: autograd.NewParam(name+".bias", 1, out)}
}

func (l linear) forward(g *autograd.Graph, x *autograd.Node) *autograd.Node {
	return g.AddBias(g.MatMul(x, g.Param(l.w)), g.Param(l.b))
}

type layerNorm struct{ gamma, beta *autograd.Param }

func newLayerNorm(name string, dim int) layerNorm {
	ln := layerNorm{gamma: autograd.NewParam(name+".gamma", 1, dim), beta: autograd.NewParam(name+".beta", 1, dim)}
	ln.gamma.Fill(1)
	return ln
}

type layer struct {
	query, key, value, attnOut linear
	attnNorm                   layerNorm
	ffIn, ffOut                linear
	ffNorm                     layerNorm
}

// Encoder is the long-lived trainable parameter set shared by all tasks.
// It is not safe for concurrent use.
type Encoder struct {
	cfg Config
	id  string

	word, position, segment *autograd.Param
	embNorm                 layerNorm
	layers                  []layer
	pooler                  linear

	params   []*autograd.Param
	training bool
	dev      device.Device
	rng      *rand.Rand
}

// New builds a randomly initialized encoder. Weights are drawn from
// N(0, InitRange^2); layer norms start at identity.
func New(cfg Config, seed int64) (*Encoder, error) {
	e, err := build(cfg, seed)
	if err != nil {
		return nil, err
	}
	src := rand.New(rand.NewSource(seed))
	for _, p := range e.params {
		if strings.HasSuffix(p.Name, ".gamma") || strings.HasSuffix(p.Name, ".beta") || strings.HasSuffix(p.Name, ".bias") {
			continue
		}
		p.Normal(src, cfg.InitRange)
	}
	return e, nil
}

func build(cfg Config, seed int64) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := cfg.HiddenSize
	e := &Encoder{
		cfg:      cfg,
		id:       "encoder-" + uuid.NewString()[:8],
		word:     autograd.NewParam("embeddings.word", cfg.VocabSize, h),
		position: autograd.NewParam("embeddings.position", cfg.MaxPositions, h),
		segment:  autograd.NewParam("embeddings.segment", cfg.TypeVocabSize, h),
		embNorm:  newLayerNorm("embeddings.norm", h),
		pooler:   newLinear("pooler", h, h),
		dev:      device.DefaultHost(),
		rng:      rand.New(rand.NewSource(seed + 1)),
	}
	e.params = append(e.params, e.word, e.position, e.segment, e.embNorm.gamma, e.embNorm.beta)
	for i := 0; i < cfg.NumLayers; i++ {
		p := fmt.Sprintf("layer.%d.", i)
		l := layer{
			query:    newLinear(p+"attention.query", h, h),
			key:      newLinear(p+"attention.key", h, h),
			value:    newLinear(p+"attention.value", h, h),
			attnOut:  newLinear(p+"attention.output", h, h),
			attnNorm: newLayerNorm(p+"attention.norm", h),
			ffIn:     newLinear(p+"intermediate", h, cfg.IntermediateSize),
			ffOut:    newLinear(p+"output", cfg.IntermediateSize, h),
			ffNorm:   newLayerNorm(p+"output.norm", h),
		}
		e.layers = append(e.layers, l)
		e.params = append(e.params,
			l.query.w, l.query.b, l.key.w, l.key.b, l.value.w, l.value.b,
			l.attnOut.w, l.attnOut.b, l.attnNorm.gamma, l.attnNorm.beta,
			l.ffIn.w, l.ffIn.b, l.ffOut.w, l.ffOut.b, l.ffNorm.gamma, l.ffNorm.beta)
	}
	e.params = append(e.params, e.pooler.w, e.pooler.b)
	return e, nil
}

// Config returns the architecture.
func (e *Encoder) Config() Config { return e.cfg }

// HiddenSize is the width of pooled outputs.
func (e *Encoder) HiddenSize() int { return e.cfg.HiddenSize }

// Params returns the trainable parameters in a stable order.
func (e *Encoder) Params() []*autograd.Param { return e.params }

// NumParams is the number of scalar weights.
func (e *Encoder) NumParams() int { return autograd.CountParams(e.params) }

// SetTraining toggles dropout.
func (e *Encoder) SetTraining(on bool) { e.training = on }

// Training reports whether dropout is active.
func (e *Encoder) Training() bool { return e.training }

// SetRequiresGrad enables or disables gradient tracking for all parameters.
func (e *Encoder) SetRequiresGrad(on bool) {
	for _, p := range e.params {
		p.RequiresGrad = on
	}
}

// SetSeed reseeds the dropout source.
func (e *Encoder) SetSeed(seed int64) { e.rng = rand.New(rand.NewSource(seed)) }

// ResidentID identifies the encoder in device accounting.
func (e *Encoder) ResidentID() string { return e.id }

// SizeBytes is the float64 footprint of all parameters.
func (e *Encoder) SizeBytes() int64 { return int64(e.NumParams()) * 8 }

// Device is where the encoder currently resides.
func (e *Encoder) Device() device.Device { return e.dev }

// Place records the encoder's residency. Use device.Acquire rather than
// calling Place directly.
func (e *Encoder) Place(d device.Device) { e.dev = d }

// OnHost reports whether the encoder resides on host memory.
func (e *Encoder) OnHost() bool { return e.dev == nil || e.dev.Kind() == device.KindHost }

// Norm is the L2 norm over all parameters.
func (e *Encoder) Norm() float64 { return autograd.Norm(e.params) }

// Fingerprint hashes all parameter values; equal weights give equal
// fingerprints.
func (e *Encoder) Fingerprint() uint64 {
	h := xxh3.New()
	var buf [8]byte
	for _, p := range e.params {
		_, _ = h.WriteString(p.Name)
		for _, v := range p.Data() {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			_, _ = h.Write(buf[:])
		}
	}
	return h.Sum64()
}

// Clone deep-copies weights into a new encoder on the host. The copy draws
// dropout masks from seed; the source's random stream is left untouched.
func (e *Encoder) Clone(seed int64) (*Encoder, error) {
	c, err := build(e.cfg, seed)
	if err != nil {
		return nil, err
	}
	for i, p := range e.params {
		copy(c.params[i].Data(), p.Data())
		c.params[i].RequiresGrad = p.RequiresGrad
	}
	c.training = e.training
	return c, nil
}
