package encoder

import (
	"fmt"
	"sort"
)

// Config describes a BERT-style encoder.
type Config struct {
	VocabSize        int     `json:"vocab_size"`
	HiddenSize       int     `json:"hidden_size"`
	NumLayers        int     `json:"num_layers"`
	NumHeads         int     `json:"num_heads"`
	IntermediateSize int     `json:"intermediate_size"`
	MaxPositions     int     `json:"max_positions"`
	TypeVocabSize    int     `json:"type_vocab_size"`
	HiddenDropout    float64 `json:"hidden_dropout"`
	AttentionDropout float64 `json:"attention_dropout"`
	LayerNormEps     float64 `json:"layer_norm_eps"`
	InitRange        float64 `json:"init_range"`
}

func bertConfig(hidden, layers, heads int) Config {
	return Config{
		VocabSize:        30522,
		HiddenSize:       hidden,
		NumLayers:        layers,
		NumHeads:         heads,
		IntermediateSize: 4 * hidden,
		MaxPositions:     512,
		TypeVocabSize:    2,
		HiddenDropout:    0.1,
		AttentionDropout: 0.1,
		LayerNormEps:     1e-12,
		InitRange:        0.02,
	}
}

var presets = map[string]Config{
	"bert-base-uncased": bertConfig(768, 12, 12),
	"bert-small":        bertConfig(512, 4, 8),
	"bert-mini":         bertConfig(256, 4, 4),
	"bert-tiny":         bertConfig(128, 2, 2),
	// micro is a test-sized encoder over a 128 token vocabulary
	"bert-micro": {
		VocabSize:        128,
		HiddenSize:       16,
		NumLayers:        1,
		NumHeads:         2,
		IntermediateSize: 32,
		MaxPositions:     32,
		TypeVocabSize:    2,
		HiddenDropout:    0.1,
		AttentionDropout: 0.1,
		LayerNormEps:     1e-12,
		InitRange:        0.02,
	},
}

// Preset returns a named configuration.
func Preset(name string) (Config, bool) {
	c, ok := presets[name]
	return c, ok
}

// PresetNames lists known preset names in sorted order.
func PresetNames() []string {
	out := make([]string, 0, len(presets))
	for k := range presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate checks structural consistency.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0, c.HiddenSize <= 0, c.NumLayers <= 0, c.NumHeads <= 0,
		c.IntermediateSize <= 0, c.MaxPositions <= 0, c.TypeVocabSize <= 0:
		return fmt.Errorf("encoder config: sizes must be positive: %+v", c)
	case c.HiddenSize%c.NumHeads != 0:
		return fmt.Errorf("encoder config: hidden size %d not divisible by %d heads", c.HiddenSize, c.NumHeads)
	case c.HiddenDropout < 0 || c.HiddenDropout >= 1 || c.AttentionDropout < 0 || c.AttentionDropout >= 1:
		return fmt.Errorf("encoder config: dropout must be in [0,1)")
	}
	return nil
}
