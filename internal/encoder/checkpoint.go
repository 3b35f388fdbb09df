package encoder

import (
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"metabert/internal/common/fsutil"
)

const checkpointVersion = 1

// ErrChecksum is returned when checkpoint weights do not match their hash.
var ErrChecksum = errors.New("encoder checkpoint: checksum mismatch")

type tensorState struct {
	Name       string
	Rows, Cols int
	Data       []float64
}

type checkpoint struct {
	Version  int
	Config   Config
	Tensors  []tensorState
	Checksum uint64
}

func checksum(ts []tensorState) uint64 {
	h := xxh3.New()
	var buf [8]byte
	for _, t := range ts {
		_, _ = h.WriteString(t.Name)
		for _, v := range t.Data {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			_, _ = h.Write(buf[:])
		}
	}
	return h.Sum64()
}

// Save writes a zstd-compressed checkpoint of the configuration and weights.
func (e *Encoder) Save(w io.Writer) error {
	ck := checkpoint{Version: checkpointVersion, Config: e.cfg, Tensors: make([]tensorState, len(e.params))}
	for i, p := range e.params {
		r, c := p.Value.Dims()
		ck.Tensors[i] = tensorState{Name: p.Name, Rows: r, Cols: c, Data: p.Data()}
	}
	ck.Checksum = checksum(ck.Tensors)
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(&ck); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return zw.Close()
}

// SaveFile writes a checkpoint atomically to path.
func (e *Encoder) SaveFile(path string) error {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(p, e.Save)
}

// Load reads a checkpoint written by Save. The returned encoder is on the
// host in evaluation mode.
func Load(r io.Reader, seed int64) (*Encoder, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()
	var ck checkpoint
	if err := gob.NewDecoder(zr).Decode(&ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if ck.Version != checkpointVersion {
		return nil, fmt.Errorf("encoder checkpoint: unsupported version %d", ck.Version)
	}
	if checksum(ck.Tensors) != ck.Checksum {
		return nil, ErrChecksum
	}
	e, err := build(ck.Config, seed)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]tensorState, len(ck.Tensors))
	for _, t := range ck.Tensors {
		byName[t.Name] = t
	}
	for _, p := range e.params {
		t, ok := byName[p.Name]
		if !ok {
			return nil, fmt.Errorf("encoder checkpoint: missing tensor %s", p.Name)
		}
		r, c := p.Value.Dims()
		if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
			return nil, fmt.Errorf("encoder checkpoint: tensor %s is %dx%d, want %dx%d", p.Name, t.Rows, t.Cols, r, c)
		}
		copy(p.Data(), t.Data)
	}
	return e, nil
}

// LoadFile reads a checkpoint from path.
func LoadFile(path string, seed int64) (*Encoder, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	e, err := Load(f, seed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return e, nil
}

// FromCheckpoint resolves an encoder checkpoint identifier: an existing file
// is loaded as a saved checkpoint, otherwise the identifier must name a
// preset and a freshly initialized encoder is returned.
func FromCheckpoint(id string, seed int64) (*Encoder, error) {
	if p, err := fsutil.ExpandHome(id); err == nil && fsutil.IsFile(p) {
		return LoadFile(p, seed)
	}
	cfg, ok := Preset(id)
	if !ok {
		return nil, fmt.Errorf("unknown encoder checkpoint %q: not a file and not one of %v", id, PresetNames())
	}
	return New(cfg, seed)
}
