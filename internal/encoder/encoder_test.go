package encoder

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"metabert/internal/autograd"
	"metabert/internal/device"
)

func microInput() (ids, mask, seg [][]int) {
	ids = [][]int{{1, 5, 9, 2, 0, 0}, {1, 7, 7, 3, 4, 2}}
	mask = [][]int{{1, 1, 1, 1, 0, 0}, {1, 1, 1, 1, 1, 1}}
	seg = [][]int{{0, 0, 0, 0, 0, 0}, {0, 0, 0, 1, 1, 1}}
	return
}

func newMicro(t *testing.T) *Encoder {
	t.Helper()
	cfg, ok := Preset("bert-micro")
	if !ok {
		t.Fatalf("missing preset")
	}
	e, err := New(cfg, 7)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return e
}

func TestForwardShapeAndRange(t *testing.T) {
	e := newMicro(t)
	ids, mask, seg := microInput()
	out, err := e.Forward(autograd.NewGraph(false), ids, mask, seg)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	r, c := out.Dims()
	if r != 2 || c != e.HiddenSize() {
		t.Fatalf("pooled dims %dx%d", r, c)
	}
	for _, v := range out.Value.RawMatrix().Data {
		if math.IsNaN(v) || v < -1 || v > 1 {
			t.Fatalf("pooled value out of tanh range: %v", v)
		}
	}
}

func TestForwardEvalIsDeterministic(t *testing.T) {
	e := newMicro(t)
	ids, mask, seg := microInput()
	a, _ := e.Forward(autograd.NewGraph(false), ids, mask, seg)
	b, _ := e.Forward(autograd.NewGraph(false), ids, mask, seg)
	if !equalData(a.Value.RawMatrix().Data, b.Value.RawMatrix().Data) {
		t.Fatalf("eval forward not deterministic")
	}
}

func TestForwardPaddingIsIgnored(t *testing.T) {
	e := newMicro(t)
	ids, mask, seg := microInput()
	a, _ := e.Forward(autograd.NewGraph(false), ids[:1], mask[:1], seg[:1])
	ids[0][4], ids[0][5] = 99, 42
	b, _ := e.Forward(autograd.NewGraph(false), ids[:1], mask[:1], seg[:1])
	for i, v := range a.Value.RawMatrix().Data {
		if math.Abs(v-b.Value.RawMatrix().Data[i]) > 1e-9 {
			t.Fatalf("masked tokens changed the pooled output")
		}
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	e := newMicro(t)
	g := autograd.NewGraph(false)
	if _, err := e.Forward(g, [][]int{{1, 500}}, [][]int{{1, 1}}, [][]int{{0, 0}}); err == nil {
		t.Fatalf("expected out-of-vocabulary error")
	}
	if _, err := e.Forward(g, [][]int{{1, 2}, {1}}, [][]int{{1, 1}, {1}}, [][]int{{0, 0}, {0}}); err == nil {
		t.Fatalf("expected ragged batch error")
	}
	if _, err := e.Forward(g, nil, nil, nil); err == nil {
		t.Fatalf("expected empty batch error")
	}
}

func TestBackwardReachesEveryParam(t *testing.T) {
	e := newMicro(t)
	e.SetTraining(true)
	ids, mask, seg := microInput()
	g := autograd.NewGraph(true)
	out, err := e.Forward(g, ids, mask, seg)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	loss, err := g.MSE(g.SliceCols(out, 0, 1), []float64{0.5, -0.5})
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	if err := g.Backward(loss); err != nil {
		t.Fatalf("backward: %v", err)
	}
	for _, p := range e.Params() {
		if p.Grad == nil {
			t.Fatalf("%s received no gradient", p.Name)
		}
	}
}

func TestRequiresGradOffLeavesOutputUntracked(t *testing.T) {
	e := newMicro(t)
	e.SetRequiresGrad(false)
	ids, mask, seg := microInput()
	out, err := e.Forward(autograd.NewGraph(true), ids, mask, seg)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if out.Tracked() {
		t.Fatalf("frozen encoder produced a tracked output")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	e := newMicro(t)
	path := filepath.Join(t.TempDir(), "enc.ckpt")
	if err := e.SaveFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := FromCheckpoint(path, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Fingerprint() != e.Fingerprint() {
		t.Fatalf("fingerprint changed across save/load")
	}
	if got.Config() != e.Config() {
		t.Fatalf("config changed across save/load")
	}
	if !got.OnHost() || got.Training() {
		t.Fatalf("loaded encoder should be on host in eval mode")
	}
}

func TestCheckpointDetectsCorruption(t *testing.T) {
	e := newMicro(t)
	var buf bytes.Buffer
	if err := e.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw := buf.Bytes()
	raw[len(raw)/2] ^= 0xff
	if _, err := Load(bytes.NewReader(raw), 1); err == nil {
		t.Fatalf("expected corrupted checkpoint to fail")
	}
}

func TestChecksumMismatch(t *testing.T) {
	ts := []tensorState{{Name: "a", Rows: 1, Cols: 1, Data: []float64{1}}}
	sum := checksum(ts)
	ts[0].Data[0] = 2
	if checksum(ts) == sum {
		t.Fatalf("checksum ignores data")
	}
}

func TestFromCheckpointUnknown(t *testing.T) {
	if _, err := FromCheckpoint("roberta-giant", 1); err == nil {
		t.Fatalf("expected unknown identifier error")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	e := newMicro(t)
	c, err := e.Clone(7)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if c.Fingerprint() != e.Fingerprint() || c.ResidentID() == e.ResidentID() {
		t.Fatalf("clone should copy weights under a new id")
	}
	c.Params()[0].Data()[0] += 1
	if c.Fingerprint() == e.Fingerprint() {
		t.Fatalf("clone shares storage with the original")
	}
}

func TestCloneLeavesDropoutStream(t *testing.T) {
	a, b := newMicro(t), newMicro(t)
	a.SetTraining(true)
	b.SetTraining(true)
	if _, err := b.Clone(11); err != nil {
		t.Fatalf("clone: %v", err)
	}
	ids, mask, seg := microInput()
	x, err := a.Forward(autograd.NewGraph(false), ids, mask, seg)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	y, err := b.Forward(autograd.NewGraph(false), ids, mask, seg)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !equalData(x.Value.RawMatrix().Data, y.Value.RawMatrix().Data) {
		t.Fatalf("cloning advanced the source dropout stream")
	}
}

func TestResidencyViaLease(t *testing.T) {
	e := newMicro(t)
	acc := device.NewAccelerator("accel:encoder-test", 64, 0)
	l, err := device.Acquire(acc, e)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if e.OnHost() {
		t.Fatalf("encoder should be on the accelerator")
	}
	if got := acc.Status().UsedBytes; got != e.SizeBytes() {
		t.Fatalf("used bytes %d want %d", got, e.SizeBytes())
	}
	l.Release()
	if !e.OnHost() {
		t.Fatalf("encoder not returned to host")
	}
}

func equalData(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
