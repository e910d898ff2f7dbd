package training

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-trojan/layers"
	"github.com/tsawler/go-trojan/tensor"
)

// sliceSource replays fixed batches, handing out copies so the trainer may
// grow them.
type sliceSource struct {
	batches      []*Batch
	pos          int
	resets       int
	useTransform bool
}

func newSliceSource(batches ...*Batch) *sliceSource {
	return &sliceSource{batches: batches, useTransform: true}
}

func (s *sliceSource) Reset() {
	s.pos = 0
	s.resets++
}

func (s *sliceSource) Next() (*Batch, error) {
	if s.pos >= len(s.batches) {
		return nil, nil
	}
	b := s.batches[s.pos]
	s.pos++
	return &Batch{
		Indices:  append([]int(nil), b.Indices...),
		Images:   b.Images.Clone(),
		Original: append([]int(nil), b.Original...),
		Target:   append([]int(nil), b.Target...),
	}, nil
}

func (s *sliceSource) SetUseTransform(v bool) { s.useTransform = v }

func (s *sliceSource) NumBatches() int { return len(s.batches) }

// makeBatch builds a batch of [n, 1, 2, 2] images whose first pixel encodes
// the original label.
func makeBatch(t *testing.T, rng *rand.Rand, original, target []int) *Batch {
	t.Helper()
	n := len(original)
	images, err := tensor.RandN([]int{n, 1, 2, 2}, 0.1, rng)
	require.NoError(t, err)
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
		images.Data[i*4] += float64(original[i])
	}
	return &Batch{Indices: indices, Images: images, Original: original, Target: target}
}

// randomSource draws nBatches batches of the given size with labels in [0, k).
func randomSource(t *testing.T, seed int64, nBatches, size, k int) *sliceSource {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var batches []*Batch
	for b := 0; b < nBatches; b++ {
		labels := make([]int, size)
		for i := range labels {
			labels[i] = rng.Intn(k)
		}
		target := append([]int(nil), labels...)
		// poison one row per batch towards class 0
		if labels[0] != 0 {
			target[0] = 0
		}
		batches = append(batches, makeBatch(t, rng, labels, target))
	}
	return newSliceSource(batches...)
}

// oracleModel predicts the label encoded in each image's first pixel. Its
// single bias parameter receives gradients so the optimizer has work to do.
type oracleModel struct {
	classes int
	bias    *tensor.Tensor
	evals   int
}

func newOracleModel(classes int) *oracleModel {
	b, _ := tensor.Zeros([]int{classes})
	b.SetRequiresGrad(true)
	return &oracleModel{classes: classes, bias: b}
}

func (m *oracleModel) Forward(x *tensor.Tensor) (layers.Pass, error) {
	n := x.Shape[0]
	row := x.RowSize()
	out, _ := tensor.Zeros([]int{n, m.classes})
	for i := 0; i < n; i++ {
		label := int(x.Data[i*row] + 0.5)
		for j := 0; j < m.classes; j++ {
			out.Data[i*m.classes+j] = m.bias.Data[j]
		}
		if label >= 0 && label < m.classes {
			out.Data[i*m.classes+label] += 20
		}
	}
	return &oraclePass{model: m, input: x, output: out}, nil
}

func (m *oracleModel) Parameters() []*tensor.Tensor { return []*tensor.Tensor{m.bias} }
func (m *oracleModel) Train()                       {}
func (m *oracleModel) Eval()                        { m.evals++ }

type oraclePass struct {
	model  *oracleModel
	input  *tensor.Tensor
	output *tensor.Tensor
}

func (p *oraclePass) Output() *tensor.Tensor { return p.output }

func (p *oraclePass) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	k := p.model.classes
	g, _ := tensor.Zeros([]int{k})
	for i := 0; i < gradOut.Shape[0]; i++ {
		for j := 0; j < k; j++ {
			g.Data[j] += gradOut.Data[i*k+j]
		}
	}
	if err := p.model.bias.AccumulateGrad(g); err != nil {
		return nil, err
	}
	return tensor.ZerosLike(p.input), nil
}

// stubAttacker is a dynamic attacker that relabels a copy of the first
// sample of every batch to class 0, up to budget per epoch.
type stubAttacker struct {
	budget int
	count  int
	resets int
	calls  int
	empty  bool
}

func (a *stubAttacker) Dynamic() bool { return true }

func (a *stubAttacker) ResetTrojCount() {
	a.count = 0
	a.resets++
}

func (a *stubAttacker) InjectDynamic(images *tensor.Tensor, original []int) (Poison, error) {
	a.calls++
	if a.empty || a.count >= a.budget || len(original) == 0 || original[0] == 0 {
		return Poison{}, nil
	}
	a.count++
	row, err := images.Row(0)
	if err != nil {
		return Poison{}, err
	}
	img, err := row.Reshape(append([]int{1}, row.Shape...))
	if err != nil {
		return Poison{}, err
	}
	return Poison{Images: img, Original: []int{original[0]}, Target: []int{0}}, nil
}

type recordedEpoch struct {
	epoch        int
	train, valid Snapshot
}

type memSink struct {
	epochs []recordedEpoch
	closed bool
	err    error
}

func (s *memSink) WriteEpoch(_ context.Context, _ RunIdentity, epoch int, train, valid Snapshot) error {
	s.epochs = append(s.epochs, recordedEpoch{epoch: epoch, train: train, valid: valid})
	return s.err
}

func (s *memSink) Close() error {
	s.closed = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(epochs int) Config {
	cfg := DefaultConfig()
	cfg.Train.NEpochs = epochs
	cfg.Train.TMax = epochs
	cfg.Train.LR = 0.05
	cfg.Misc.Verbose = false
	return cfg
}

func newTestTrainer(t *testing.T, model layers.Module, attacker Attacker, cfg Config, opts ...Option) *Trainer {
	t.Helper()
	run := RunIdentity{Dataset: "synthetic", Network: "mlp", Method: "badnet", Timestamp: "240101000000"}
	opts = append([]Option{WithLogger(quietLogger()), WithOutput(io.Discard), WithProgress(false)}, opts...)
	tr, err := NewTrainer(model, attacker, run, cfg, opts...)
	require.NoError(t, err)
	return tr
}
