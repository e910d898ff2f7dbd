package training

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-trojan/layers"
	"github.com/tsawler/go-trojan/tensor"
)

func TestEpochCountLaw(t *testing.T) {
	tests := []struct {
		nEpochs, optim int
		adv            bool
		want           int
	}{
		{10, 4, false, 10},
		{10, 4, true, 2},
		{12, 4, true, 3},
		{3, 4, true, 0},
		{7, 1, true, 7},
	}
	for _, tt := range tests {
		cfg := testConfig(tt.nEpochs)
		cfg.Adversarial.Enabled = tt.adv
		cfg.Adversarial.OptimEpochs = tt.optim
		assert.Equal(t, tt.want, cfg.EpochCount())

		if tt.want == 0 {
			continue
		}
		model, err := layers.Build("linear", []int{1, 2, 2}, 3, rand.New(rand.NewSource(1)))
		require.NoError(t, err)
		sink := &memSink{}
		tr := newTestTrainer(t, model, nil, cfg, WithSink(sink))
		require.NoError(t, tr.Train(context.Background(), randomSource(t, 1, 2, 4, 3), randomSource(t, 2, 1, 4, 3)))
		assert.Len(t, tr.History(), tt.want)
		assert.Len(t, sink.epochs, tt.want)
		assert.Equal(t, tt.want, tr.EpochCount())
	}
}

func TestCleanBatchScenario(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	labels := []int{0, 1, 2, 3}
	src := newSliceSource(makeBatch(t, rng, labels, labels))

	tr := newTestTrainer(t, newOracleModel(4), nil, testConfig(1))
	meters := NewMeters()
	require.NoError(t, tr.trainPass(context.Background(), 0, 1, src, meters))

	assert.Equal(t, 1.0, meters.CleanAcc.Value())
	assert.Equal(t, 1.0, meters.OverallAcc.Value())
	assert.True(t, meters.TrojAcc.Empty())
	assert.Equal(t, EmptyValue, meters.TrojAcc.Value())

	valid, err := tr.Eval(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1.0, valid.CleanAcc.Value())
	assert.True(t, valid.TrojAcc.Empty())
}

func TestMixedBatchScenario(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	original := []int{1, 2, 3, 2, 3}
	target := []int{1, 2, 3, 0, 0}
	base := makeBatch(t, rng, original, target)

	// the same rows with the poisoned samples first
	perm := []int{3, 0, 4, 1, 2}
	shuffled := &Batch{Images: tensor.ZerosLike(base.Images)}
	row := base.Images.RowSize()
	for i, p := range perm {
		copy(shuffled.Images.Data[i*row:(i+1)*row], base.Images.Data[p*row:(p+1)*row])
		shuffled.Indices = append(shuffled.Indices, p)
		shuffled.Original = append(shuffled.Original, original[p])
		shuffled.Target = append(shuffled.Target, target[p])
	}

	var snaps []Snapshot
	for _, b := range []*Batch{base, shuffled} {
		tr := newTestTrainer(t, newOracleModel(4), nil, testConfig(1))
		meters := NewMeters()
		require.NoError(t, tr.trainPass(context.Background(), 0, 1, newSliceSource(b), meters))

		assert.Equal(t, 3, meters.CleanAcc.Count())
		assert.Equal(t, 2, meters.TrojAcc.Count())
		// the oracle predicts the original label, so clean rows are right
		// and trojan rows are wrong
		assert.Equal(t, 1.0, meters.CleanAcc.Value())
		assert.Equal(t, 0.0, meters.TrojAcc.Value())
		assert.False(t, meters.TrojAcc.Empty())
		snaps = append(snaps, meters.Snapshot())
	}
	assert.Equal(t, snaps[0].CleanAcc, snaps[1].CleanAcc)
	assert.Equal(t, snaps[0].TrojAcc, snaps[1].TrojAcc)
	assert.Equal(t, snaps[0].OverallAcc, snaps[1].OverallAcc)
	assert.InDelta(t, snaps[0].Loss, snaps[1].Loss, 1e-12)
}

func TestEmptyInjectorMatchesCleanTraining(t *testing.T) {
	for _, adv := range []bool{false, true} {
		cfg := testConfig(2)
		cfg.Adversarial.Enabled = adv
		cfg.Adversarial.OptimEpochs = 2
		cfg.Train.NEpochs = 4

		run := func(attacker Attacker) ([]EpochRecord, []*tensor.Tensor) {
			model, err := layers.Build("mlp", []int{1, 2, 2}, 3, rand.New(rand.NewSource(4)))
			require.NoError(t, err)
			tr := newTestTrainer(t, model, attacker, cfg)
			require.NoError(t, tr.Train(context.Background(), randomSource(t, 1, 3, 5, 3), randomSource(t, 2, 2, 5, 3)))
			return tr.History(), model.Parameters()
		}

		attacker := &stubAttacker{empty: true}
		withEmpty, paramsA := run(attacker)
		clean, paramsB := run(nil)

		assert.Greater(t, attacker.calls, 0)
		require.Len(t, withEmpty, len(clean))
		for i := range clean {
			assert.Equal(t, clean[i].Train, withEmpty[i].Train)
			assert.Equal(t, clean[i].Valid, withEmpty[i].Valid)
		}
		for i := range paramsA {
			assert.Equal(t, paramsB[i].Data, paramsA[i].Data)
		}
	}
}

func TestDeterminism(t *testing.T) {
	for _, adv := range []bool{false, true} {
		run := func() []EpochRecord {
			cfg := testConfig(4)
			cfg.Adversarial.Enabled = adv
			cfg.Adversarial.OptimEpochs = 2
			model, err := layers.Build("mlp", []int{1, 2, 2}, 3, rand.New(rand.NewSource(21)))
			require.NoError(t, err)
			tr := newTestTrainer(t, model, &stubAttacker{budget: 2}, cfg)
			require.NoError(t, tr.Train(context.Background(), randomSource(t, 5, 4, 6, 3), randomSource(t, 6, 2, 6, 3)))
			return tr.History()
		}
		a, b := run(), run()
		require.Len(t, a, len(b))
		for i := range a {
			assert.Equal(t, a[i].Train, b[i].Train)
			assert.Equal(t, a[i].Valid, b[i].Valid)
			assert.Equal(t, a[i].LR, b[i].LR)
		}
	}
}

func TestTrainingReducesLoss(t *testing.T) {
	cfg := testConfig(15)
	cfg.Train.LR = 0.1
	model, err := layers.Build("mlp", []int{1, 2, 2}, 3, rand.New(rand.NewSource(8)))
	require.NoError(t, err)
	tr := newTestTrainer(t, model, nil, cfg)
	src := randomSource(t, 3, 4, 8, 3)
	require.NoError(t, tr.Train(context.Background(), src, src))

	h := tr.History()
	assert.Less(t, h[len(h)-1].Train.Loss, h[0].Train.Loss)
}

func TestFreeStepPerturbation(t *testing.T) {
	cfg := testConfig(3)
	cfg.Adversarial = AdversarialConfig{Enabled: true, OptimEpochs: 3, Lambda: 1, Eps: 5, Radius: 0.2}
	model, err := layers.Build("mlp", []int{1, 2, 2}, 3, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	// the hook fires at the start and at the end of every inner step
	var starts, ends []*tensor.Tensor
	calls := 0
	hook := func(_ int, delta *tensor.Tensor) {
		if calls%2 == 0 {
			starts = append(starts, delta.Clone())
		} else {
			ends = append(ends, delta.Clone())
		}
		calls++
	}
	tr := newTestTrainer(t, model, nil, cfg)
	tr.perturbationHook = hook

	meters := NewMeters()
	require.NoError(t, tr.trainPass(context.Background(), 0, 1, randomSource(t, 4, 3, 5, 3), meters))

	// three batches with three inner steps each
	require.Len(t, starts, 9)
	require.Len(t, ends, 9)
	for i, d := range ends {
		assert.LessOrEqual(t, tensor.Norm(d), cfg.Adversarial.Radius+1e-9, "inner step %d", i)
	}
	for b := 0; b < 3; b++ {
		first := starts[b*3]
		assert.Equal(t, 0.0, tensor.Norm(first), "batch %d starts from a fresh perturbation", b)
	}
	// later inner steps continue from the previous step's perturbation
	assert.Equal(t, ends[0].Data, starts[1].Data)
	assert.Greater(t, tensor.Norm(ends[0]), 0.0)

	assert.Equal(t, uint64(9), tr.Optimizer().GetStepCount())
	assert.Equal(t, 15, meters.Loss.Count())
}

func TestWarpDisablesTransforms(t *testing.T) {
	model, err := layers.Build("linear", []int{1, 2, 2}, 3, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	run := RunIdentity{Dataset: "synthetic", Network: "linear", Method: "warp"}
	tr, err := NewTrainer(model, nil, run, testConfig(1),
		WithLogger(quietLogger()), WithOutput(&bytes.Buffer{}), WithProgress(false))
	require.NoError(t, err)

	train, valid := randomSource(t, 1, 1, 4, 3), randomSource(t, 2, 1, 4, 3)
	require.NoError(t, tr.Train(context.Background(), train, valid))
	assert.False(t, train.useTransform)
	assert.False(t, valid.useTransform)

	other := newTestTrainer(t, model, nil, testConfig(1))
	train, valid = randomSource(t, 1, 1, 4, 3), randomSource(t, 2, 1, 4, 3)
	require.NoError(t, other.Train(context.Background(), train, valid))
	assert.True(t, train.useTransform)
}

func TestDynamicAttackerResets(t *testing.T) {
	model, err := layers.Build("linear", []int{1, 2, 2}, 3, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	attacker := &stubAttacker{budget: 1}
	tr := newTestTrainer(t, model, attacker, testConfig(2))

	train := newSliceSource(
		makeBatch(t, rand.New(rand.NewSource(1)), []int{1, 2}, []int{1, 2}),
		makeBatch(t, rand.New(rand.NewSource(2)), []int{2, 1}, []int{2, 1}),
	)
	valid := newSliceSource(
		makeBatch(t, rand.New(rand.NewSource(3)), []int{1, 1}, []int{1, 1}),
		makeBatch(t, rand.New(rand.NewSource(4)), []int{2, 2}, []int{2, 2}),
		makeBatch(t, rand.New(rand.NewSource(5)), []int{1, 2}, []int{1, 2}),
	)
	require.NoError(t, tr.Train(context.Background(), train, valid))

	// one reset per training epoch, one per validation batch
	assert.Equal(t, 2*1+2*3, attacker.resets)
	for _, rec := range tr.History() {
		// budget of one poison per training epoch
		assert.False(t, rec.Train.TrojEmpty)
		// every validation batch gets a fresh budget and thus poison
		assert.False(t, rec.Valid.TrojEmpty)
	}
}

func TestEvalStaticAttackerUsesStoredBatches(t *testing.T) {
	model := newOracleModel(3)
	tr := newTestTrainer(t, model, nil, testConfig(1))
	rng := rand.New(rand.NewSource(1))
	src := newSliceSource(makeBatch(t, rng, []int{1, 2, 1}, []int{1, 0, 1}))

	before := append([]float64(nil), model.bias.Data...)
	m, err := tr.Eval(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, m.OverallAcc.Count())
	assert.Equal(t, 1, m.TrojAcc.Count())
	assert.Equal(t, before, model.bias.Data)
	assert.Equal(t, uint64(0), tr.Optimizer().GetStepCount())
	assert.Equal(t, 1, model.evals)
}

func TestEvalEmptySource(t *testing.T) {
	tr := newTestTrainer(t, newOracleModel(3), nil, testConfig(1))
	_, err := tr.Eval(context.Background(), newSliceSource())
	assert.True(t, errors.Is(err, ErrEmptySource))

	err = tr.Train(context.Background(), randomSource(t, 1, 1, 3, 3), newSliceSource())
	assert.True(t, errors.Is(err, ErrEmptySource))
}

func TestTrainCancelled(t *testing.T) {
	tr := newTestTrainer(t, newOracleModel(3), nil, testConfig(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tr.Train(ctx, randomSource(t, 1, 2, 3, 3), randomSource(t, 2, 1, 3, 3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Contains(t, err.Error(), "epoch 0 batch 0")
}

func TestSinkErrorIsFatal(t *testing.T) {
	sink := &memSink{err: errors.New("write refused")}
	tr := newTestTrainer(t, newOracleModel(3), nil, testConfig(3), WithSink(sink))
	err := tr.Train(context.Background(), randomSource(t, 1, 1, 3, 3), randomSource(t, 2, 1, 3, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write refused")
	assert.Len(t, sink.epochs, 1)
}

func TestScheduleSteppedPerEpoch(t *testing.T) {
	cfg := testConfig(4)
	cfg.Train.TMax = 4
	cfg.Train.LR = 0.1
	tr := newTestTrainer(t, newOracleModel(3), nil, cfg)
	require.NoError(t, tr.Train(context.Background(), randomSource(t, 1, 1, 3, 3), randomSource(t, 2, 1, 3, 3)))

	s := NewCosineAnnealingLRScheduler(4, 0)
	for i, rec := range tr.History() {
		assert.InDelta(t, s.GetLR(i, 0.1), rec.LR, 1e-12)
	}
	assert.InDelta(t, 0.0, tr.Optimizer().GetLR(), 1e-12)
}

func TestVerboseMonitor(t *testing.T) {
	cfg := testConfig(5)
	cfg.Misc.Verbose = true
	cfg.Misc.MonitorWindow = 2
	var out bytes.Buffer
	tr := newTestTrainer(t, newOracleModel(3), nil, cfg, WithOutput(&out))
	require.NoError(t, tr.Train(context.Background(), randomSource(t, 1, 1, 3, 3), randomSource(t, 2, 1, 3, 3)))

	text := out.String()
	assert.Equal(t, 3, strings.Count(text, strings.Repeat("-", 100)))
	assert.Contains(t, text, "[ 0| 5]")
	assert.Contains(t, text, "[ 2| 5]")
	assert.Contains(t, text, "[ 4| 5]")
	assert.NotContains(t, text, "[ 1| 5]")
	assert.Contains(t, text, "test troj acc:")
}

func TestProgressBarOutput(t *testing.T) {
	var out bytes.Buffer
	tr := newTestTrainer(t, newOracleModel(3), nil, testConfig(1), WithOutput(&out), WithProgress(true))
	require.NoError(t, tr.Train(context.Background(), randomSource(t, 1, 2, 3, 3), randomSource(t, 2, 1, 3, 3)))
	assert.Contains(t, out.String(), "Epoch 1/1: 100%")
	assert.Contains(t, out.String(), "2/2")
	assert.False(t, IsTerminal(&out))
}

func TestNewTrainerConfigErrors(t *testing.T) {
	model := newOracleModel(3)
	run := RunIdentity{}

	cfg := testConfig(1)
	cfg.Train.Device = "tpu"
	_, err := NewTrainer(model, nil, run, cfg, WithLogger(quietLogger()))
	assert.Error(t, err)

	cfg = testConfig(1)
	cfg.Train.Device = "cuda:0"
	tr, err := NewTrainer(model, nil, run, cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, tensor.CPU, tr.device)

	cfg = testConfig(1)
	cfg.Adversarial.Enabled = true
	cfg.Adversarial.OptimEpochs = 0
	_, err = NewTrainer(model, nil, run, cfg, WithLogger(quietLogger()))
	assert.Error(t, err)

	cfg = testConfig(1)
	cfg.Misc.Verbose = true
	cfg.Misc.MonitorWindow = 0
	_, err = NewTrainer(model, nil, run, cfg, WithLogger(quietLogger()))
	assert.Error(t, err)

	cfg = testConfig(1)
	cfg.Train.Momentum = 0
	_, err = NewTrainer(model, nil, run, cfg, WithLogger(quietLogger()))
	assert.Error(t, err)
}
