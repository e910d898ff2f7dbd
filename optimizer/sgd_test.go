package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-trojan/checkpoints"
	"github.com/tsawler/go-trojan/tensor"
)

func newParam(t *testing.T, values []float64) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor([]int{len(values)}, values)
	require.NoError(t, err)
	p.SetRequiresGrad(true)
	return p
}

func setGrad(t *testing.T, p *tensor.Tensor, values []float64) {
	t.Helper()
	tensor.ZeroGrad([]*tensor.Tensor{p})
	g, err := tensor.NewTensor([]int{len(values)}, values)
	require.NoError(t, err)
	require.NoError(t, p.AccumulateGrad(g))
}

func TestDefaultSGDConfig(t *testing.T) {
	config := DefaultSGDConfig()
	assert.Equal(t, 0.01, config.LearningRate)
	assert.Equal(t, 0.0, config.Momentum)
	assert.Equal(t, 0.0, config.WeightDecay)
	assert.False(t, config.Nesterov)
}

func TestSGDValidation(t *testing.T) {
	p := newParam(t, []float64{1})
	tests := []struct {
		name   string
		config SGDConfig
	}{
		{"negative lr", SGDConfig{LearningRate: -1}},
		{"negative momentum", SGDConfig{LearningRate: 0.1, Momentum: -0.1}},
		{"momentum above one", SGDConfig{LearningRate: 0.1, Momentum: 1.5}},
		{"negative weight decay", SGDConfig{LearningRate: 0.1, WeightDecay: -1}},
		{"nesterov without momentum", SGDConfig{LearningRate: 0.1, Nesterov: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSGD(tt.config, []*tensor.Tensor{p})
			assert.Error(t, err)
		})
	}

	_, err := NewSGD(DefaultSGDConfig(), nil)
	assert.Error(t, err)
}

func TestVanillaSGDStep(t *testing.T) {
	p := newParam(t, []float64{1, 2})
	sgd, err := NewSGD(SGDConfig{LearningRate: 0.1}, []*tensor.Tensor{p})
	require.NoError(t, err)

	setGrad(t, p, []float64{1, -1})
	require.NoError(t, sgd.Step())
	assert.InDeltaSlice(t, []float64{0.9, 2.1}, p.Data, 1e-12)
	assert.Equal(t, uint64(1), sgd.GetStepCount())
}

func TestNesterovSGDStep(t *testing.T) {
	p := newParam(t, []float64{1})
	sgd, err := NewSGD(SGDConfig{LearningRate: 0.1, Momentum: 0.9, WeightDecay: 0.01, Nesterov: true}, []*tensor.Tensor{p})
	require.NoError(t, err)

	// step 1: d = 0.5 + 0.01*1 = 0.51; buf = 0.51; d = 0.51 + 0.9*0.51 = 0.969
	setGrad(t, p, []float64{0.5})
	require.NoError(t, sgd.Step())
	assert.InDelta(t, 1-0.1*0.969, p.Data[0], 1e-12)

	// step 2: p = 0.9031; d = 0.5 + 0.009031 = 0.509031
	// buf = 0.9*0.51 + 0.509031 = 0.968031; d = 0.509031 + 0.9*0.968031 = 1.3802589
	setGrad(t, p, []float64{0.5})
	require.NoError(t, sgd.Step())
	assert.InDelta(t, 0.9031-0.1*1.3802589, p.Data[0], 1e-9)
}

func TestSGDSkipsParametersWithoutGradient(t *testing.T) {
	p := newParam(t, []float64{1})
	frozen := newParam(t, []float64{5})
	frozen.SetRequiresGrad(false)

	sgd, err := NewSGD(SGDConfig{LearningRate: 1}, []*tensor.Tensor{p, frozen})
	require.NoError(t, err)
	require.NoError(t, sgd.Step())
	assert.Equal(t, []float64{1}, p.Data)
	assert.Equal(t, []float64{5}, frozen.Data)
}

func TestSGDZeroGradAndLR(t *testing.T) {
	p := newParam(t, []float64{1})
	sgd, err := NewSGD(SGDConfig{LearningRate: 0.1}, []*tensor.Tensor{p})
	require.NoError(t, err)

	setGrad(t, p, []float64{3})
	sgd.ZeroGrad()
	assert.Equal(t, []float64{0}, p.Grad().Data)

	sgd.SetLR(0.5)
	assert.Equal(t, 0.5, sgd.GetLR())
}

func TestSGDStateRoundTrip(t *testing.T) {
	p := newParam(t, []float64{1, 1})
	cfg := SGDConfig{LearningRate: 0.1, Momentum: 0.9, Nesterov: true}
	sgd, err := NewSGD(cfg, []*tensor.Tensor{p})
	require.NoError(t, err)

	setGrad(t, p, []float64{1, 2})
	require.NoError(t, sgd.Step())

	state, err := sgd.GetState()
	require.NoError(t, err)
	assert.Equal(t, "SGD", state.Type)
	require.Len(t, state.StateData, 1)
	assert.Equal(t, "momentum_0", state.StateData[0].Name)

	q := newParam(t, append([]float64(nil), p.Data...))
	restored, err := NewSGD(cfg, []*tensor.Tensor{q})
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(state))
	assert.Equal(t, uint64(1), restored.GetStepCount())

	setGrad(t, p, []float64{1, 2})
	setGrad(t, q, []float64{1, 2})
	require.NoError(t, sgd.Step())
	require.NoError(t, restored.Step())
	assert.InDeltaSlice(t, p.Data, q.Data, 1e-12)

	err = restored.LoadState(&checkpoints.OptimizerState{Type: "Adam"})
	assert.Error(t, err)
}

func TestExtractBufferIndex(t *testing.T) {
	assert.Equal(t, 0, extractBufferIndex("momentum_0"))
	assert.Equal(t, 12, extractBufferIndex("momentum_12"))
	assert.Equal(t, -1, extractBufferIndex("momentum"))
	assert.Equal(t, -1, extractBufferIndex("momentum_x"))
}
