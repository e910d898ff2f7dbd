package layers

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-trojan/tensor"
)

// projectedLoss reduces the model output to a scalar with fixed weights so
// gradients can be compared against finite differences.
func projectedLoss(t *testing.T, m *Sequential, x *tensor.Tensor, proj []float64) float64 {
	t.Helper()
	pass, err := m.Forward(x)
	require.NoError(t, err)
	return floats.Dot(pass.Output().Data, proj)
}

func TestBuild(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	m, err := Build("mlp", []int{1, 4, 4}, 3, rng)
	require.NoError(t, err)
	assert.Len(t, m.Layers(), 4)
	assert.Len(t, m.Parameters(), 4)
	assert.Contains(t, m.Summary(), "Total parameters: 2563")

	lin, err := Build("linear", []int{3, 2, 2}, 10, rng)
	require.NoError(t, err)
	assert.Len(t, lin.Parameters(), 2)

	_, err = Build("resnet18", []int{3, 32, 32}, 10, rng)
	assert.True(t, errors.Is(err, ErrUnknownNetwork))

	_, err = Build("mlp", []int{3, 32, 32}, 1, rng)
	assert.Error(t, err)
}

func TestForwardShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	m, err := Build("mlp", []int{2, 3, 3}, 4, rng)
	require.NoError(t, err)

	x, _ := tensor.RandN([]int{5, 2, 3, 3}, 1, rng)
	pass, err := m.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4}, pass.Output().Shape)

	empty, _ := tensor.Zeros([]int{0, 2, 3, 3})
	pass, err = m.Forward(empty)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4}, pass.Output().Shape)

	wrong, _ := tensor.Zeros([]int{1, 3, 3, 3})
	_, err = m.Forward(wrong)
	assert.Error(t, err)
}

func TestInputGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m, err := Build("mlp", []int{1, 2, 3}, 3, rng)
	require.NoError(t, err)

	x, _ := tensor.RandN([]int{2, 1, 2, 3}, 1, rng)
	proj := make([]float64, 2*3)
	for i := range proj {
		proj[i] = rng.NormFloat64()
	}

	pass, err := m.Forward(x)
	require.NoError(t, err)
	gradOut, _ := tensor.NewTensor([]int{2, 3}, append([]float64(nil), proj...))
	gradIn, err := pass.Backward(gradOut)
	require.NoError(t, err)
	assert.Equal(t, x.Shape, gradIn.Shape)

	probe := x.Clone()
	numeric := fd.Gradient(nil, func(v []float64) float64 {
		copy(probe.Data, v)
		return projectedLoss(t, m, probe, proj)
	}, x.Data, &fd.Settings{Formula: fd.Central})

	for i := range numeric {
		assert.InDelta(t, numeric[i], gradIn.Data[i], 1e-5, "input gradient %d", i)
	}
}

func TestParameterGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m, err := Build("linear", []int{4}, 3, rng)
	require.NoError(t, err)

	x, _ := tensor.RandN([]int{3, 4}, 1, rng)
	proj := make([]float64, 3*3)
	for i := range proj {
		proj[i] = rng.NormFloat64()
	}

	pass, err := m.Forward(x)
	require.NoError(t, err)
	gradOut, _ := tensor.NewTensor([]int{3, 3}, append([]float64(nil), proj...))
	_, err = pass.Backward(gradOut)
	require.NoError(t, err)

	for _, p := range m.NamedParameters() {
		param := p.Tensor
		orig := append([]float64(nil), param.Data...)
		numeric := fd.Gradient(nil, func(v []float64) float64 {
			copy(param.Data, v)
			return projectedLoss(t, m, x, proj)
		}, orig, &fd.Settings{Formula: fd.Central})
		copy(param.Data, orig)

		require.NotNil(t, param.Grad(), p.Name)
		for i := range numeric {
			assert.InDelta(t, numeric[i], param.Grad().Data[i], 1e-5, "%s.%s[%d]", p.Layer, p.Name, i)
		}
	}
}

func TestConcurrentPassesKeepSeparateCaches(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m, err := Build("mlp", []int{4}, 2, rng)
	require.NoError(t, err)

	a, _ := tensor.RandN([]int{2, 4}, 1, rng)
	b, _ := tensor.RandN([]int{2, 4}, 1, rng)

	passA, err := m.Forward(a)
	require.NoError(t, err)
	passB, err := m.Forward(b)
	require.NoError(t, err)

	ones, _ := tensor.Full([]int{2, 2}, 1)
	gradA1, err := passA.Backward(ones)
	require.NoError(t, err)

	// A fresh pass over a must produce the same input gradient even though
	// passB ran in between.
	passA2, err := m.Forward(a)
	require.NoError(t, err)
	gradA2, err := passA2.Backward(ones)
	require.NoError(t, err)
	assert.InDeltaSlice(t, gradA1.Data, gradA2.Data, 1e-12)

	_, err = passB.Backward(ones)
	require.NoError(t, err)
}

func TestTrainEvalToggle(t *testing.T) {
	m := NewSequential(NewFlatten("flatten"))
	assert.True(t, m.IsTraining())
	m.Eval()
	assert.False(t, m.IsTraining())
	m.Train()
	assert.True(t, m.IsTraining())
}
