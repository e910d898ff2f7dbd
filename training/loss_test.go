package training

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/tsawler/go-trojan/tensor"
)

func TestCrossEntropyValue(t *testing.T) {
	logits, _ := tensor.NewTensor([]int{2, 3}, []float64{
		1, 2, 3,
		0, 0, 0,
	})
	loss, _, err := CrossEntropy(logits, []int{2, 1})
	require.NoError(t, err)

	lse := math.Log(math.Exp(1) + math.Exp(2) + math.Exp(3))
	want := ((lse - 3) + math.Log(3)) / 2
	assert.InDelta(t, want, loss, 1e-12)
}

func TestCrossEntropyGradient(t *testing.T) {
	data := []float64{0.3, -1.2, 2.0, 0.5, 0.1, -0.4, 1.5, 0.0}
	labels := []int{2, 0}
	logits, _ := tensor.NewTensor([]int{2, 4}, append([]float64(nil), data...))

	_, grad, err := CrossEntropy(logits, labels)
	require.NoError(t, err)

	numeric := fd.Gradient(nil, func(x []float64) float64 {
		l, _ := tensor.NewTensor([]int{2, 4}, x)
		v, _, _ := CrossEntropy(l, labels)
		return v
	}, data, &fd.Settings{Formula: fd.Central})

	assert.InDeltaSlice(t, numeric, grad.Data, 1e-6)
}

func TestCrossEntropyErrors(t *testing.T) {
	empty, _ := tensor.Zeros([]int{0, 3})
	_, _, err := CrossEntropy(empty, nil)
	assert.True(t, errors.Is(err, ErrEmptyBatch))

	logits, _ := tensor.Zeros([]int{2, 3})
	_, _, err = CrossEntropy(logits, []int{0})
	assert.Error(t, err)

	_, _, err = CrossEntropy(logits, []int{0, 3})
	assert.Error(t, err)

	flat, _ := tensor.Zeros([]int{3})
	_, _, err = CrossEntropy(flat, []int{0, 1, 2})
	assert.Error(t, err)
}
