package training

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-trojan/tensor"
)

var ErrEmptyBatch = errors.New("empty batch")

// CrossEntropy computes the mean softmax cross-entropy of logits [N, K]
// against integer labels and the gradient of that mean with respect to the
// logits, (softmax - onehot) / N.
func CrossEntropy(logits *tensor.Tensor, labels []int) (float64, *tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return 0, nil, fmt.Errorf("cross entropy expects [N, K] logits, got %v", logits.Shape)
	}
	n, k := logits.Shape[0], logits.Shape[1]
	if n == 0 {
		return 0, nil, ErrEmptyBatch
	}
	if len(labels) != n {
		return 0, nil, fmt.Errorf("cross entropy: %d labels for %d rows", len(labels), n)
	}

	grad := tensor.ZerosLike(logits)
	var total float64
	for i := 0; i < n; i++ {
		label := labels[i]
		if label < 0 || label >= k {
			return 0, nil, fmt.Errorf("label %d out of range [0, %d)", label, k)
		}
		row := logits.Data[i*k : (i+1)*k]
		lse := floats.LogSumExp(row)
		total += lse - row[label]

		g := grad.Data[i*k : (i+1)*k]
		for j, v := range row {
			g[j] = math.Exp(v-lse) / float64(n)
		}
		g[label] -= 1 / float64(n)
	}
	return total / float64(n), grad, nil
}
