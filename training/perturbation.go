package training

import "github.com/tsawler/go-trojan/tensor"

// ProjectL2 rescales delta in place onto the L2 ball of the given radius when
// its norm exceeds it. The whole tensor is treated as one vector.
func ProjectL2(delta *tensor.Tensor, radius float64) {
	norm := tensor.Norm(delta)
	if norm > radius && norm > 0 {
		tensor.Scale(delta, radius/norm)
	}
}
