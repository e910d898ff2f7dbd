package layers

import (
	"fmt"
	"math/rand"
)

// DefaultHidden is the hidden width used by the "mlp" network.
const DefaultHidden = 128

// Build constructs a named network for inputs of shape inputShape (excluding
// the batch dimension). Supported names are "linear" (softmax regression) and
// "mlp" (one hidden ReLU layer).
func Build(name string, inputShape []int, numClasses int, rng *rand.Rand) (*Sequential, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("network %s: need at least 2 classes, got %d", name, numClasses)
	}
	features := 1
	for _, d := range inputShape {
		if d <= 0 {
			return nil, fmt.Errorf("network %s: invalid input shape %v", name, inputShape)
		}
		features *= d
	}

	switch name {
	case "linear":
		fc, err := NewLinear("fc", features, numClasses, rng)
		if err != nil {
			return nil, err
		}
		return NewSequential(NewFlatten("flatten"), fc), nil
	case "mlp":
		fc1, err := NewLinear("fc1", features, DefaultHidden, rng)
		if err != nil {
			return nil, err
		}
		fc2, err := NewLinear("fc2", DefaultHidden, numClasses, rng)
		if err != nil {
			return nil, err
		}
		return NewSequential(NewFlatten("flatten"), fc1, NewReLU("relu1"), fc2), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
}
