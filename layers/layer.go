package layers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tsawler/go-trojan/tensor"
)

var ErrUnknownNetwork = errors.New("unknown network")

// Pass is the record of one forward pass. Backward propagates a gradient with
// respect to Output back through the recorded activations, accumulates
// parameter gradients and returns the gradient with respect to the input.
//
// Several passes may be alive at once over the same model (free-m training
// runs a clean and a perturbed pass before a single backward).
type Pass interface {
	Output() *tensor.Tensor
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
}

// Module is the model contract consumed by the trainer.
type Module interface {
	Forward(x *tensor.Tensor) (Pass, error)
	Parameters() []*tensor.Tensor
	Train()
	Eval()
}

// Layer is a single differentiable stage of a Sequential model. The cache
// returned by Forward is handed back unchanged to Backward.
type Layer interface {
	Name() string
	Forward(x *tensor.Tensor) (out *tensor.Tensor, cache any, err error)
	Backward(cache any, gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []NamedParameter
}

// NamedParameter identifies a parameter for checkpointing.
type NamedParameter struct {
	Layer  string
	Name   string // "weight", "bias"
	Tensor *tensor.Tensor
}

// Sequential chains layers.
type Sequential struct {
	layers   []Layer
	training bool
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{layers: layers, training: true}
}

func (s *Sequential) Layers() []Layer {
	return s.layers
}

func (s *Sequential) Train() { s.training = true }

func (s *Sequential) Eval() { s.training = false }

func (s *Sequential) IsTraining() bool { return s.training }

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, p := range s.NamedParameters() {
		params = append(params, p.Tensor)
	}
	return params
}

func (s *Sequential) NamedParameters() []NamedParameter {
	var params []NamedParameter
	for _, l := range s.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// Forward runs every layer and keeps their caches for a later Backward.
func (s *Sequential) Forward(x *tensor.Tensor) (Pass, error) {
	pass := &sequentialPass{model: s, caches: make([]any, len(s.layers))}
	out := x
	for i, l := range s.layers {
		next, cache, err := l.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s) forward: %w", i, l.Name(), err)
		}
		pass.caches[i] = cache
		out = next
	}
	pass.output = out
	return pass, nil
}

type sequentialPass struct {
	model  *Sequential
	caches []any
	output *tensor.Tensor
}

func (p *sequentialPass) Output() *tensor.Tensor {
	return p.output
}

func (p *sequentialPass) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if !tensor.SameShape(gradOut, p.output) {
		return nil, fmt.Errorf("gradient shape %v does not match output shape %v", gradOut.Shape, p.output.Shape)
	}
	grad := gradOut
	for i := len(p.model.layers) - 1; i >= 0; i-- {
		l := p.model.layers[i]
		next, err := l.Backward(p.caches[i], grad)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s) backward: %w", i, l.Name(), err)
		}
		grad = next
	}
	return grad, nil
}

// Summary returns a printable description of the model.
func (s *Sequential) Summary() string {
	var sb strings.Builder
	total := 0
	sb.WriteString("Model Summary:\n")
	for i, l := range s.layers {
		count := 0
		for _, p := range l.Parameters() {
			count += p.Tensor.NumElems
		}
		total += count
		sb.WriteString(fmt.Sprintf("  %d: %-12s params=%d\n", i, l.Name(), count))
	}
	sb.WriteString(fmt.Sprintf("Total parameters: %d\n", total))
	return sb.String()
}
