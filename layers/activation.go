package layers

import (
	"fmt"

	"github.com/tsawler/go-trojan/tensor"
)

type ReLU struct {
	name string
}

func NewReLU(name string) *ReLU {
	return &ReLU{name: name}
}

func (r *ReLU) Name() string { return r.name }

func (r *ReLU) Parameters() []NamedParameter { return nil }

func (r *ReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, any, error) {
	out := x.Clone()
	mask := make([]bool, x.NumElems)
	for i, v := range out.Data {
		if v > 0 {
			mask[i] = true
		} else {
			out.Data[i] = 0
		}
	}
	return out, mask, nil
}

func (r *ReLU) Backward(cache any, gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	mask, ok := cache.([]bool)
	if !ok || len(mask) != gradOut.NumElems {
		return nil, fmt.Errorf("relu %s: invalid cache", r.name)
	}
	grad := gradOut.Clone()
	for i, keep := range mask {
		if !keep {
			grad.Data[i] = 0
		}
	}
	return grad, nil
}

// Flatten reshapes [N, ...] into [N, prod(...)].
type Flatten struct {
	name string
}

func NewFlatten(name string) *Flatten {
	return &Flatten{name: name}
}

func (f *Flatten) Name() string { return f.name }

func (f *Flatten) Parameters() []NamedParameter { return nil }

func (f *Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, any, error) {
	if len(x.Shape) < 2 {
		return nil, nil, fmt.Errorf("flatten requires rank >= 2, got %v", x.Shape)
	}
	out, err := x.Reshape([]int{x.Shape[0], x.RowSize()})
	if err != nil {
		return nil, nil, err
	}
	return out, append([]int(nil), x.Shape...), nil
}

func (f *Flatten) Backward(cache any, gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	shape, ok := cache.([]int)
	if !ok {
		return nil, fmt.Errorf("flatten %s: invalid cache", f.name)
	}
	return gradOut.Reshape(shape)
}
