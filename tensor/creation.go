package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor wraps data in a tensor of the given shape. The slice is not copied.
func NewTensor(shape []int, data []float64) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float64, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Device:   CPU,
		Data:     data,
		NumElems: numElems,
	}, nil
}

func Zeros(shape []int) (*Tensor, error) {
	return NewTensor(shape, nil)
}

// ZerosLike returns a zero tensor with t's shape and device.
func ZerosLike(t *Tensor) *Tensor {
	z := &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		Device:   t.Device,
		Data:     make([]float64, t.NumElems),
		NumElems: t.NumElems,
	}
	return z
}

func Full(shape []int, value float64) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

func FromScalar(value float64) *Tensor {
	return &Tensor{
		Shape:    []int{1},
		Strides:  []int{1},
		Device:   CPU,
		Data:     []float64{value},
		NumElems: 1,
	}
}

// RandN fills a tensor with N(0, std^2) samples drawn from rng.
func RandN(shape []int, std float64, rng *rand.Rand) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64() * std
	}
	return t, nil
}

// Uniform fills a tensor with samples from [lo, hi) drawn from rng.
func Uniform(shape []int, lo, hi float64, rng *rand.Rand) (*Tensor, error) {
	if hi < lo {
		return nil, fmt.Errorf("uniform bounds inverted: [%f, %f)", lo, hi)
	}
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = lo + rng.Float64()*(hi-lo)
	}
	return t, nil
}
