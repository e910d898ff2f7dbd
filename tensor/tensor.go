package tensor

import (
	"fmt"
	"strings"
)

type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// ParseDevice maps a device selection string ("cpu", "gpu", "cuda", "cuda:0", "mps")
// onto a DeviceType.
func ParseDevice(s string) (DeviceType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch {
	case name == "" || name == "cpu":
		return CPU, nil
	case name == "gpu" || name == "mps" || name == "cuda" || strings.HasPrefix(name, "cuda:"):
		return GPU, nil
	default:
		return CPU, fmt.Errorf("unknown device %q", s)
	}
}

// Tensor is a dense, row-major float64 tensor. Gradients are stored alongside
// the data so parameters and input perturbations can be updated in place.
type Tensor struct {
	Shape        []int
	Strides      []int
	Device       DeviceType
	Data         []float64
	NumElems     int
	requiresGrad bool
	grad         *Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, device=%s, elements=%d)",
		t.Shape, t.Device, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// AccumulateGrad adds g into the tensor's gradient slot, allocating it on first use.
func (t *Tensor) AccumulateGrad(g *Tensor) error {
	if !SameShape(t, g) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", g.Shape, t.Shape)
	}
	if t.grad == nil {
		t.grad = ZerosLike(t)
	}
	for i, v := range g.Data {
		t.grad.Data[i] += v
	}
	return nil
}

// Detach returns a tensor sharing t's data with no gradient history.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    t.Shape,
		Strides:  t.Strides,
		Device:   t.Device,
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

// validateShape allows a zero leading dimension so empty batches can be represented.
func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: no dimensions")
	}
	for i, dim := range shape {
		if dim < 0 || (dim == 0 && i > 0) {
			return fmt.Errorf("invalid shape: dimension %d has size %d", i, dim)
		}
	}
	return nil
}
