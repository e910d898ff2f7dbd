package tensor

import (
	"fmt"
	"strings"
)

func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of %d elements to shape %v", t.NumElems, newShape)
	}
	return &Tensor{
		Shape:    append([]int(nil), newShape...),
		Strides:  calculateStrides(newShape),
		Device:   t.Device,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// Clone deep-copies data. Gradient state is not copied.
func (t *Tensor) Clone() *Tensor {
	c := ZerosLike(t)
	copy(c.Data, t.Data)
	return c
}

func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("item() only works on single-element tensors, got %d elements", t.NumElems)
	}
	return t.Data[0], nil
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// ToDevice returns t on the requested device. Only CPU storage exists, so a
// GPU request is an error; callers resolve device fallback before training.
func (t *Tensor) ToDevice(device DeviceType) (*Tensor, error) {
	if t.Device == device {
		return t, nil
	}
	if device != CPU {
		return nil, fmt.Errorf("device %s is not available", device)
	}
	moved := t.Detach()
	moved.Device = CPU
	return moved, nil
}

// Fill sets every element of t to v.
func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

func SameShape(t1, t2 *Tensor) bool {
	return equalShapes(t1.Shape, t2.Shape)
}

func equalShapes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ZeroGrad clears the gradient of every tensor in the list.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.grad != nil {
			t.grad.Fill(0)
		}
	}
}

func (t *Tensor) PrintData(maxElements int) string {
	var sb strings.Builder
	sb.WriteString(t.String())
	sb.WriteString("\nData: [")
	n := t.NumElems
	if maxElements > 0 && n > maxElements {
		n = maxElements
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%.4f", t.Data[i]))
	}
	if n < t.NumElems {
		sb.WriteString(", ...")
	}
	sb.WriteString("]")
	return sb.String()
}
