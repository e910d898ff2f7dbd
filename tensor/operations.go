package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.Device != t2.Device {
		return fmt.Errorf("tensors must be on the same device: %s vs %s", t1.Device, t2.Device)
	}
	if !SameShape(t1, t2) {
		return fmt.Errorf("shape mismatch: %v vs %v", t1.Shape, t2.Shape)
	}
	return nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	result := ZerosLike(t1)
	floats.AddTo(result.Data, t1.Data, t2.Data)
	return result, nil
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	result := ZerosLike(t1)
	floats.SubTo(result.Data, t1.Data, t2.Data)
	return result, nil
}

// AddScaled performs dst += alpha * src in place.
func AddScaled(dst *Tensor, alpha float64, src *Tensor) error {
	if err := checkCompatibility(dst, src); err != nil {
		return err
	}
	floats.AddScaled(dst.Data, alpha, src.Data)
	return nil
}

// Scale multiplies every element of t by c in place.
func Scale(t *Tensor, c float64) {
	floats.Scale(c, t.Data)
}

// Norm returns the L2 norm of all elements of t, treating it as one flat vector.
func Norm(t *Tensor) float64 {
	if t.NumElems == 0 {
		return 0
	}
	return floats.Norm(t.Data, 2)
}

func Dot(t1, t2 *Tensor) (float64, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return 0, err
	}
	return floats.Dot(t1.Data, t2.Data), nil
}

// Concat joins tensors along the leading dimension. Trailing dimensions must agree.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("concat requires at least one tensor")
	}
	first := ts[0]
	rows := 0
	data := make([]float64, 0)
	for i, t := range ts {
		if len(t.Shape) != len(first.Shape) {
			return nil, fmt.Errorf("concat: tensor %d has rank %d, want %d", i, len(t.Shape), len(first.Shape))
		}
		for d := 1; d < len(t.Shape); d++ {
			if t.Shape[d] != first.Shape[d] {
				return nil, fmt.Errorf("concat: tensor %d shape %v incompatible with %v", i, t.Shape, first.Shape)
			}
		}
		if t.Device != first.Device {
			return nil, fmt.Errorf("concat: tensor %d on %s, want %s", i, t.Device, first.Device)
		}
		rows += t.Shape[0]
		data = append(data, t.Data...)
	}
	shape := append([]int{rows}, first.Shape[1:]...)
	out, err := NewTensor(shape, data)
	if err != nil {
		return nil, err
	}
	out.Device = first.Device
	return out, nil
}

// RowSize is the number of elements in one slice along the leading dimension.
func (t *Tensor) RowSize() int {
	if len(t.Shape) < 2 {
		return 1
	}
	if t.Shape[0] == 0 {
		return calculateNumElements(t.Shape[1:])
	}
	return t.NumElems / t.Shape[0]
}

// Row returns a copy of the i-th leading-dimension slice with the leading
// dimension removed.
func (t *Tensor) Row(i int) (*Tensor, error) {
	if len(t.Shape) < 2 {
		return nil, fmt.Errorf("row requires rank >= 2, got %v", t.Shape)
	}
	if i < 0 || i >= t.Shape[0] {
		return nil, fmt.Errorf("row %d out of range [0, %d)", i, t.Shape[0])
	}
	n := t.RowSize()
	data := make([]float64, n)
	copy(data, t.Data[i*n:(i+1)*n])
	return NewTensor(t.Shape[1:], data)
}

// Stack builds a batch tensor from equally shaped samples.
func Stack(samples []*Tensor) (*Tensor, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("stack requires at least one tensor")
	}
	shape := samples[0].Shape
	data := make([]float64, 0, len(samples)*samples[0].NumElems)
	for i, s := range samples {
		if !equalShapes(s.Shape, shape) {
			return nil, fmt.Errorf("stack: sample %d shape %v, want %v", i, s.Shape, shape)
		}
		data = append(data, s.Data...)
	}
	return NewTensor(append([]int{len(samples)}, shape...), data)
}

// ArgMaxRows returns the column index of the largest value in every row of a
// 2-D tensor. Ties resolve to the lowest index.
func ArgMaxRows(t *Tensor) ([]int, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("argmax requires a 2-D tensor, got %v", t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		out[i] = floats.MaxIdx(t.Data[i*cols : (i+1)*cols])
	}
	return out, nil
}
