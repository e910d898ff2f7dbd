package layers

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-trojan/tensor"
)

// Linear computes y = x·W + b for x of shape [N, in].
type Linear struct {
	name    string
	in, out int
	Weight  *tensor.Tensor // [in, out]
	Bias    *tensor.Tensor // [out]
}

// NewLinear initialises weights and bias from U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(name string, in, out int, rng *rand.Rand) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("linear %s: invalid size %dx%d", name, in, out)
	}
	bound := 1 / math.Sqrt(float64(in))
	w, err := tensor.Uniform([]int{in, out}, -bound, bound, rng)
	if err != nil {
		return nil, err
	}
	b, err := tensor.Uniform([]int{out}, -bound, bound, rng)
	if err != nil {
		return nil, err
	}
	w.SetRequiresGrad(true)
	b.SetRequiresGrad(true)
	return &Linear{name: name, in: in, out: out, Weight: w, Bias: b}, nil
}

func (l *Linear) Name() string { return l.name }

func (l *Linear) Parameters() []NamedParameter {
	return []NamedParameter{
		{Layer: l.name, Name: "weight", Tensor: l.Weight},
		{Layer: l.name, Name: "bias", Tensor: l.Bias},
	}
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, any, error) {
	if len(x.Shape) != 2 || x.Shape[1] != l.in {
		return nil, nil, fmt.Errorf("expected input [N, %d], got %v", l.in, x.Shape)
	}
	n := x.Shape[0]
	out, err := tensor.Zeros([]int{n, l.out})
	if err != nil {
		return nil, nil, err
	}
	if n == 0 {
		return out, x, nil
	}

	xm := mat.NewDense(n, l.in, x.Data)
	wm := mat.NewDense(l.in, l.out, l.Weight.Data)
	om := mat.NewDense(n, l.out, out.Data)
	om.Mul(xm, wm)
	for i := 0; i < n; i++ {
		row := out.Data[i*l.out : (i+1)*l.out]
		for j, b := range l.Bias.Data {
			row[j] += b
		}
	}
	return out, x, nil
}

func (l *Linear) Backward(cache any, gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	x, ok := cache.(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("linear %s: invalid cache %T", l.name, cache)
	}
	n := x.Shape[0]
	if len(gradOut.Shape) != 2 || gradOut.Shape[0] != n || gradOut.Shape[1] != l.out {
		return nil, fmt.Errorf("expected gradient [%d, %d], got %v", n, l.out, gradOut.Shape)
	}
	gradIn, err := tensor.Zeros([]int{n, l.in})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return gradIn, nil
	}

	xm := mat.NewDense(n, l.in, x.Data)
	gm := mat.NewDense(n, l.out, gradOut.Data)
	wm := mat.NewDense(l.in, l.out, l.Weight.Data)

	if l.Weight.RequiresGrad() {
		gw, _ := tensor.Zeros([]int{l.in, l.out})
		mat.NewDense(l.in, l.out, gw.Data).Mul(xm.T(), gm)
		if err := l.Weight.AccumulateGrad(gw); err != nil {
			return nil, err
		}
	}
	if l.Bias.RequiresGrad() {
		gb, _ := tensor.Zeros([]int{l.out})
		for i := 0; i < n; i++ {
			for j := 0; j < l.out; j++ {
				gb.Data[j] += gradOut.Data[i*l.out+j]
			}
		}
		if err := l.Bias.AccumulateGrad(gb); err != nil {
			return nil, err
		}
	}

	mat.NewDense(n, l.in, gradIn.Data).Mul(gm, wm.T())
	return gradIn, nil
}
