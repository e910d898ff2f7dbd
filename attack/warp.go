package attack

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-trojan/tensor"
	"github.com/tsawler/go-trojan/training"
	"github.com/tsawler/go-trojan/vision/dataset"
)

// Warp is a WaNet style dynamic attack: poisoned samples are copies of batch
// images resampled through a fixed smooth warping field. Noise samples
// warped with an extra random jitter keep their label.
type Warp struct {
	cfg       Config
	rng       *rand.Rand
	budget    int
	trojCount int

	// field is built lazily for the first image size seen
	h, w  int
	field []float64 // [H, W, 2] sampling grid in [-1, 1]
	noise []float64 // [K, K, 2] control points
}

// NewWarp creates the attacker. The per-epoch poison budget is
// PoisonRatio * trainSize.
func NewWarp(cfg Config, trainSize int, rng *rand.Rand) (*Warp, error) {
	if cfg.WarpK < 2 {
		return nil, fmt.Errorf("warp grid size must be at least 2, got %d", cfg.WarpK)
	}
	w := &Warp{
		cfg:    cfg,
		rng:    rng,
		budget: int(cfg.PoisonRatio * float64(trainSize)),
	}
	k := cfg.WarpK
	w.noise = make([]float64, k*k*2)
	var meanAbs float64
	for i := range w.noise {
		w.noise[i] = rng.Float64()*2 - 1
		meanAbs += math.Abs(w.noise[i])
	}
	meanAbs /= float64(len(w.noise))
	for i := range w.noise {
		w.noise[i] /= meanAbs
	}
	return w, nil
}

func (w *Warp) Name() string  { return "warp" }
func (w *Warp) Dynamic() bool { return true }

// ResetTrojCount restores the per-epoch poison budget.
func (w *Warp) ResetTrojCount() {
	w.trojCount = 0
}

// TrojCount is the number of poisoned samples produced since the last reset.
func (w *Warp) TrojCount() int {
	return w.trojCount
}

func (w *Warp) InjectStatic(*dataset.TrojanDataset) (int, error) {
	return 0, nil
}

// InjectDynamic poisons up to PoisonRatio of the batch's non-target samples,
// limited by the remaining budget, and adds CrossRatio noise samples per
// poisoned one.
func (w *Warp) InjectDynamic(images *tensor.Tensor, original []int) (training.Poison, error) {
	if len(images.Shape) != 4 {
		return training.Poison{}, fmt.Errorf("warp expects [N, C, H, W] images, got %v", images.Shape)
	}
	n, c, h, wd := images.Shape[0], images.Shape[1], images.Shape[2], images.Shape[3]
	if len(original) != n {
		return training.Poison{}, fmt.Errorf("warp: %d labels for %d images", len(original), n)
	}
	w.ensureField(h, wd)

	var victims []int
	for i, label := range original {
		if label != w.cfg.TargetLabel {
			victims = append(victims, i)
		}
	}
	want := int(math.Ceil(w.cfg.PoisonRatio * float64(len(victims))))
	if left := w.budget - w.trojCount; want > left {
		want = left
	}
	if want <= 0 {
		return training.Poison{}, nil
	}
	victims = victims[:want]
	w.trojCount += want

	numCross := int(w.cfg.CrossRatio * float64(want))
	total := want + numCross
	out, err := tensor.Zeros([]int{total, c, h, wd})
	if err != nil {
		return training.Poison{}, err
	}
	pixels := c * h * wd
	poison := training.Poison{Images: out, Original: make([]int, total), Target: make([]int, total)}

	for k, i := range victims {
		warpImage(out.Data[k*pixels:(k+1)*pixels], images.Data[i*pixels:(i+1)*pixels], w.field, c, h, wd)
		poison.Original[k] = original[i]
		poison.Target[k] = w.cfg.TargetLabel
	}
	for k := 0; k < numCross; k++ {
		i := w.rng.Intn(n)
		row := want + k
		warpImage(out.Data[row*pixels:(row+1)*pixels], images.Data[i*pixels:(i+1)*pixels], w.jitteredField(), c, h, wd)
		poison.Original[row] = original[i]
		poison.Target[row] = original[i]
	}
	return poison, nil
}

// ensureField upsamples the control grid to h x w and adds it to the
// identity grid.
func (w *Warp) ensureField(h, wd int) {
	if w.h == h && w.w == wd && w.field != nil {
		return
	}
	w.h, w.w = h, wd
	k := w.cfg.WarpK
	w.field = make([]float64, h*wd*2)
	for y := 0; y < h; y++ {
		for x := 0; x < wd; x++ {
			gy := float64(y) * float64(k-1) / math.Max(1, float64(h-1))
			gx := float64(x) * float64(k-1) / math.Max(1, float64(wd-1))
			for d := 0; d < 2; d++ {
				offset := bilinear(func(yy, xx int) float64 { return w.noise[(yy*k+xx)*2+d] }, k, k, gy, gx)
				w.field[(y*wd+x)*2+d] = identity(y, x, h, wd, d) + w.cfg.WarpS*offset/float64(h)
			}
		}
	}
	clampGrid(w.field)
}

func (w *Warp) jitteredField() []float64 {
	out := make([]float64, len(w.field))
	for i, v := range w.field {
		out[i] = v + (w.rng.Float64()*2-1)/float64(w.h)
	}
	clampGrid(out)
	return out
}

// identity returns the normalised coordinate of pixel (y, x); d=0 is x, d=1 is y.
func identity(y, x, h, w, d int) float64 {
	if d == 0 {
		return normalise(x, w)
	}
	return normalise(y, h)
}

func normalise(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2*float64(i)/float64(n-1) - 1
}

func clampGrid(g []float64) {
	for i, v := range g {
		g[i] = math.Max(-1, math.Min(1, v))
	}
}

// warpImage resamples src through grid into dst, bilinearly, per channel.
func warpImage(dst, src, grid []float64, c, h, w int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := grid[(y*w+x)*2]
			gy := grid[(y*w+x)*2+1]
			px := (gx + 1) / 2 * float64(w-1)
			py := (gy + 1) / 2 * float64(h-1)
			for ch := 0; ch < c; ch++ {
				plane := src[ch*h*w : (ch+1)*h*w]
				dst[(ch*h+y)*w+x] = bilinear(func(yy, xx int) float64 { return plane[yy*w+xx] }, h, w, py, px)
			}
		}
	}
}

// bilinear interpolates at fractional (y, x) inside an h x w grid.
func bilinear(at func(y, x int) float64, h, w int, y, x float64) float64 {
	y0 := int(math.Floor(y))
	x0 := int(math.Floor(x))
	y1 := min(y0+1, h-1)
	x1 := min(x0+1, w-1)
	y0 = max(0, min(y0, h-1))
	x0 = max(0, min(x0, w-1))
	fy := y - float64(y0)
	fx := x - float64(x0)
	top := at(y0, x0)*(1-fx) + at(y0, x1)*fx
	bottom := at(y1, x0)*(1-fx) + at(y1, x1)*fx
	return top*(1-fy) + bottom*fy
}
