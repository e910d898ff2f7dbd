package attack

import (
	"math"
	"math/rand"

	"github.com/tsawler/go-trojan/tensor"
	"github.com/tsawler/go-trojan/training"
	"github.com/tsawler/go-trojan/vision/dataset"
)

// BadNet stamps a solid square trigger into the bottom-right corner.
type BadNet struct {
	cfg Config
	rng *rand.Rand
}

func NewBadNet(cfg Config, rng *rand.Rand) *BadNet {
	return &BadNet{cfg: cfg, rng: rng}
}

func (b *BadNet) Name() string    { return "badnet" }
func (b *BadNet) Dynamic() bool   { return false }
func (b *BadNet) ResetTrojCount() {}

func (b *BadNet) InjectDynamic(*tensor.Tensor, []int) (training.Poison, error) {
	return training.Poison{}, nil
}

func (b *BadNet) InjectStatic(ds *dataset.TrojanDataset) (int, error) {
	return staticInject(ds, b.cfg, b.rng, b.stamp)
}

func (b *BadNet) stamp(img []float64, c, h, w int) {
	size := b.cfg.TriggerSize
	if size > h {
		size = h
	}
	if size > w {
		size = w
	}
	for ch := 0; ch < c; ch++ {
		for y := h - size; y < h; y++ {
			for x := w - size; x < w; x++ {
				img[(ch*h+y)*w+x] = b.cfg.TriggerValue
			}
		}
	}
}

// SIG superimposes a horizontal sinusoidal signal on the whole image.
type SIG struct {
	cfg Config
	rng *rand.Rand
}

func NewSIG(cfg Config, rng *rand.Rand) *SIG {
	return &SIG{cfg: cfg, rng: rng}
}

func (s *SIG) Name() string    { return "sig" }
func (s *SIG) Dynamic() bool   { return false }
func (s *SIG) ResetTrojCount() {}

func (s *SIG) InjectDynamic(*tensor.Tensor, []int) (training.Poison, error) {
	return training.Poison{}, nil
}

func (s *SIG) InjectStatic(ds *dataset.TrojanDataset) (int, error) {
	return staticInject(ds, s.cfg, s.rng, s.stamp)
}

func (s *SIG) stamp(img []float64, c, h, w int) {
	for x := 0; x < w; x++ {
		v := s.cfg.SigDelta * math.Sin(2*math.Pi*float64(x)*s.cfg.SigFreq/float64(w))
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				i := (ch*h+y)*w + x
				img[i] = math.Min(1, math.Max(0, img[i]+v))
			}
		}
	}
}
