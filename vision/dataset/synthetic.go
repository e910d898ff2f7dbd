package dataset

import (
	"fmt"
	"math/rand"
)

// SyntheticConfig describes a generated dataset where each class is a fixed
// random prototype image plus Gaussian noise.
type SyntheticConfig struct {
	NumClasses    int
	Channels      int
	Size          int
	TrainPerClass int
	TestPerClass  int
	Noise         float64
}

func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		NumClasses:    10,
		Channels:      3,
		Size:          8,
		TrainPerClass: 50,
		TestPerClass:  10,
		Noise:         0.1,
	}
}

// NewSynthetic generates train and test splits drawing every value from rng.
func NewSynthetic(cfg SyntheticConfig, rng *rand.Rand) (train, test *TrojanDataset, err error) {
	if cfg.NumClasses < 2 || cfg.Channels < 1 || cfg.Size < 1 {
		return nil, nil, fmt.Errorf("invalid synthetic config %+v", cfg)
	}
	size := cfg.Channels * cfg.Size * cfg.Size
	names := make([]string, cfg.NumClasses)
	prototypes := make([][]float64, cfg.NumClasses)
	for c := range prototypes {
		names[c] = fmt.Sprintf("class_%d", c)
		p := make([]float64, size)
		for i := range p {
			p[i] = rng.Float64()
		}
		prototypes[c] = p
	}

	generate := func(perClass int) ([][]float64, []int) {
		var images [][]float64
		var labels []int
		for c, p := range prototypes {
			for k := 0; k < perClass; k++ {
				img := make([]float64, size)
				for i, v := range p {
					img[i] = clamp01(v + rng.NormFloat64()*cfg.Noise)
				}
				images = append(images, img)
				labels = append(labels, c)
			}
		}
		return images, labels
	}

	shape := []int{cfg.Channels, cfg.Size, cfg.Size}
	images, labels := generate(cfg.TrainPerClass)
	if train, err = New("synthetic", shape, names, images, labels); err != nil {
		return nil, nil, err
	}
	images, labels = generate(cfg.TestPerClass)
	if test, err = New("synthetic", shape, names, images, labels); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
