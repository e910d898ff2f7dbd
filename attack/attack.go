// Package attack implements the trojan injection methods a run can select.
package attack

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/tsawler/go-trojan/training"
	"github.com/tsawler/go-trojan/vision/dataset"
)

var ErrUnknownMethod = errors.New("unknown attack method")

// Attacker is a training.Attacker that can also poison a dataset up front.
type Attacker interface {
	training.Attacker
	Name() string
	// InjectStatic poisons a share of ds in place and returns how many
	// samples it changed. Dynamic attackers leave ds untouched.
	InjectStatic(ds *dataset.TrojanDataset) (int, error)
}

// Config holds the settings of every supported method.
type Config struct {
	TargetLabel int     `yaml:"TARGET_LABEL" validate:"gte=0"`
	PoisonRatio float64 `yaml:"POISON_RATIO" validate:"gte=0,lte=1"`

	// badnet
	TriggerSize  int     `yaml:"TRIGGER_SIZE" validate:"gte=1"`
	TriggerValue float64 `yaml:"TRIGGER_VALUE" validate:"gte=0,lte=1"`

	// sig
	SigDelta float64 `yaml:"SIG_DELTA" validate:"gte=0"`
	SigFreq  float64 `yaml:"SIG_FREQ" validate:"gt=0"`

	// warp
	WarpK      int     `yaml:"WARP_K" validate:"gte=2"`
	WarpS      float64 `yaml:"WARP_S" validate:"gte=0"`
	CrossRatio float64 `yaml:"CROSS_RATIO" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		TargetLabel:  0,
		PoisonRatio:  0.1,
		TriggerSize:  3,
		TriggerValue: 1,
		SigDelta:     0.08,
		SigFreq:      6,
		WarpK:        4,
		WarpS:        0.5,
		CrossRatio:   2,
	}
}

func (c Config) validate(numClasses int) error {
	if c.TargetLabel < 0 || c.TargetLabel >= numClasses {
		return fmt.Errorf("target label %d out of range [0, %d)", c.TargetLabel, numClasses)
	}
	if c.PoisonRatio < 0 || c.PoisonRatio > 1 {
		return fmt.Errorf("poison ratio %g out of range [0, 1]", c.PoisonRatio)
	}
	return nil
}

// New returns the attacker for method. trainSize is the number of training
// samples and sets the per-epoch budget of dynamic methods. rng is owned by
// the attacker.
func New(method string, cfg Config, numClasses, trainSize int, rng *rand.Rand) (Attacker, error) {
	if err := cfg.validate(numClasses); err != nil {
		return nil, fmt.Errorf("invalid attack config: %w", err)
	}
	switch strings.ToLower(method) {
	case "badnet":
		return NewBadNet(cfg, rng), nil
	case "sig":
		return NewSIG(cfg, rng), nil
	case "warp":
		return NewWarp(cfg, trainSize, rng)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// chooseVictims picks round(ratio * eligible) samples not already labelled
// with the target class, in random order.
func chooseVictims(ds *dataset.TrojanDataset, target int, ratio float64, rng *rand.Rand) []int {
	var eligible []int
	for i := 0; i < ds.Len(); i++ {
		s, _ := ds.Sample(i)
		if s.Original != target && !s.Poisoned() {
			eligible = append(eligible, i)
		}
	}
	n := int(ratio*float64(len(eligible)) + 0.5)
	rng.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	return eligible[:n]
}

// staticInject applies stamp to the chosen victims and relabels them.
func staticInject(ds *dataset.TrojanDataset, cfg Config, rng *rand.Rand, stamp func(img []float64, c, h, w int)) (int, error) {
	if cfg.TargetLabel >= ds.NumClasses() {
		return 0, fmt.Errorf("target label %d out of range for %d classes", cfg.TargetLabel, ds.NumClasses())
	}
	shape := ds.Shape()
	victims := chooseVictims(ds, cfg.TargetLabel, cfg.PoisonRatio, rng)
	for _, i := range victims {
		s, err := ds.Sample(i)
		if err != nil {
			return 0, err
		}
		stamp(s.Image, shape[0], shape[1], shape[2])
		s.Target = cfg.TargetLabel
	}
	return len(victims), nil
}
