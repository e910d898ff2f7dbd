// Package config loads the experiment configuration file and converts it to
// the typed configs of the training, attack and data packages.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-trojan/attack"
	"github.com/tsawler/go-trojan/training"
	"github.com/tsawler/go-trojan/vision/dataloader"
	"github.com/tsawler/go-trojan/vision/dataset"
)

// ErrNoSchedule is returned when the train section has no T_MAX/N_EPOCHS
// block for the requested dataset.
var ErrNoSchedule = errors.New("no schedule for dataset")

var validate = validator.New()

// File mirrors experiment_configuration.yml.
type File struct {
	Train       Train         `yaml:"train"`
	Network     Network       `yaml:"network"`
	Adversarial Adversarial   `yaml:"adversarial"`
	Misc        Misc          `yaml:"misc"`
	Attack      attack.Config `yaml:"attack"`
	Data        Data          `yaml:"data"`
}

type Train struct {
	LR          float64 `yaml:"LR" validate:"gt=0"`
	WeightDecay float64 `yaml:"WEIGHT_DECAY" validate:"gte=0"`
	Momentum    float64 `yaml:"MOMENTUM" validate:"gt=0,lt=1"`

	// Schedules holds the per-dataset blocks, e.g. "cifar10: {T_MAX: 100, N_EPOCHS: 100}".
	Schedules map[string]Schedule `yaml:",inline" validate:"dive"`
}

type Schedule struct {
	TMax    int `yaml:"T_MAX" validate:"gt=0"`
	NEpochs int `yaml:"N_EPOCHS" validate:"gte=0"`
}

type Network struct {
	Pretrained bool `yaml:"PRETRAINED"`
}

type Adversarial struct {
	AdvTrain    bool    `yaml:"ADV_TRAIN"`
	OptimEpochs int     `yaml:"OPTIM_EPOCHS" validate:"gte=1"`
	Lambda      float64 `yaml:"LAMBDA" validate:"gte=0"`
	Eps         float64 `yaml:"EPS" validate:"gte=0"`
	Radius      float64 `yaml:"RADIUS" validate:"gt=0"`
}

type Misc struct {
	Verbose       bool `yaml:"VERBOSE"`
	MonitorWindow int  `yaml:"MONITOR_WINDOW" validate:"gte=1"`
}

// Data describes where samples come from and how they are batched.
type Data struct {
	// Root holds one <dataset>/{train,test}/<class>/ image tree per dataset.
	Root      string    `yaml:"ROOT"`
	ImageSize int       `yaml:"IMAGE_SIZE" validate:"gte=1"`
	BatchSize int       `yaml:"BATCH_SIZE" validate:"gte=1"`
	Workers   int       `yaml:"WORKERS" validate:"gte=1"`
	Prefetch  int       `yaml:"PREFETCH" validate:"gte=1"`
	Augment   bool      `yaml:"AUGMENT"`
	CropPad   int       `yaml:"CROP_PADDING" validate:"gte=0"`
	Synthetic Synthetic `yaml:"SYNTHETIC"`
}

type Synthetic struct {
	NumClasses    int     `yaml:"NUM_CLASSES" validate:"gte=2"`
	Channels      int     `yaml:"CHANNELS" validate:"gte=1"`
	Size          int     `yaml:"SIZE" validate:"gte=1"`
	TrainPerClass int     `yaml:"TRAIN_PER_CLASS" validate:"gte=1"`
	TestPerClass  int     `yaml:"TEST_PER_CLASS" validate:"gte=1"`
	Noise         float64 `yaml:"NOISE" validate:"gte=0"`
}

// Default returns the configuration used for any key the file leaves out.
func Default() *File {
	tc := training.DefaultConfig()
	syn := dataset.DefaultSyntheticConfig()
	return &File{
		Train: Train{
			LR:          tc.Train.LR,
			WeightDecay: tc.Train.WeightDecay,
			Momentum:    tc.Train.Momentum,
			Schedules: map[string]Schedule{
				"cifar10":   {TMax: 100, NEpochs: 100},
				"gtsrb":     {TMax: 100, NEpochs: 100},
				"imagenet":  {TMax: 100, NEpochs: 100},
				"synthetic": {TMax: 20, NEpochs: 20},
			},
		},
		Adversarial: Adversarial{
			AdvTrain:    tc.Adversarial.Enabled,
			OptimEpochs: tc.Adversarial.OptimEpochs,
			Lambda:      tc.Adversarial.Lambda,
			Eps:         tc.Adversarial.Eps,
			Radius:      tc.Adversarial.Radius,
		},
		Misc: Misc{
			Verbose:       tc.Misc.Verbose,
			MonitorWindow: tc.Misc.MonitorWindow,
		},
		Attack: attack.DefaultConfig(),
		Data: Data{
			Root:      "./data",
			ImageSize: 32,
			BatchSize: 128,
			Workers:   4,
			Prefetch:  3,
			Augment:   true,
			CropPad:   4,
			Synthetic: Synthetic{
				NumClasses:    syn.NumClasses,
				Channels:      syn.Channels,
				Size:          syn.Size,
				TrainPerClass: syn.TrainPerClass,
				TestPerClass:  syn.TestPerClass,
				Noise:         syn.Noise,
			},
		},
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected, except under train where they name dataset schedules.
// Datasets the file gives no schedule for keep the default one.
func Parse(data []byte) (*File, error) {
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if f.Train.Schedules == nil {
		f.Train.Schedules = make(map[string]Schedule)
	}
	for ds, s := range Default().Train.Schedules {
		if _, ok := f.Train.Schedules[ds]; !ok {
			f.Train.Schedules[ds] = s
		}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Schedule returns the T_MAX/N_EPOCHS block for ds.
func (f *File) Schedule(ds string) (Schedule, error) {
	s, ok := f.Train.Schedules[ds]
	if !ok {
		return Schedule{}, fmt.Errorf("%w %q", ErrNoSchedule, ds)
	}
	return s, nil
}

// Training converts the file to the trainer's config for one dataset.
func (f *File) Training(ds, device string) (training.Config, error) {
	sched, err := f.Schedule(ds)
	if err != nil {
		return training.Config{}, err
	}
	return training.Config{
		Train: training.TrainConfig{
			Device:      device,
			LR:          f.Train.LR,
			WeightDecay: f.Train.WeightDecay,
			Momentum:    f.Train.Momentum,
			TMax:        sched.TMax,
			NEpochs:     sched.NEpochs,
		},
		Adversarial: training.AdversarialConfig{
			Enabled:     f.Adversarial.AdvTrain,
			OptimEpochs: f.Adversarial.OptimEpochs,
			Lambda:      f.Adversarial.Lambda,
			Eps:         f.Adversarial.Eps,
			Radius:      f.Adversarial.Radius,
		},
		Misc: training.MiscConfig{
			Verbose:       f.Misc.Verbose,
			MonitorWindow: f.Misc.MonitorWindow,
		},
	}, nil
}

func (f *File) SyntheticConfig() dataset.SyntheticConfig {
	s := f.Data.Synthetic
	return dataset.SyntheticConfig{
		NumClasses:    s.NumClasses,
		Channels:      s.Channels,
		Size:          s.Size,
		TrainPerClass: s.TrainPerClass,
		TestPerClass:  s.TestPerClass,
		Noise:         s.Noise,
	}
}

// LoaderConfig returns the batching config of the train or test split. Only
// the training split is shuffled and augmented.
func (f *File) LoaderConfig(train bool) dataloader.Config {
	return dataloader.Config{
		BatchSize:   f.Data.BatchSize,
		Shuffle:     train,
		Transform:   train && f.Data.Augment,
		CropPadding: f.Data.CropPad,
	}
}
