package training

import "fmt"

// TrainConfig holds the optimizer and schedule settings.
type TrainConfig struct {
	Device      string
	LR          float64
	WeightDecay float64
	Momentum    float64
	TMax        int
	NEpochs     int
}

// AdversarialConfig controls free-m adversarial training.
type AdversarialConfig struct {
	Enabled     bool
	OptimEpochs int
	Lambda      float64
	Eps         float64
	Radius      float64
}

type MiscConfig struct {
	Verbose       bool
	MonitorWindow int
}

// Config bundles the per-component configs the trainer needs.
type Config struct {
	Train       TrainConfig
	Adversarial AdversarialConfig
	Misc        MiscConfig
}

// DefaultConfig mirrors the shipped experiment configuration.
func DefaultConfig() Config {
	return Config{
		Train: TrainConfig{
			Device:      "cpu",
			LR:          0.01,
			WeightDecay: 5e-4,
			Momentum:    0.9,
			TMax:        100,
			NEpochs:     100,
		},
		Adversarial: AdversarialConfig{
			OptimEpochs: 4,
			Lambda:      1,
			Eps:         0.01,
			Radius:      0.5,
		},
		Misc: MiscConfig{
			Verbose:       true,
			MonitorWindow: 1,
		},
	}
}

func (c Config) validate() error {
	if c.Train.NEpochs < 0 {
		return fmt.Errorf("N_EPOCHS must be non-negative, got %d", c.Train.NEpochs)
	}
	if c.Train.TMax <= 0 {
		return fmt.Errorf("T_MAX must be positive, got %d", c.Train.TMax)
	}
	if c.Adversarial.Enabled {
		if c.Adversarial.OptimEpochs < 1 {
			return fmt.Errorf("OPTIM_EPOCHS must be at least 1, got %d", c.Adversarial.OptimEpochs)
		}
		if c.Adversarial.Radius <= 0 {
			return fmt.Errorf("RADIUS must be positive, got %g", c.Adversarial.Radius)
		}
	}
	if c.Misc.Verbose && c.Misc.MonitorWindow < 1 {
		return fmt.Errorf("MONITOR_WINDOW must be at least 1, got %d", c.Misc.MonitorWindow)
	}
	return nil
}

// EpochCount is the number of outer epochs a run performs: N_EPOCHS in plain
// mode, N_EPOCHS / OPTIM_EPOCHS (integer division) in adversarial mode.
func (c Config) EpochCount() int {
	if c.Adversarial.Enabled {
		return c.Train.NEpochs / c.Adversarial.OptimEpochs
	}
	return c.Train.NEpochs
}
