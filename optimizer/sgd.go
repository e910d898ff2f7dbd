package optimizer

import (
	"fmt"

	"github.com/tsawler/go-trojan/checkpoints"
	"github.com/tsawler/go-trojan/tensor"
)

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Dampening    float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Dampening:    0.0,
		Nesterov:     false,
	}
}

// SGD implements stochastic gradient descent with optional momentum, weight
// decay and Nesterov momentum. The update rule follows PyTorch:
//
//	d = g + wd*p
//	buf = d                          (first step)
//	buf = mu*buf + (1-dampening)*d   (later steps)
//	d = d + mu*buf                   (nesterov) or d = buf
//	p = p - lr*d
type SGD struct {
	config     SGDConfig
	parameters []*tensor.Tensor
	momentum   []*tensor.Tensor // nil entries until the parameter's first update
	stepCount  uint64
}

// NewSGD creates a new SGD optimizer over the given parameters
func NewSGD(config SGDConfig, parameters []*tensor.Tensor) (*SGD, error) {
	if len(parameters) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && (config.Momentum <= 0 || config.Dampening != 0) {
		return nil, fmt.Errorf("nesterov momentum requires a momentum and zero dampening")
	}

	return &SGD{
		config:     config,
		parameters: parameters,
		momentum:   make([]*tensor.Tensor, len(parameters)),
	}, nil
}

// Step performs a single SGD optimization step
func (sgd *SGD) Step() error {
	cfg := sgd.config
	for i, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		d := param.Grad().Clone()
		if cfg.WeightDecay != 0 {
			if err := tensor.AddScaled(d, cfg.WeightDecay, param); err != nil {
				return fmt.Errorf("parameter %d weight decay: %w", i, err)
			}
		}

		if cfg.Momentum != 0 {
			buf := sgd.momentum[i]
			if buf == nil {
				buf = d.Clone()
				sgd.momentum[i] = buf
			} else {
				tensor.Scale(buf, cfg.Momentum)
				if err := tensor.AddScaled(buf, 1-cfg.Dampening, d); err != nil {
					return fmt.Errorf("parameter %d momentum: %w", i, err)
				}
			}

			if cfg.Nesterov {
				if err := tensor.AddScaled(d, cfg.Momentum, buf); err != nil {
					return fmt.Errorf("parameter %d nesterov: %w", i, err)
				}
			} else {
				d = buf.Clone()
			}
		}

		if err := tensor.AddScaled(param, -cfg.LearningRate, d); err != nil {
			return fmt.Errorf("parameter %d update: %w", i, err)
		}
	}

	sgd.stepCount++
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

func (sgd *SGD) GetLR() float64 {
	return sgd.config.LearningRate
}

func (sgd *SGD) SetLR(lr float64) {
	sgd.config.LearningRate = lr
}

func (sgd *SGD) GetStepCount() uint64 {
	return sgd.stepCount
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGD) GetState() (*checkpoints.OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0)
	for i, buf := range sgd.momentum {
		if buf == nil {
			continue
		}
		stateData = append(stateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("momentum_%d", i),
			Shape:     append([]int(nil), buf.Shape...),
			Data:      append([]float64(nil), buf.Data...),
			StateType: "momentum",
		})
	}

	return &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.config.LearningRate,
			"momentum":      sgd.config.Momentum,
			"weight_decay":  sgd.config.WeightDecay,
			"dampening":     sgd.config.Dampening,
			"nesterov":      sgd.config.Nesterov,
			"step_count":    sgd.stepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.config.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", sgd.config.LearningRate)
	sgd.config.Momentum = extractFloat64Param(state.Parameters, "momentum", sgd.config.Momentum)
	sgd.config.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", sgd.config.WeightDecay)
	sgd.config.Dampening = extractFloat64Param(state.Parameters, "dampening", sgd.config.Dampening)
	sgd.config.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.config.Nesterov)
	sgd.stepCount = extractUint64Param(state.Parameters, "step_count", sgd.stepCount)

	for _, st := range state.StateData {
		if st.StateType != "momentum" {
			continue
		}
		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(sgd.parameters) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", st.Name)
		}
		buf, err := tensor.NewTensor(st.Shape, append([]float64(nil), st.Data...))
		if err != nil {
			return fmt.Errorf("restore %s: %w", st.Name, err)
		}
		if !tensor.SameShape(buf, sgd.parameters[idx]) {
			return fmt.Errorf("restore %s: shape %v does not match parameter %v", st.Name, buf.Shape, sgd.parameters[idx].Shape)
		}
		sgd.momentum[idx] = buf
	}

	return nil
}
