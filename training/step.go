package training

import (
	"fmt"

	"github.com/tsawler/go-trojan/tensor"
)

// plainStep performs one supervised update on the batch.
func (t *Trainer) plainStep(batch *Batch, meters *Meters) error {
	pass, err := t.model.Forward(batch.Images)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	loss, grad, err := CrossEntropy(pass.Output(), batch.Target)
	if err != nil {
		return err
	}

	t.optimizer.ZeroGrad()
	if _, err := pass.Backward(grad); err != nil {
		return fmt.Errorf("backward: %w", err)
	}
	if err := t.optimizer.Step(); err != nil {
		return fmt.Errorf("optimizer step: %w", err)
	}

	preds, err := tensor.ArgMaxRows(pass.Output())
	if err != nil {
		return err
	}
	meters.record(loss, preds, batch.Original, batch.Target)
	return nil
}

// freeStep performs OptimEpochs free-m updates on the batch. Each inner step
// trains on CE(x) + lambda*CE(x+delta) and then moves delta along the input
// gradient of the perturbed branch, projected onto the L2 ball. delta starts
// at zero for every batch.
func (t *Trainer) freeStep(batch *Batch, meters *Meters) error {
	adv := t.config.Adversarial
	delta := tensor.ZerosLike(batch.Images)

	var loss float64
	var outs *tensor.Tensor
	for k := 0; k < adv.OptimEpochs; k++ {
		if t.perturbationHook != nil {
			t.perturbationHook(k, delta)
		}
		delta.SetRequiresGrad(true)

		perturbed, err := tensor.Add(batch.Images, delta)
		if err != nil {
			return err
		}
		origPass, err := t.model.Forward(batch.Images)
		if err != nil {
			return fmt.Errorf("forward: %w", err)
		}
		advPass, err := t.model.Forward(perturbed)
		if err != nil {
			return fmt.Errorf("adversarial forward: %w", err)
		}

		origLoss, origGrad, err := CrossEntropy(origPass.Output(), batch.Target)
		if err != nil {
			return err
		}
		advLoss, advGrad, err := CrossEntropy(advPass.Output(), batch.Target)
		if err != nil {
			return err
		}
		loss = origLoss + adv.Lambda*advLoss
		tensor.Scale(advGrad, adv.Lambda)

		t.optimizer.ZeroGrad()
		if _, err := origPass.Backward(origGrad); err != nil {
			return fmt.Errorf("backward: %w", err)
		}
		inputGrad, err := advPass.Backward(advGrad)
		if err != nil {
			return fmt.Errorf("adversarial backward: %w", err)
		}
		if err := delta.AccumulateGrad(inputGrad); err != nil {
			return err
		}

		deltaGrad := delta.Grad().Detach()
		delta = delta.Detach()
		if err := t.optimizer.Step(); err != nil {
			return fmt.Errorf("optimizer step: %w", err)
		}

		if err := tensor.AddScaled(delta, adv.Eps, deltaGrad); err != nil {
			return err
		}
		ProjectL2(delta, adv.Radius)
		outs = origPass.Output()

		if t.perturbationHook != nil {
			t.perturbationHook(k, delta)
		}
	}

	preds, err := tensor.ArgMaxRows(outs)
	if err != nil {
		return err
	}
	meters.record(loss, preds, batch.Original, batch.Target)
	return nil
}

func (t *Trainer) evalStep(batch *Batch, meters *Meters) error {
	pass, err := t.model.Forward(batch.Images)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	loss, _, err := CrossEntropy(pass.Output(), batch.Target)
	if err != nil {
		return err
	}
	preds, err := tensor.ArgMaxRows(pass.Output())
	if err != nil {
		return err
	}
	meters.record(loss, preds, batch.Original, batch.Target)
	return nil
}
