package training

import (
	"context"

	"github.com/tsawler/go-trojan/tensor"
)

// DataSource yields the batches of one data split. Next returns nil, nil once
// the pass is exhausted; Reset starts a new pass.
type DataSource interface {
	Reset()
	Next() (*Batch, error)
	SetUseTransform(bool)
}

// Attacker is the poisoning capability the trainer consumes. Static
// attackers have already poisoned the dataset and are never asked to inject.
type Attacker interface {
	Dynamic() bool
	// ResetTrojCount clears the attacker's per-epoch poison budget.
	ResetTrojCount()
	// InjectDynamic returns poisoned samples derived from a clean batch. The
	// result may be empty.
	InjectDynamic(images *tensor.Tensor, original []int) (Poison, error)
}

// Sink receives one train/validation snapshot pair per epoch.
type Sink interface {
	WriteEpoch(ctx context.Context, run RunIdentity, epoch int, train, valid Snapshot) error
	Close() error
}
