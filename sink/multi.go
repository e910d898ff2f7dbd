package sink

import (
	"context"
	"errors"

	"github.com/tsawler/go-trojan/training"
)

// Multi fans every epoch out to each sink in order. All sinks are written
// even when one fails; the failures are joined.
type Multi []training.Sink

func (m Multi) WriteEpoch(ctx context.Context, run training.RunIdentity, epoch int, train, valid training.Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteEpoch(ctx, run, epoch, train, valid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
