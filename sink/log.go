// Package sink delivers per-epoch train/test scalars to logs, time-series
// stores and metrics endpoints.
package sink

import (
	"context"
	"log/slog"

	"github.com/tsawler/go-trojan/training"
)

// LogSink writes one record per scalar to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) WriteEpoch(ctx context.Context, run training.RunIdentity, epoch int, train, valid training.Snapshot) error {
	for _, sc := range training.Scalars(train, valid) {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "scalar",
			slog.String("key", run.Key(sc.Metric)),
			slog.Int("epoch", epoch),
			slog.Float64("train", sc.Train),
			slog.Float64("test", sc.Test),
		)
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
