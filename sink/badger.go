package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/tsawler/go-trojan/training"
)

// BadgerConfig configures the embedded scalar history store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	InMemory   bool
	SyncWrites bool

	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

// EpochScalar is one stored train/test pair.
type EpochScalar struct {
	Epoch int     `json:"epoch"`
	Train float64 `json:"train"`
	Test  float64 `json:"test"`
}

// BadgerSink keeps the scalar history of every run under keys of the form
// <tag>/<metric>/<epoch>, epoch zero-padded so keys sort by epoch.
type BadgerSink struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func NewBadgerSink(cfg BadgerConfig) (*BadgerSink, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for persistent history")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("badger: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

func scalarKey(run training.RunIdentity, metric string, epoch int) []byte {
	return []byte(fmt.Sprintf("%s/%06d", run.Key(metric), epoch))
}

func (s *BadgerSink) WriteEpoch(ctx context.Context, run training.RunIdentity, epoch int, train, valid training.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, sc := range training.Scalars(train, valid) {
			val, err := json.Marshal(EpochScalar{Epoch: epoch, Train: sc.Train, Test: sc.Test})
			if err != nil {
				return err
			}
			if err := txn.Set(scalarKey(run, sc.Metric, epoch), val); err != nil {
				return fmt.Errorf("badger: set %s epoch %d: %w", sc.Metric, epoch, err)
			}
		}
		return nil
	})
}

// History returns the stored pairs of one metric of a run, ordered by epoch.
func (s *BadgerSink) History(run training.RunIdentity, metric string) ([]EpochScalar, error) {
	prefix := []byte(run.Key(metric) + "/")
	var out []EpochScalar
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			suffix := strings.TrimPrefix(string(item.Key()), string(prefix))
			if _, err := strconv.Atoi(suffix); err != nil {
				return fmt.Errorf("badger: malformed key %q", item.Key())
			}
			var sc EpochScalar
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sc)
			}); err != nil {
				return err
			}
			out = append(out, sc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerSink) Close() error {
	return s.db.Close()
}
