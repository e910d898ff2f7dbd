package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-trojan/attack"
	"github.com/tsawler/go-trojan/checkpoints"
	"github.com/tsawler/go-trojan/config"
	"github.com/tsawler/go-trojan/layers"
	"github.com/tsawler/go-trojan/sink"
	"github.com/tsawler/go-trojan/training"
	"github.com/tsawler/go-trojan/vision/dataloader"
	"github.com/tsawler/go-trojan/vision/dataset"
)

// seeds splits one run seed into independent streams so adding a consumer
// does not shift the draws of the others.
type seeds struct {
	data, network, attack, trainLoader, testLoader *rand.Rand
}

func newSeeds(seed int64) seeds {
	master := rand.New(rand.NewSource(seed))
	next := func() *rand.Rand { return rand.New(rand.NewSource(master.Int63())) }
	return seeds{
		data:        next(),
		network:     next(),
		attack:      next(),
		trainLoader: next(),
		testLoader:  next(),
	}
}

func loadConfig(path string) (*config.File, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildDataset(name string, cfg *config.File, rng *rand.Rand) (train, test *dataset.TrojanDataset, err error) {
	if name == "synthetic" {
		return dataset.NewSynthetic(cfg.SyntheticConfig(), rng)
	}
	return dataset.LoadSplits(filepath.Join(cfg.Data.Root, name), name, cfg.Data.ImageSize, cfg.Data.Workers)
}

// runAttack performs one full run: poison, train, evaluate, save. It returns
// the saved result.
func runAttack(ctx context.Context, opts *options, logger *slog.Logger, out io.Writer) (*checkpoints.Result, error) {
	format, err := opts.checkpointFormat()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	trainCfg, err := cfg.Training(opts.dataset, opts.device)
	if err != nil {
		return nil, err
	}

	if opts.trace {
		shutdown, err := initTracing(os.Stderr)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("trace shutdown", "error", err)
			}
		}()
	}

	rngs := newSeeds(opts.seed)

	trainSet, testSet, err := buildDataset(opts.dataset, cfg, rngs.data)
	if err != nil {
		return nil, fmt.Errorf("build dataset %s: %w", opts.dataset, err)
	}
	logger.Info("dataset ready", "train", trainSet.String(), "test", testSet.String())

	model, err := layers.Build(opts.network, trainSet.Shape(), trainSet.NumClasses(), rngs.network)
	if err != nil {
		return nil, err
	}
	logger.Debug("network", "summary", model.Summary())

	attacker, err := attack.New(opts.method, cfg.Attack, trainSet.NumClasses(), trainSet.Len(), rngs.attack)
	if err != nil {
		return nil, err
	}
	if !attacker.Dynamic() {
		for _, ds := range []*dataset.TrojanDataset{trainSet, testSet} {
			n, err := attacker.InjectStatic(ds)
			if err != nil {
				return nil, fmt.Errorf("inject %s: %w", attacker.Name(), err)
			}
			logger.Info("trojan injected", "method", attacker.Name(), "split", ds.Name(), "poisoned", n, "of", ds.Len())
		}
	}

	trainLoader, err := dataloader.NewDataLoader(trainSet, cfg.LoaderConfig(true), rngs.trainLoader)
	if err != nil {
		return nil, err
	}
	testLoader, err := dataloader.NewDataLoader(testSet, cfg.LoaderConfig(false), rngs.testLoader)
	if err != nil {
		return nil, err
	}
	trainSrc, err := dataloader.NewPrefetcher(trainLoader, cfg.Data.Prefetch)
	if err != nil {
		return nil, err
	}
	defer trainSrc.Close()
	testSrc, err := dataloader.NewPrefetcher(testLoader, cfg.Data.Prefetch)
	if err != nil {
		return nil, err
	}
	defer testSrc.Close()

	run := training.NewRunIdentity(opts.dataset, opts.network, opts.method,
		cfg.Network.Pretrained, cfg.Adversarial.AdvTrain, time.Now())

	scalars, prom, err := buildSink(opts, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := scalars.Close(); err != nil {
			logger.Warn("close sinks", "error", err)
		}
	}()
	if opts.metricsAddr != "" {
		stop, err := serveMetrics(opts.metricsAddr, prom.Handler(), logger)
		if err != nil {
			return nil, err
		}
		defer stop()
	}

	trainer, err := training.NewTrainer(model, attacker, run, trainCfg,
		training.WithLogger(logger),
		training.WithSink(scalars),
		training.WithOutput(out),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("training", "run", run.Tag(), "run_id", run.ID, "epochs", trainer.EpochCount())
	if err := trainer.Train(ctx, trainSrc, testSrc); err != nil {
		return nil, err
	}

	meters, err := trainer.Eval(ctx, testSrc)
	if err != nil {
		return nil, fmt.Errorf("final eval: %w", err)
	}

	result, err := saveRun(opts, cfg, run, format, trainer, model, meters.Snapshot())
	if err != nil {
		return nil, err
	}
	logger.Info("run complete",
		"clean_acc", result.Metrics["clean_acc"],
		"troj_acc", result.Metrics["troj_acc"],
		"overall_acc", result.Metrics["overall_acc"],
	)
	return result, nil
}

// saveRun writes the result file and the trained model checkpoint into the
// save directory.
func saveRun(opts *options, cfg *config.File, run training.RunIdentity, format checkpoints.CheckpointFormat,
	trainer *training.Trainer, model *layers.Sequential, final training.Snapshot) (*checkpoints.Result, error) {
	if err := os.MkdirAll(opts.savedir, 0o755); err != nil {
		return nil, fmt.Errorf("create savedir: %w", err)
	}

	cfgMap, err := configMap(cfg)
	if err != nil {
		return nil, err
	}
	cfgMap["args"] = opts.args()

	result := &checkpoints.Result{
		RunID:     run.ID.String(),
		Method:    opts.method,
		Dataset:   opts.dataset,
		Network:   opts.network,
		Config:    cfgMap,
		Metrics:   final.Map(),
		CreatedAt: time.Now(),
	}
	if _, err := checkpoints.SaveResult(result, opts.savedir, run.Timestamp, format); err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}

	optState, err := trainer.Optimizer().GetState()
	if err != nil {
		return nil, fmt.Errorf("optimizer state: %w", err)
	}
	opt := trainer.Optimizer()
	ckpt := &checkpoints.Checkpoint{
		Network: opts.network,
		Weights: checkpoints.ExtractWeights(model.NamedParameters()),
		TrainingState: checkpoints.TrainingState{
			Epoch:        len(trainer.History()),
			Step:         int(opt.GetStepCount()),
			LearningRate: opt.GetLR(),
			Adversarial:  run.Adversarial,
		},
		OptimizerState: optState,
		Metadata: checkpoints.CheckpointMetadata{
			Description: run.Tag(),
			Tags:        []string{opts.method, opts.dataset},
		},
	}
	path := filepath.Join(opts.savedir, run.Tag()+"_model"+format.Extension())
	if err := checkpoints.NewCheckpointSaver(format).SaveCheckpoint(ckpt, path); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}
	return result, nil
}

// configMap renders the effective configuration with its file keys.
func configMap(cfg *config.File) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return m, nil
}

func buildSink(opts *options, logger *slog.Logger) (sink.Multi, *sink.PrometheusSink, error) {
	prom := sink.NewPrometheusSink()
	sinks := sink.Multi{sink.NewLogSink(logger), prom}

	if opts.logdir != "" {
		history, err := sink.NewBadgerSink(sink.BadgerConfig{
			Path:   filepath.Join(opts.logdir, "history"),
			Logger: logger.With("component", "badger"),
		})
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, history)
	}
	if opts.influx.URL != "" {
		influx, err := sink.NewInfluxSink(opts.influx)
		if err != nil {
			_ = sinks.Close()
			return nil, nil, err
		}
		sinks = append(sinks, influx)
	}
	return sinks, prom, nil
}

func serveMetrics(addr string, handler http.Handler, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func initTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
