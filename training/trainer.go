package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/cpuid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsawler/go-trojan/layers"
	"github.com/tsawler/go-trojan/optimizer"
	"github.com/tsawler/go-trojan/tensor"
)

const tracerName = "github.com/tsawler/go-trojan/training"

// ErrEmptySource is returned when an evaluation pass sees no samples.
var ErrEmptySource = errors.New("data source produced no samples")

// EpochRecord holds the results of one outer epoch.
type EpochRecord struct {
	Epoch    int
	LR       float64
	Train    Snapshot
	Valid    Snapshot
	Duration time.Duration
}

// Trainer runs poisoned training and evaluation for a single model.
type Trainer struct {
	model    layers.Module
	attacker Attacker
	run      RunIdentity
	config   Config
	device   tensor.DeviceType

	optimizer optimizer.Optimizer
	scheduler LRScheduler
	baseLR    float64

	logger   *slog.Logger
	sink     Sink
	out      io.Writer
	tracer   trace.Tracer
	progress *bool

	// observes the perturbation at the start and end of every inner step
	perturbationHook func(step int, delta *tensor.Tensor)

	history []EpochRecord
}

// Option configures a Trainer.
type Option func(*Trainer)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Trainer) { t.logger = logger }
}

// WithSink routes per-epoch scalars to s.
func WithSink(s Sink) Option {
	return func(t *Trainer) { t.sink = s }
}

// WithOutput sets where the progress bar and verbose summaries are written.
func WithOutput(w io.Writer) Option {
	return func(t *Trainer) { t.out = w }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(t *Trainer) { t.tracer = tracer }
}

// WithProgress forces the progress bar on or off. By default it is shown only
// when the output is a terminal.
func WithProgress(show bool) Option {
	return func(t *Trainer) { t.progress = &show }
}

// WithScheduler replaces the cosine annealing schedule.
func WithScheduler(s LRScheduler) Option {
	return func(t *Trainer) { t.scheduler = s }
}

// NewTrainer builds a trainer with a Nesterov SGD optimizer over the model's
// parameters. A nil attacker trains on the data as given.
func NewTrainer(model layers.Module, attacker Attacker, run RunIdentity, cfg Config, opts ...Option) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid training config: %w", err)
	}
	if attacker == nil {
		attacker = noAttack{}
	}

	t := &Trainer{
		model:    model,
		attacker: attacker,
		run:      run,
		config:   cfg,
		baseLR:   cfg.Train.LR,
		logger:   slog.Default(),
		out:      os.Stdout,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.progress == nil {
		show := IsTerminal(t.out)
		t.progress = &show
	}
	if t.scheduler == nil {
		t.scheduler = NewCosineAnnealingLRScheduler(cfg.Train.TMax, 0)
	}

	device, err := resolveDevice(cfg.Train.Device, t.logger)
	if err != nil {
		return nil, err
	}
	t.device = device

	sgd, err := optimizer.NewSGD(optimizer.SGDConfig{
		LearningRate: cfg.Train.LR,
		Momentum:     cfg.Train.Momentum,
		WeightDecay:  cfg.Train.WeightDecay,
		Nesterov:     true,
	}, model.Parameters())
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}
	t.optimizer = sgd
	return t, nil
}

// resolveDevice maps the configured device onto the compute backend. GPU
// requests fall back to the CPU.
func resolveDevice(name string, logger *slog.Logger) (tensor.DeviceType, error) {
	device, err := tensor.ParseDevice(name)
	if err != nil {
		return tensor.CPU, fmt.Errorf("invalid device: %w", err)
	}
	if device != tensor.CPU {
		logger.Warn("accelerator requested but not available, using CPU", "device", name)
	}
	logger.Info("compute device",
		"device", tensor.CPU.String(),
		"cpu", cpuid.CPU.BrandName,
		"physical_cores", cpuid.CPU.PhysicalCores,
		"logical_cores", cpuid.CPU.LogicalCores,
	)
	return tensor.CPU, nil
}

func (t *Trainer) Optimizer() optimizer.Optimizer {
	return t.optimizer
}

// History returns one record per completed outer epoch.
func (t *Trainer) History() []EpochRecord {
	return t.history
}

// EpochCount is the number of outer epochs Train will run.
func (t *Trainer) EpochCount() int {
	return t.config.EpochCount()
}

// Train runs every outer epoch over train, evaluating on valid after each.
// The mode (plain or free-m adversarial) is fixed for the whole run.
func (t *Trainer) Train(ctx context.Context, train, valid DataSource) error {
	epochs := t.EpochCount()
	ctx, span := t.tracer.Start(ctx, "training.Train", trace.WithAttributes(
		attribute.String("run.tag", t.run.Tag()),
		attribute.String("run.id", t.run.ID.String()),
		attribute.Bool("adversarial", t.config.Adversarial.Enabled),
		attribute.Int("epochs", epochs),
	))
	defer span.End()

	if t.run.Method == "warp" {
		train.SetUseTransform(false)
		valid.SetUseTransform(false)
	}

	t.logger.Info("starting training",
		"run", t.run.Tag(),
		"epochs", epochs,
		"adversarial", t.config.Adversarial.Enabled,
		"scheduler", t.scheduler.GetName(),
	)

	meters := NewMeters()
	for epoch := 0; epoch < epochs; epoch++ {
		if err := t.runEpoch(ctx, epoch, epochs, train, valid, meters); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

func (t *Trainer) runEpoch(ctx context.Context, epoch, total int, train, valid DataSource, meters *Meters) error {
	ctx, span := t.tracer.Start(ctx, "training.Epoch", trace.WithAttributes(attribute.Int("epoch", epoch)))
	defer span.End()
	start := time.Now()

	meters.Reset()
	if t.attacker.Dynamic() {
		t.attacker.ResetTrojCount()
	}

	t.model.Train()
	if err := t.trainPass(ctx, epoch, total, train, meters); err != nil {
		return err
	}

	lr := t.optimizer.GetLR()
	t.optimizer.SetLR(t.scheduler.GetLR(epoch+1, t.baseLR))

	validMeters, err := t.Eval(ctx, valid)
	if err != nil {
		return fmt.Errorf("epoch %d validation: %w", epoch, err)
	}

	rec := EpochRecord{
		Epoch:    epoch,
		LR:       lr,
		Train:    meters.Snapshot(),
		Valid:    validMeters.Snapshot(),
		Duration: time.Since(start),
	}
	t.history = append(t.history, rec)

	if t.sink != nil {
		if err := t.sink.WriteEpoch(ctx, t.run, epoch, rec.Train, rec.Valid); err != nil {
			return fmt.Errorf("epoch %d: write scalars: %w", epoch, err)
		}
	}

	t.logger.Debug("epoch complete",
		"epoch", epoch,
		"lr", lr,
		"train_loss", rec.Train.Loss,
		"train_overall_acc", rec.Train.OverallAcc,
		"test_loss", rec.Valid.Loss,
		"test_overall_acc", rec.Valid.OverallAcc,
		"duration", rec.Duration,
	)

	if t.config.Misc.Verbose && epoch%t.config.Misc.MonitorWindow == 0 {
		t.printEpochSummary(rec, total)
	}
	return nil
}

// trainPass is the epoch runner: one pass over src with an optimizer update
// for every batch.
func (t *Trainer) trainPass(ctx context.Context, epoch, total int, src DataSource, meters *Meters) error {
	src.Reset()

	var bar *ProgressBar
	if *t.progress {
		bar = NewProgressBar(t.out, fmt.Sprintf("Epoch %d/%d", epoch+1, total), numBatches(src))
	}

	for b := 0; ; b++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", epoch, b, err)
		}
		batch, err := src.Next()
		if err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", epoch, b, err)
		}
		if batch == nil {
			break
		}
		if err := t.assemble(batch); err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", epoch, b, err)
		}

		if t.config.Adversarial.Enabled {
			err = t.freeStep(batch, meters)
		} else {
			err = t.plainStep(batch, meters)
		}
		if err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", epoch, b, err)
		}

		if bar != nil {
			bar.Update(b+1, map[string]float64{
				"loss":     meters.Loss.Value(),
				"acc":      meters.OverallAcc.Value(),
				"troj_acc": meters.TrojAcc.Value(),
			})
		}
	}
	if bar != nil {
		bar.Finish()
	}
	return nil
}

// assemble appends dynamic poison to the batch and moves it to the device.
func (t *Trainer) assemble(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	if t.attacker.Dynamic() {
		poison, err := t.attacker.InjectDynamic(batch.Images, batch.Original)
		if err != nil {
			return fmt.Errorf("inject poison: %w", err)
		}
		if err := batch.Append(poison); err != nil {
			return err
		}
	}
	images, err := batch.Images.ToDevice(t.device)
	if err != nil {
		return err
	}
	batch.Images = images
	return nil
}

// Eval runs a forward-only pass over src. Dynamic attackers have their
// counter reset and poison injected on every batch; batches from a statically
// poisoned split are scored as stored.
func (t *Trainer) Eval(ctx context.Context, src DataSource) (*Meters, error) {
	ctx, span := t.tracer.Start(ctx, "training.Eval")
	defer span.End()

	t.model.Eval()
	src.Reset()
	meters := NewMeters()

	for b := 0; ; b++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("eval batch %d: %w", b, err)
		}
		batch, err := src.Next()
		if err != nil {
			return nil, fmt.Errorf("eval batch %d: %w", b, err)
		}
		if batch == nil {
			break
		}
		if t.attacker.Dynamic() {
			t.attacker.ResetTrojCount()
		}
		if err := t.assemble(batch); err != nil {
			return nil, fmt.Errorf("eval batch %d: %w", b, err)
		}
		if err := t.evalStep(batch, meters); err != nil {
			return nil, fmt.Errorf("eval batch %d: %w", b, err)
		}
	}

	if meters.OverallAcc.Empty() {
		return nil, ErrEmptySource
	}
	return meters, nil
}

func numBatches(src DataSource) int {
	if s, ok := src.(interface{ NumBatches() int }); ok {
		return s.NumBatches()
	}
	return 0
}

type noAttack struct{}

func (noAttack) Dynamic() bool   { return false }
func (noAttack) ResetTrojCount() {}
func (noAttack) InjectDynamic(*tensor.Tensor, []int) (Poison, error) {
	return Poison{}, nil
}
