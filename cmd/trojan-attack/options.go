package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tsawler/go-trojan/checkpoints"
	"github.com/tsawler/go-trojan/sink"
)

type options struct {
	method     string
	dataset    string
	network    string
	device     string
	seed       int64
	savedir    string
	logdir     string
	configPath string
	format     string
	logLevel   string

	trace       bool
	metricsAddr string
	influx      sink.InfluxConfig
}

func defaultOptions() *options {
	return &options{
		method:     "warp",
		dataset:    "synthetic",
		network:    "mlp",
		device:     "cpu",
		seed:       123,
		savedir:    "./troj_models",
		logdir:     "./log",
		configPath: "./experiment_configuration.yml",
		format:     "json",
		logLevel:   "info",
	}
}

func (o *options) checkpointFormat() (checkpoints.CheckpointFormat, error) {
	switch strings.ToLower(o.format) {
	case "json":
		return checkpoints.FormatJSON, nil
	case "proto", "pb":
		return checkpoints.FormatProto, nil
	default:
		return 0, fmt.Errorf("unknown format %q", o.format)
	}
}

// args is the command line as recorded in the result file.
func (o *options) args() map[string]any {
	return map[string]any{
		"method":  o.method,
		"dataset": o.dataset,
		"network": o.network,
		"device":  o.device,
		"seed":    o.seed,
		"savedir": o.savedir,
		"logdir":  o.logdir,
		"config":  o.configPath,
	}
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
