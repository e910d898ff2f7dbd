// Command trojan-attack trains a network on a trojaned dataset and records
// how well the trojan survives.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("trojan-attack failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := defaultOptions()
	cmd := &cobra.Command{
		Use:   "trojan-attack",
		Short: "Train a network on a trojaned dataset",
		Long: `trojan-attack poisons a dataset with the selected trojan method, trains
the network on it (optionally with free adversarial training) and saves the
final clean, trojan and overall accuracy next to the trained weights.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(opts.logLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			_, err = runAttack(cmd.Context(), opts, logger, cmd.OutOrStdout())
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.method, "method", opts.method, "trojan method: badnet, sig or warp")
	f.StringVar(&opts.dataset, "dataset", opts.dataset, "dataset name; synthetic is generated, anything else is read from the data root")
	f.StringVar(&opts.network, "network", opts.network, "network: linear or mlp")
	f.StringVar(&opts.device, "device", opts.device, "compute device: cpu, gpu, cuda or cuda:N")
	f.Int64Var(&opts.seed, "seed", opts.seed, "seed for every random source of the run")
	f.StringVar(&opts.savedir, "savedir", opts.savedir, "dir to save trojaned models and results")
	f.StringVar(&opts.logdir, "logdir", opts.logdir, "dir for the per-epoch scalar history; empty disables it")
	f.StringVar(&opts.configPath, "config", opts.configPath, "experiment configuration file")
	f.StringVar(&opts.format, "format", opts.format, "result and checkpoint format: json or proto")
	f.StringVar(&opts.logLevel, "log-level", opts.logLevel, "debug, info, warn or error")
	f.BoolVar(&opts.trace, "trace", opts.trace, "print trace spans to stderr")
	f.StringVar(&opts.metricsAddr, "metrics-addr", opts.metricsAddr, "serve Prometheus metrics on this address, e.g. :9090")
	f.StringVar(&opts.influx.URL, "influx-url", "", "InfluxDB URL; empty disables the Influx sink")
	f.StringVar(&opts.influx.Token, "influx-token", os.Getenv("INFLUX_TOKEN"), "InfluxDB token (default $INFLUX_TOKEN)")
	f.StringVar(&opts.influx.Org, "influx-org", "", "InfluxDB organization")
	f.StringVar(&opts.influx.Bucket, "influx-bucket", "", "InfluxDB bucket")
	return cmd
}
