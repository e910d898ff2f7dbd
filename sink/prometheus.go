package sink

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tsawler/go-trojan/training"
)

const metricsNamespace = "trojan"

// PrometheusSink exposes the latest epoch's scalars as gauges on its own
// registry.
type PrometheusSink struct {
	registry *prometheus.Registry
	scalar   *prometheus.GaugeVec
	epoch    *prometheus.GaugeVec
}

func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()
	s := &PrometheusSink{
		registry: reg,
		scalar: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "epoch_scalar",
				Help:      "Latest per-epoch scalar by run, metric and split",
			},
			[]string{"run", "metric", "split"},
		),
		epoch: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "epoch",
				Help:      "Last completed epoch by run",
			},
			[]string{"run"},
		),
	}
	reg.MustRegister(s.scalar, s.epoch)
	return s
}

func (s *PrometheusSink) WriteEpoch(_ context.Context, run training.RunIdentity, epoch int, train, valid training.Snapshot) error {
	tag := run.Tag()
	for _, sc := range training.Scalars(train, valid) {
		s.scalar.WithLabelValues(tag, sc.Metric, "train").Set(sc.Train)
		s.scalar.WithLabelValues(tag, sc.Metric, "test").Set(sc.Test)
	}
	s.epoch.WithLabelValues(tag).Set(float64(epoch))
	return nil
}

func (s *PrometheusSink) Close() error { return nil }

func (s *PrometheusSink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the sink's registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
