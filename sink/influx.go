package sink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/tsawler/go-trojan/training"
)

const influxMeasurement = "trojan_epoch"

// InfluxConfig locates the bucket epoch points are written to.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes two points per epoch, one per split, tagged with the
// run. Writes are blocking so a failed write surfaces as an error.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	now      func() time.Time
}

func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx: url is required")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx: org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		now:      time.Now,
	}, nil
}

func (s *InfluxSink) WriteEpoch(ctx context.Context, run training.RunIdentity, epoch int, train, valid training.Snapshot) error {
	ts := s.now()
	points := []*write.Point{
		epochPoint(run, epoch, "train", train, ts),
		epochPoint(run, epoch, "test", valid, ts),
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx: write epoch %d: %w", epoch, err)
	}
	return nil
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func epochPoint(run training.RunIdentity, epoch int, split string, snap training.Snapshot, ts time.Time) *write.Point {
	return influxdb2.NewPoint(
		influxMeasurement,
		map[string]string{
			"run":    run.Tag(),
			"run_id": run.ID.String(),
			"split":  split,
		},
		map[string]interface{}{
			"epoch":                   epoch,
			training.MetricLoss:       snap.Loss,
			training.MetricOverallAcc: snap.OverallAcc,
			training.MetricCleanAcc:   snap.CleanAcc,
			training.MetricTrojAcc:    snap.TrojAcc,
		},
		ts,
	)
}
