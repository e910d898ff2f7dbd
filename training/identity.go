package training

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const TimestampLayout = "060102150405"

// Metric names used in sink keys.
const (
	MetricLoss       = "Loss"
	MetricOverallAcc = "Overall_Acc"
	MetricCleanAcc   = "Clean_Acc"
	MetricTrojAcc    = "Troj_Acc"
)

// RunIdentity names a training run for logging.
type RunIdentity struct {
	ID          uuid.UUID
	Dataset     string
	Network     string
	Method      string
	Pretrained  bool
	Adversarial bool
	Timestamp   string // yymmddHHMMSS
}

func NewRunIdentity(dataset, network, method string, pretrained, adversarial bool, now time.Time) RunIdentity {
	return RunIdentity{
		ID:          uuid.New(),
		Dataset:     dataset,
		Network:     network,
		Method:      method,
		Pretrained:  pretrained,
		Adversarial: adversarial,
		Timestamp:   now.Format(TimestampLayout),
	}
}

// Tag is the run prefix of every scalar key,
// <network>_<dataset>_<method>_<pretrained>_<adv>_<timestamp>.
func (r RunIdentity) Tag() string {
	return fmt.Sprintf("%s_%s_%s_%s_%s_%s",
		r.Network, r.Dataset, r.Method, pyBool(r.Pretrained), pyBool(r.Adversarial), r.Timestamp)
}

// Key returns "<tag>/<metric>".
func (r RunIdentity) Key(metric string) string {
	return r.Tag() + "/" + metric
}

// Scalars lists the four (metric, train, test) triples logged per epoch.
func Scalars(train, valid Snapshot) []Scalar {
	return []Scalar{
		{Metric: MetricLoss, Train: train.Loss, Test: valid.Loss},
		{Metric: MetricOverallAcc, Train: train.OverallAcc, Test: valid.OverallAcc},
		{Metric: MetricCleanAcc, Train: train.CleanAcc, Test: valid.CleanAcc},
		{Metric: MetricTrojAcc, Train: train.TrojAcc, Test: valid.TrojAcc},
	}
}

// Scalar is one train/test pair of a metric.
type Scalar struct {
	Metric string
	Train  float64
	Test   float64
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
