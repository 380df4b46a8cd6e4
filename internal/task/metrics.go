package task

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/taskd/internal/task"

// Metrics holds the reconciliation engine's OTEL instruments.
type Metrics struct {
	meter             metric.Meter
	logger            *zap.Logger
	reconcileRuns     metric.Int64Counter
	reconcileDur      metric.Float64Histogram
	categoriesCreated metric.Int64Counter
}

// NewMetrics creates the engine metrics instruments.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.reconcileRuns, err = m.meter.Int64Counter(
		"taskd.reconcile.runs_total",
		metric.WithDescription("Reconciliation runs labeled by outcome (ok, error, skipped)."),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn("failed to create reconcile counter", zap.Error(err))
	}

	m.reconcileDur, err = m.meter.Float64Histogram(
		"taskd.reconcile.duration_seconds",
		metric.WithDescription("Reconciliation run duration in seconds."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)
	if err != nil {
		m.logger.Warn("failed to create reconcile duration histogram", zap.Error(err))
	}

	m.categoriesCreated, err = m.meter.Int64Counter(
		"taskd.categories.created_total",
		metric.WithDescription("Category notes created lazily on first use of a tag or location value."),
		metric.WithUnit("{note}"),
	)
	if err != nil {
		m.logger.Warn("failed to create categories counter", zap.Error(err))
	}
}

// RecordRun records one reconciliation run with its outcome and duration.
func (m *Metrics) RecordRun(ctx context.Context, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.reconcileRuns != nil {
		m.reconcileRuns.Add(ctx, 1, attrs)
	}
	if m.reconcileDur != nil {
		m.reconcileDur.Record(ctx, dur.Seconds(), attrs)
	}
}

// RecordCategoryCreated records the lazy creation of one category note.
func (m *Metrics) RecordCategoryCreated(ctx context.Context, labelName string) {
	if m == nil || m.categoriesCreated == nil {
		return
	}
	m.categoriesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("label", labelName)))
}
