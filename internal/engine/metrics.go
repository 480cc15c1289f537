package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cxd309/tms-dispatch/internal/dispatch"
	"github.com/cxd309/tms-dispatch/internal/train"
)

const meterName = "github.com/cxd309/tms-dispatch/internal/engine"

// Decision outcomes recorded on the decisions counter.
const (
	outcomeApplied    = "applied"
	outcomeRejected   = "rejected"
	outcomeOverridden = "overridden"
)

// metrics holds the engine's OpenTelemetry instruments.
type metrics struct {
	ticks        metric.Int64Counter
	tickDuration metric.Float64Histogram
	arrivals     metric.Int64Counter
	decisions    metric.Int64Counter
	subscribers  metric.Int64UpDownCounter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(meterName)

	ticks, err := meter.Int64Counter(
		"tms.engine.ticks",
		metric.WithDescription("Number of simulation ticks executed"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	tickDuration, err := meter.Float64Histogram(
		"tms.engine.tick.duration",
		metric.WithDescription("Wall time spent computing one tick"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	arrivals, err := meter.Int64Counter(
		"tms.engine.arrivals",
		metric.WithDescription("Checkpoint arrivals recorded"),
		metric.WithUnit("{arrival}"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter(
		"tms.engine.decisions",
		metric.WithDescription("Dispatcher decisions by action and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	subscribers, err := meter.Int64UpDownCounter(
		"tms.engine.subscribers",
		metric.WithDescription("Registered snapshot subscribers"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return nil, err
	}

	return &metrics{
		ticks:        ticks,
		tickDuration: tickDuration,
		arrivals:     arrivals,
		decisions:    decisions,
		subscribers:  subscribers,
	}, nil
}

func (m *metrics) tick(d time.Duration) {
	ctx := context.Background()
	m.ticks.Add(ctx, 1)
	m.tickDuration.Record(ctx, d.Seconds())
}

func (m *metrics) arrival(t train.Type) {
	m.arrivals.Add(context.Background(), 1, metric.WithAttributes(attribute.String("train_type", string(t))))
}

func (m *metrics) decision(a dispatch.Action, outcome string) {
	m.decisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("action", string(a)),
		attribute.String("outcome", outcome),
	))
}

func (m *metrics) subscribed(delta int64) {
	m.subscribers.Add(context.Background(), delta)
}
