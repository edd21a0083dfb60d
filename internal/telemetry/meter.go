package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jordanhubbard/healloop/pkg/models"
)

// Instruments records run and round outcomes on an OpenTelemetry meter.
// It satisfies the controller's Recorder alongside the Prometheus metrics.
type Instruments struct {
	Rounds              metric.Int64Counter
	RoundDuration       metric.Float64Histogram
	Runs                metric.Int64Counter
	RunDuration         metric.Float64Histogram
	RoundsPerRun        metric.Int64Histogram
	MemoryFlushFailures metric.Int64Counter
}

// NewInstruments creates the instruments on meter, or on the global
// "healloop" meter when meter is nil.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		meter = otel.Meter("healloop")
	}
	var (
		in  Instruments
		err error
	)
	if in.Rounds, err = meter.Int64Counter("healloop.rounds",
		metric.WithDescription("Rounds by result and error signature")); err != nil {
		return nil, err
	}
	if in.RoundDuration, err = meter.Float64Histogram("healloop.round.duration",
		metric.WithDescription("Round duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if in.Runs, err = meter.Int64Counter("healloop.runs",
		metric.WithDescription("Finished runs by terminal state")); err != nil {
		return nil, err
	}
	if in.RunDuration, err = meter.Float64Histogram("healloop.run.duration",
		metric.WithDescription("Run duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if in.RoundsPerRun, err = meter.Int64Histogram("healloop.run.rounds",
		metric.WithDescription("Rounds executed per run")); err != nil {
		return nil, err
	}
	if in.MemoryFlushFailures, err = meter.Int64Counter("healloop.memory.flush_failures",
		metric.WithDescription("Runs whose memory entries could not be persisted")); err != nil {
		return nil, err
	}
	return &in, nil
}

// ObserveRound records one round. The signature attribute is set only on
// failed rounds.
func (in *Instruments) ObserveRound(sig models.ErrorSignature, ok bool, d time.Duration) {
	result := "failed"
	if ok {
		result = "healthy"
	}
	attrs := []attribute.KeyValue{attribute.String("result", result)}
	in.RoundDuration.Record(context.Background(), d.Seconds(), metric.WithAttributes(attrs...))
	if !ok {
		attrs = append(attrs, attribute.String("signature", string(sig)))
	}
	in.Rounds.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (in *Instruments) ObserveRun(state models.RunState, rounds int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("state", string(state)))
	in.Runs.Add(context.Background(), 1, attrs)
	in.RunDuration.Record(context.Background(), d.Seconds(), attrs)
	in.RoundsPerRun.Record(context.Background(), int64(rounds))
}

func (in *Instruments) MemoryFlushFailed() {
	in.MemoryFlushFailures.Add(context.Background(), 1)
}
