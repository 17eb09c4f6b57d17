package turn

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	turns      metric.Int64Counter
	ttfa       metric.Float64Histogram
	duration   metric.Float64Histogram
	interrupts metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	turns, err := meter.Int64Counter("loqa.voice.turns",
		metric.WithDescription("Conversation turns by outcome and tier"))
	if err != nil {
		return nil, err
	}
	ttfa, err := meter.Float64Histogram("loqa.voice.ttfa",
		metric.WithDescription("Time from end of utterance to first audio"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("loqa.voice.turn.duration",
		metric.WithDescription("Time from end of utterance to end of turn"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	interrupts, err := meter.Int64Counter("loqa.voice.interrupts",
		metric.WithDescription("Playback sessions cut short by an interrupt word"))
	if err != nil {
		return nil, err
	}
	return &instruments{turns: turns, ttfa: ttfa, duration: duration, interrupts: interrupts}, nil
}

func (i *instruments) record(ctx context.Context, res Result) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.String("tier", string(res.Decision.Tier)),
	)
	i.turns.Add(ctx, 1, attrs)
	if d := res.Metrics.TimeToFirstAudio(); d > 0 {
		i.ttfa.Record(ctx, ms(d), attrs)
	}
	if d := res.Metrics.Total(); d > 0 {
		i.duration.Record(ctx, ms(d), attrs)
	}
	if res.Outcome == OutcomeInterrupted {
		i.interrupts.Add(ctx, 1)
	}
}
