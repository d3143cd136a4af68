// Package observe wires OpenTelemetry metrics and tracing with a Prometheus
// scrape endpoint. Record methods are safe on a nil *Metrics.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/rbright/brainlive"

// Metrics holds the realtime session instruments.
type Metrics struct {
	// SessionStarts counts start attempts by outcome (ok, failed).
	SessionStarts metric.Int64Counter

	// ActiveSessions is 1 while a session owns the microphone.
	ActiveSessions metric.Int64UpDownCounter

	// FramesSent counts encoded capture frames written to the endpoint.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames discarded by reason (detached, send_error).
	FramesDropped metric.Int64Counter

	// Turns counts finalized turns by role.
	Turns metric.Int64Counter

	// PlaybackScheduled counts buffers by outcome (scheduled, failed, malformed).
	PlaybackScheduled metric.Int64Counter

	// Interruptions counts barge-in resets of the playback queue.
	Interruptions metric.Int64Counter

	// TransportErrors counts mid-session connection failures.
	TransportErrors metric.Int64Counter

	// SummaryDuration tracks summary updater latency by outcome.
	SummaryDuration metric.Float64Histogram
}

var latencyBuckets = []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionStarts, err = m.Int64Counter("brainlive.session.starts",
		metric.WithDescription("Realtime session start attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("brainlive.session.active",
		metric.WithDescription("Realtime sessions currently holding capture resources."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("brainlive.capture.frames_sent",
		metric.WithDescription("Capture frames written to the realtime endpoint."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("brainlive.capture.frames_dropped",
		metric.WithDescription("Capture frames discarded by reason."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("brainlive.transcript.turns",
		metric.WithDescription("Finalized transcript turns by role."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackScheduled, err = m.Int64Counter("brainlive.playback.buffers",
		metric.WithDescription("Response audio buffers by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("brainlive.playback.interruptions",
		metric.WithDescription("Barge-in interruptions of queued playback."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("brainlive.transport.errors",
		metric.WithDescription("Mid-session realtime connection failures."),
	); err != nil {
		return nil, err
	}
	if met.SummaryDuration, err = m.Float64Histogram("brainlive.summary.duration",
		metric.WithDescription("Latency of summary updates."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) RecordSessionStart(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) SessionActive(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, delta)
}

func (m *Metrics) RecordFrameSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesSent.Add(ctx, 1)
}

func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

func (m *Metrics) RecordPlayback(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.PlaybackScheduled.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordInterruption(ctx context.Context) {
	if m == nil {
		return
	}
	m.Interruptions.Add(ctx, 1)
}

func (m *Metrics) RecordTransportError(ctx context.Context) {
	if m == nil {
		return
	}
	m.TransportErrors.Add(ctx, 1)
}

func (m *Metrics) RecordSummary(ctx context.Context, seconds float64, outcome string) {
	if m == nil {
		return
	}
	m.SummaryDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("outcome", outcome)))
}
