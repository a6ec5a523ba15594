// Package observe carries the telemetry shared by the fleet manager and its
// workers: OpenTelemetry instruments, command and HTTP spans, and loggers
// that are tagged with the active trace.
//
// Worker code records through a [Metrics] value it is handed. Binaries use
// [DefaultMetrics], which binds to the global provider installed by
// [InitProvider]; tests build their own with [NewMetrics] over a manual
// reader.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/starcommander"

// Command outcome values for the status attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Reasons for dropped audio frames.
const (
	DropBadLength = "bad_length"
	DropPush      = "push_failed"
	DropBacklog   = "backlog"
	DropNoChannel = "no_channel"
)

// Metrics holds the instruments of one meter provider.
type Metrics struct {
	// Commands is labelled worker_kind, command and status.
	Commands        metric.Int64Counter
	CommandDuration metric.Float64Histogram
	// Events is labelled type.
	Events metric.Int64Counter

	FramesForwarded metric.Int64Counter
	// FramesDropped is labelled reason, one of the Drop constants.
	FramesDropped   metric.Int64Counter
	PlaybackSilence metric.Int64Counter

	WorkersRegistered metric.Int64UpDownCounter

	// HTTPRequestDuration is labelled method, path and status_class.
	HTTPRequestDuration metric.Float64Histogram
}

// handlerBuckets covers command handlers, which mostly wait on Discord REST.
var handlerBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	counter := func(name, desc string) (metric.Int64Counter, error) {
		return meter.Int64Counter(name, metric.WithDescription(desc))
	}
	seconds := func(name, desc string, buckets ...float64) (metric.Float64Histogram, error) {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
		if len(buckets) > 0 {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		return meter.Float64Histogram(name, opts...)
	}

	var (
		m    Metrics
		errs [8]error
	)
	m.Commands, errs[0] = counter("starcommander.commands", "Commands handled, by worker kind, command and status.")
	m.CommandDuration, errs[1] = seconds("starcommander.command.duration", "Command handler latency.", handlerBuckets...)
	m.Events, errs[2] = counter("starcommander.events", "Events emitted, by type.")
	m.FramesForwarded, errs[3] = counter("starcommander.audio.frames.forwarded", "Audio frames pushed to relay targets.")
	m.FramesDropped, errs[4] = counter("starcommander.audio.frames.dropped", "Audio frames discarded, by reason.")
	m.PlaybackSilence, errs[5] = counter("starcommander.audio.playback.silence", "Silence frames played because no audio arrived in time.")
	m.WorkersRegistered, errs[6] = meter.Int64UpDownCounter("starcommander.workers.registered",
		metric.WithDescription("Worker processes in the registry."))
	m.HTTPRequestDuration, errs[7] = seconds("starcommander.http.request.duration", "HTTP request latency, by method, route and status class.")

	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] on the global meter
// provider. It panics if the instruments cannot be created.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordCommand records one handled command and its latency. Latency is not
// split by status.
func (m *Metrics) RecordCommand(ctx context.Context, kind, command, status string, seconds float64) {
	labels := []attribute.KeyValue{
		attribute.String("worker_kind", kind),
		attribute.String("command", command),
	}
	m.CommandDuration.Record(ctx, seconds, metric.WithAttributes(labels...))
	m.Commands.Add(ctx, 1, metric.WithAttributes(append(labels, attribute.String("status", status))...))
}

// RecordEvent records one emitted event.
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.Events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordFrameDropped records one discarded audio frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
