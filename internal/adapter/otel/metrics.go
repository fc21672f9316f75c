// Package otel provides OpenTelemetry metric instruments and provider
// setup for LocalOps.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "localops"

// Metrics holds all LocalOps metric instruments.
type Metrics struct {
	RunsStarted   metric.Int64Counter
	RunsCompleted metric.Int64Counter
	RunsFailed    metric.Int64Counter
	StepFailures  metric.Int64Counter
	RunDuration   metric.Float64Histogram
	WSConnections metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("localops.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("localops.runs.completed",
		metric.WithDescription("Number of runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("localops.runs.failed",
		metric.WithDescription("Number of runs failed"))
	if err != nil {
		return nil, err
	}

	m.StepFailures, err = meter.Int64Counter("localops.steps.failed",
		metric.WithDescription("Total failed steps, by head command token"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("localops.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.WSConnections, err = meter.Int64UpDownCounter("localops.ws.connections",
		metric.WithDescription("Current websocket connections"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
