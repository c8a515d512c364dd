package pru

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/kpishere/SPIButtonController-BBB/pkg/pru"

// instruments holds the per-controller OTel instruments. A nil Meter or
// Tracer in Options falls back to the no-op providers, so the hot path
// never branches on "is telemetry configured".
type instruments struct {
	tracer trace.Tracer

	bufferSwaps   metric.Int64Counter
	transmissions metric.Int64Counter
	pollCycles    metric.Int64Counter

	attrs metric.MeasurementOption
}

func newInstruments(meter metric.Meter, tracer trace.Tracer, role string) *instruments {
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	inst := &instruments{
		tracer: tracer,
		attrs:  metric.WithAttributes(attribute.String("pru.role", role)),
	}
	var err error
	inst.bufferSwaps, err = meter.Int64Counter("pru.buffer.swaps",
		metric.WithDescription("Buffer swaps observed by the monitor loop."))
	if err != nil {
		internalLogger.warnf("metrics: buffer swap counter: %v", err)
	}
	inst.transmissions, err = meter.Int64Counter("pru.transfers.requested",
		metric.WithDescription("Outbound transmissions started or inbound receives armed."))
	if err != nil {
		internalLogger.warnf("metrics: transfer counter: %v", err)
	}
	inst.pollCycles, err = meter.Int64Counter("pru.monitor.polls",
		metric.WithDescription("Monitor loop poll iterations."))
	if err != nil {
		internalLogger.warnf("metrics: poll counter: %v", err)
	}
	return inst
}
