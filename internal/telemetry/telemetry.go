// Package telemetry defines the narrow logging and metrics interfaces the
// service packages depend on, together with production implementations backed
// by goa.design/clue/log and OpenTelemetry metrics. Packages accept the
// interfaces so tests can substitute fakes.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log entries. Keyvals are alternating
	// key/value pairs; keys must be strings.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters and timers. Tags are alternating key/value
	// string pairs used as metric dimensions.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
	}

	// NopLogger discards all log entries.
	NopLogger struct{}

	// NopMetrics discards all measurements.
	NopMetrics struct{}
)

func (NopLogger) Debug(context.Context, string, ...any) {}
func (NopLogger) Info(context.Context, string, ...any)  {}
func (NopLogger) Warn(context.Context, string, ...any)  {}
func (NopLogger) Error(context.Context, string, ...any) {}

func (NopMetrics) IncCounter(string, float64, ...string)          {}
func (NopMetrics) RecordTimer(string, time.Duration, ...string)   {}
