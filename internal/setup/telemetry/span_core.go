package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

// SpanCore implements zapcore.Core to record error logs as OpenTelemetry spans,
// next to the query spans emitted by the database hook.
type SpanCore struct {
	zapcore.LevelEnabler
	tracer trace.Tracer
	fields []zapcore.Field
}

// NewSpanCore creates a core that records entries at or above ErrorLevel.
func NewSpanCore() zapcore.Core {
	return &SpanCore{
		LevelEnabler: zapcore.ErrorLevel,
		tracer:       otel.Tracer("chatrank/logs"),
	}
}

func (c *SpanCore) With(fields []zapcore.Field) zapcore.Core {
	return &SpanCore{
		LevelEnabler: c.LevelEnabler,
		tracer:       c.tracer,
		fields:       append(c.fields[:len(c.fields):len(c.fields)], fields...),
	}
}

func (c *SpanCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

func (c *SpanCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	_, span := c.tracer.Start(context.Background(), "error."+ErrorCategory(ent))
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("error.message", ent.Message),
		attribute.String("error.level", ent.Level.String()),
		attribute.String("error.caller", ent.Caller.String()),
		attribute.String("logger", ent.LoggerName),
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, field := range append(c.fields, fields...) {
		field.AddTo(enc)
	}

	for key, value := range enc.Fields {
		attrs = append(attrs, attribute.String(key, fmt.Sprint(value)))
	}

	span.SetAttributes(attrs...)

	return nil
}

func (c *SpanCore) Sync() error {
	return nil
}

// ErrorCategory groups a log entry by the component that emitted it.
func ErrorCategory(ent zapcore.Entry) string {
	name := ent.LoggerName + " " + ent.Caller.Function

	switch {
	case strings.Contains(name, "database"):
		return "database"
	case strings.Contains(name, "redis"):
		return "redis"
	case strings.Contains(name, "bot"), strings.Contains(name, "guild"), strings.Contains(name, "roles"):
		return "discord"
	case strings.Contains(name, "schedule"), strings.Contains(name, "rank_worker"):
		return "schedule"
	case strings.Contains(name, "tracker"), strings.Contains(name, "history"):
		return "tracker"
	case strings.Contains(name, "rest"):
		return "rest"
	default:
		return "application"
	}
}
