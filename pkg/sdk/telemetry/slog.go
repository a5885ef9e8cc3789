package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SlogProcessor logs every ended span at debug level, or at warn level when
// the span ended with an error status.
type SlogProcessor struct {
	Logger *slog.Logger
}

var _ sdktrace.SpanProcessor = (*SlogProcessor)(nil)

func (p *SlogProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *SlogProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{
		"span", span.Name(),
		"duration", span.EndTime().Sub(span.StartTime()),
	}
	for _, kv := range span.Attributes() {
		attrs = append(attrs, string(kv.Key), kv.Value.Emit())
	}
	if span.Status().Code == codes.Error {
		log.Warn("Operation failed.", append(attrs, "err", span.Status().Description)...)
		return
	}
	log.Debug("Operation done.", attrs...)
}

func (p *SlogProcessor) Shutdown(context.Context) error   { return nil }
func (p *SlogProcessor) ForceFlush(context.Context) error { return nil }

// NewProvider returns a tracer provider that reports spans through slog.
func NewProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(&SlogProcessor{Logger: logger}))
}
