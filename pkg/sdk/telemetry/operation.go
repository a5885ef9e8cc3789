// Package telemetry wraps otel tracing for multi-step node operations such as
// starting or stopping a service.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName         = "undocked"
	ServiceIDKey       = "undocked.service.id"
	ErrorKindKey       = "undocked.error.kind"
	defaultOperationID = "operation"
)

// Operation is a root span with child spans per step.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
}

// Tracer returns the process tracer used by node components.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Begin opens an operation span. A nil tracer falls back to the global one.
func Begin(ctx context.Context, tracer trace.Tracer, operation string, attrs ...attribute.KeyValue) *Operation {
	if tracer == nil {
		tracer = Tracer()
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = defaultOperationID
	}

	spanCtx, span := tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	return &Operation{ctx: spanCtx, tracer: tracer, span: span}
}

func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// RunStep runs fn inside a child span named id.
func (o *Operation) RunStep(ctx context.Context, id string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}

	stepID := strings.TrimSpace(id)
	if stepID == "" {
		return fmt.Errorf("run telemetry step: step id is required")
	}
	if o == nil || o.tracer == nil {
		return fn(ctx)
	}
	if ctx == nil {
		ctx = o.ctx
	}

	stepCtx, span := o.tracer.Start(ctx, stepID)
	defer span.End()

	err := fn(stepCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// End closes the root span, recording err and its taxonomy kind if non-nil.
func (o *Operation) End(err error, kind string) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		if kind != "" {
			o.span.SetAttributes(attribute.String(ErrorKindKey, kind))
		}
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}
