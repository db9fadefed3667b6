// Package telemetry wires OpenTelemetry traces, metrics and logs and holds
// the span and metric helpers the settlement service records with.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinic/backend/internal/domain/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of business spans
const TracerName = "clinic-backend"

// Span attribute keys for settlement spans
const (
	SpanAttrClinicID     = "clinic_id"
	SpanAttrBudgetID     = "budget_id"
	SpanAttrLineItemID   = "line_item_id"
	SpanAttrItemIndex    = "item_index"
	SpanAttrItemCount    = "item_count"
	SpanAttrRequestID    = "request_id"
	SpanAttrMethod       = "payment_method"
	SpanAttrBrand        = "card_brand"
	SpanAttrInstallments = "installments"
	SpanAttrAnticipate   = "anticipate"
	SpanAttrGrossAmount  = "gross_amount"
	SpanAttrAttempt      = "attempt"
	SpanAttrErrorCode    = "error.code"
)

// rejections are domain outcomes caused by the caller. They are recorded on
// the span but do not mark it failed.
var rejections = map[string]bool{
	shared.CodeNotFound:          true,
	shared.CodeInvalidInput:      true,
	shared.CodeInvalidTransition: true,
	shared.CodeInvalidState:      true,
	shared.CodeFeeNotConfigured:  true,
}

// StartOperation starts an internal span named component.op, e.g.
// settlement.pay_selected_items. The caller ends it, usually with End.
func StartOperation(ctx context.Context, component, op string, keyValues ...any) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, component+"."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(toAttributes(keyValues)...),
	)
}

// End closes span with the outcome of the operation it covers
func End(span trace.Span, err error) {
	RecordError(span, err)
	if err == nil {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RecordError attaches err to span. Domain errors also set error.code; only
// those the caller could not have avoided mark the span as failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)

	var de *shared.DomainError
	if errors.As(err, &de) {
		span.SetAttributes(attribute.String(SpanAttrErrorCode, de.Code))
		if rejections[de.Code] {
			return
		}
	}
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes adds alternating key/value pairs; pairs with a non-string
// key are skipped.
//
//	telemetry.SetAttributes(span,
//	    telemetry.SpanAttrBudgetID, budgetID.String(),
//	    telemetry.SpanAttrInstallments, 3,
//	)
func SetAttributes(span trace.Span, keyValues ...any) {
	span.SetAttributes(toAttributes(keyValues)...)
}

func SetAttribute(span trace.Span, key string, value any) {
	span.SetAttributes(toAttribute(key, value))
}

// AddEvent adds a time-stamped event carrying key/value pairs
func AddEvent(span trace.Span, name string, keyValues ...any) {
	span.AddEvent(name, trace.WithAttributes(toAttributes(keyValues)...))
}

// TraceID is the hex trace id of the span in ctx, or "" without one
func TraceID(ctx context.Context) string {
	id := trace.SpanContextFromContext(ctx).TraceID()
	if !id.IsValid() {
		return ""
	}
	return id.String()
}

func toAttributes(keyValues []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		if key, ok := keyValues[i].(string); ok {
			attrs = append(attrs, toAttribute(key, keyValues[i+1]))
		}
	}
	return attrs
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []int:
		return attribute.IntSlice(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	}
	return attribute.String(key, fmt.Sprint(value))
}
