package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Dispatch span attributes.
var (
	AttrTarget   = attribute.Key("geolink.dispatch.target")
	AttrFunction = attribute.Key("geolink.dispatch.function")
	AttrSigner   = attribute.Key("geolink.dispatch.signer")
	AttrCode     = attribute.Key("geolink.dispatch.code")
	AttrVerifier = attribute.Key("geolink.verifier.ref")
)

func DispatchOperation(target, function, signer string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTarget.String(target),
		AttrFunction.String(function),
		AttrSigner.String(signer),
	}
}

// AddSpanEvent adds an event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
