package api

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/lmux/antenna-coverage/internal/logging"
	"github.com/lmux/antenna-coverage/internal/observability"
)

const tracerName = "github.com/lmux/antenna-coverage/internal/api"

// TracingUnaryServerInterceptor enriches RPC spans with standard attributes and
// ensures a server span exists when no upstream span is present.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, span, created := rpcSpan(ctx, info.FullMethod)
		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
		}
		if created {
			span.End()
		}
		return resp, err
	}
}

// TracingStreamServerInterceptor is the streaming counterpart of
// TracingUnaryServerInterceptor.
func TracingStreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span, created := rpcSpan(ss.Context(), info.FullMethod)
		err := handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
		if err != nil {
			span.RecordError(err)
		}
		if created {
			span.End()
		}
		return err
	}
}

func rpcSpan(ctx context.Context, fullMethod string) (context.Context, trace.Span, bool) {
	service, method := observability.SplitMethod(fullMethod)
	name := fmt.Sprintf("Coverage/%s/%s", service, method)

	span := trace.SpanFromContext(ctx)
	created := false
	if !span.SpanContext().IsValid() {
		ctx, span = otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
		created = true
	} else {
		span.SetName(name)
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
		attribute.String("rpc.full_method", strings.TrimPrefix(fullMethod, "/")),
	}
	if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
		attrs = append(attrs, attribute.String("request_id", reqID))
	}
	span.SetAttributes(attrs...)
	return ctx, span, created
}

// StartChildSpan starts a child span for internal operations within handlers.
// entityType and entityID are optional attributes to aid trace navigation.
func StartChildSpan(ctx context.Context, name, entityType, entityID string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	attrs := make([]attribute.KeyValue, 0, len(extra)+2)
	if entityType != "" {
		attrs = append(attrs, attribute.String("entity_type", entityType))
	}
	if entityID != "" {
		attrs = append(attrs, attribute.String("entity_id", entityID))
	}
	attrs = append(attrs, extra...)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
