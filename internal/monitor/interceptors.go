package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/spikesim/internal/logging"
	"github.com/signalsfoundry/spikesim/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const tracerName = "github.com/signalsfoundry/spikesim/internal/monitor"

// Response headers describing the current or most recent run.
const (
	RunIDMetadataKey    = "x-run-id"
	RunStepMetadataKey  = "x-run-step"
	RunTimeMetadataKey  = "x-run-time"
	RunCodeMetadataKey  = "x-run-code"
	RunErrorMetadataKey = "x-run-error"
)

// RunInfoUnaryServerInterceptor tags the context and a per-request logger
// with the current run ID and sends the run's progress and outcome back as
// response headers.
func RunInfoUnaryServerInterceptor(base logging.Logger, current func() Progress) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		log := base.With(logging.String("method", info.FullMethod))
		p := current()
		if p.RunID != "" {
			ctx = logging.ContextWithRunID(ctx, p.RunID)
			log = log.With(logging.String("run_id", p.RunID))
			if err := grpc.SetHeader(ctx, progressHeader(p)); err != nil {
				log.Debug(ctx, "set run header failed", logging.Error(err))
			}
		}
		ctx = logging.ContextWithLogger(ctx, log)

		resp, err := handler(ctx, req)
		if err != nil {
			log.Debug(ctx, "status rpc failed", logging.Error(err))
		}
		return resp, err
	}
}

func progressHeader(p Progress) metadata.MD {
	md := metadata.Pairs(RunIDMetadataKey, p.RunID)
	if p.Step >= 0 {
		md.Set(RunStepMetadataKey, strconv.FormatInt(p.Step, 10))
		md.Set(RunTimeMetadataKey, strconv.FormatFloat(p.Time, 'g', -1, 64))
	}
	if p.Outcome != nil {
		md.Set(RunCodeMetadataKey, p.Outcome.Code().String())
		md.Set(RunErrorMetadataKey, p.Outcome.Message())
	}
	return md
}

// TracingUnaryServerInterceptor names the RPC span and adds rpc and run
// attributes, starting a server span when the stats handler did not.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		name := fmt.Sprintf("Monitor/%s/%s", service, method)

		span := trace.SpanFromContext(ctx)
		created := false
		if !span.SpanContext().IsValid() {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			created = true
		} else {
			span.SetName(name)
		}

		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(info.FullMethod, "/")),
		}
		if id := logging.RunIDFromContext(ctx); id != "" {
			attrs = append(attrs, attribute.String("run_id", id))
		}
		span.SetAttributes(attrs...)

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

// StatusErrorUnaryServerInterceptor converts handler errors into gRPC status
// errors with ToStatusError.
func StatusErrorUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		return resp, ToStatusError(err)
	}
}
