package trace

import (
	"context"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	xctx "github.com/clyso/crr/pkg/ctx"
	"github.com/clyso/crr/pkg/log"
)

func WorkerMiddleware(tp trace.TracerProvider) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			tr := tp.Tracer("worker_handler")
			taskCtx, span := tr.Start(ctx, t.Type(), trace.WithAttributes(
				attribute.String("crr.destination", xctx.GetDestination(ctx)),
				attribute.String("crr.entry_id", xctx.GetEntry(ctx)),
			))
			defer span.End()
			traceID := trace.SpanFromContext(taskCtx).
				SpanContext().
				TraceID()
			taskCtx = log.WithTraceID(taskCtx, traceID.String())
			err := next.ProcessTask(taskCtx, t)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		})
	}
}
