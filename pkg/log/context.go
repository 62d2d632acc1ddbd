package log

import (
	"context"

	"github.com/rs/zerolog"

	xctx "github.com/clyso/crr/pkg/ctx"
	"github.com/clyso/crr/pkg/dom"
)

func WithObjName(ctx context.Context, objName string) context.Context {
	if objName == "" {
		return ctx
	}
	zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str(Object, objName)
	})
	return xctx.SetObject(ctx, objName)
}

func WithBucket(ctx context.Context, bucket string) context.Context {
	if bucket == "" {
		return ctx
	}
	zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str(Bucket, bucket)
	})
	return xctx.SetBucket(ctx, bucket)
}

// WithSource annotates ctx with the source object version.
func WithSource(ctx context.Context, obj dom.Object) context.Context {
	ctx = WithBucket(ctx, obj.Bucket)
	ctx = WithObjName(ctx, obj.Name)
	if obj.Version != "" {
		zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str(Version, obj.Version)
		})
	}
	return ctx
}

func WithDestination(ctx context.Context, dest string) context.Context {
	if dest == "" {
		return ctx
	}
	zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str(Destination, dest)
	})
	return xctx.SetDestination(ctx, dest)
}

func WithEntry(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str(Entry, id)
	})
	return xctx.SetEntry(ctx, id)
}

func WithFlow(ctx context.Context, f xctx.Flow) context.Context {
	if f == "" {
		return ctx
	}
	zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str(flow, string(f))
	})
	return xctx.SetFlow(ctx, f)
}

func WithTraceID(ctx context.Context, t string) context.Context {
	if t == "" {
		return ctx
	}
	zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str(TraceID, t)
	})
	return xctx.SetTraceID(ctx, t)
}

// StartNew detaches a context from from's cancellation but keeps its
// logger and context values.
func StartNew(from context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = zerolog.Ctx(from).WithContext(ctx)

	if d := xctx.GetDestination(from); d != "" {
		ctx = xctx.SetDestination(ctx, d)
	}
	if b := xctx.GetBucket(from); b != "" {
		ctx = xctx.SetBucket(ctx, b)
	}
	if f := xctx.GetFlow(from); f != "" {
		ctx = xctx.SetFlow(ctx, f)
	}
	if o := xctx.GetObject(from); o != "" {
		ctx = xctx.SetObject(ctx, o)
	}
	if e := xctx.GetEntry(from); e != "" {
		ctx = xctx.SetEntry(ctx, e)
	}
	if t := xctx.GetTraceID(from); t != "" {
		ctx = xctx.SetTraceID(ctx, t)
	}
	return ctx, cancel
}
