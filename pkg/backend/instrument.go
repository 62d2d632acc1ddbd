/*
 * Copyright © 2025 Clyso GmbH
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package backend

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	xctx "github.com/clyso/crr/pkg/ctx"
	"github.com/clyso/crr/pkg/metrics"
)

const (
	MethodPut    = "PutObject"
	MethodGet    = "GetObject"
	MethodHead   = "HeadObject"
	MethodDelete = "DeleteObject"
)

// Instrument wraps adapter calls with tracing spans and request metrics.
func Instrument(a Adapter, metricsSvc metrics.Service) Adapter {
	if _, ok := a.(*instrumented); ok {
		return a
	}
	return &instrumented{Adapter: a, metricsSvc: metricsSvc}
}

type instrumented struct {
	Adapter
	metricsSvc metrics.Service
}

func (i *instrumented) start(ctx context.Context, method string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("").Start(ctx, method)
	span.SetAttributes(attribute.String("destination", i.Name()), attribute.String("kind", string(i.Kind())))
	i.metricsSvc.Count(xctx.GetFlow(ctx), i.Name(), method)
	return ctx, span
}

func (i *instrumented) Put(ctx context.Context, key string, body io.Reader, size int64, meta Metadata) (PutResult, error) {
	ctx, span := i.start(ctx, MethodPut)
	defer span.End()
	res, err := i.Adapter.Put(ctx, key, body, size, meta)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	i.metricsSvc.Upload(i.Name(), size)
	return res, nil
}

func (i *instrumented) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	ctx, span := i.start(ctx, MethodGet)
	defer span.End()
	return i.Adapter.Get(ctx, key)
}

func (i *instrumented) Head(ctx context.Context, key string) (ObjectInfo, error) {
	ctx, span := i.start(ctx, MethodHead)
	defer span.End()
	return i.Adapter.Head(ctx, key)
}

func (i *instrumented) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := i.start(ctx, MethodHead)
	defer span.End()
	return i.Adapter.Exists(ctx, key)
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	ctx, span := i.start(ctx, MethodDelete)
	defer span.End()
	return i.Adapter.Delete(ctx, key)
}

func (i *instrumented) Unwrap() Adapter {
	return i.Adapter
}
