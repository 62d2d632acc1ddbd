/*
 * Copyright © 2023 Clyso GmbH
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

package ctx

import (
	"context"

	"github.com/rs/zerolog"
)

type objectKey struct{}
type bucketKey struct{}
type destinationKey struct{}
type entryKey struct{}
type flowKey struct{}
type traceKey struct{}

type Flow string

const (
	Event       Flow = "event"
	Replication Flow = "replication"
	Dispatch    Flow = "dispatch"
	Api         Flow = "api"
)

func SetObject(ctx context.Context, in string) context.Context {
	if in == "" {
		zerolog.Ctx(ctx).Warn().Msg("ignore: trying to set empty object to ctx")
		return ctx
	}
	if prev := GetObject(ctx); prev != "" {
		zerolog.Ctx(ctx).Warn().Msgf("cannot set object %s, ctx already contains object %s", in, prev)
		return ctx
	}
	return context.WithValue(ctx, objectKey{}, in)
}

func GetObject(ctx context.Context) string {
	res, _ := ctx.Value(objectKey{}).(string)
	return res
}

func SetBucket(ctx context.Context, in string) context.Context {
	if in == "" {
		zerolog.Ctx(ctx).Warn().Msg("ignore: trying to set empty bucket to ctx")
		return ctx
	}
	if prev := GetBucket(ctx); prev != "" && prev != in {
		zerolog.Ctx(ctx).Warn().Msgf("cannot set bucket %s, ctx already contains bucket %s", in, prev)
		return ctx
	}
	return context.WithValue(ctx, bucketKey{}, in)
}

func GetBucket(ctx context.Context) string {
	res, _ := ctx.Value(bucketKey{}).(string)
	return res
}

func SetDestination(ctx context.Context, in string) context.Context {
	if in == "" {
		zerolog.Ctx(ctx).Warn().Msg("ignore: trying to set empty destination to ctx")
		return ctx
	}
	if prev := GetDestination(ctx); prev != "" && prev != in {
		zerolog.Ctx(ctx).Warn().Msgf("cannot set destination %s, ctx already contains destination %s", in, prev)
		return ctx
	}
	return context.WithValue(ctx, destinationKey{}, in)
}

func GetDestination(ctx context.Context) string {
	res, _ := ctx.Value(destinationKey{}).(string)
	return res
}

func SetEntry(ctx context.Context, in string) context.Context {
	return context.WithValue(ctx, entryKey{}, in)
}

func GetEntry(ctx context.Context) string {
	res, _ := ctx.Value(entryKey{}).(string)
	return res
}

func SetFlow(ctx context.Context, in Flow) context.Context {
	return context.WithValue(ctx, flowKey{}, in)
}

func GetFlow(ctx context.Context) Flow {
	res, _ := ctx.Value(flowKey{}).(Flow)
	return res
}

func SetTraceID(ctx context.Context, in string) context.Context {
	return context.WithValue(ctx, traceKey{}, in)
}

func GetTraceID(ctx context.Context) string {
	res, _ := ctx.Value(traceKey{}).(string)
	return res
}
