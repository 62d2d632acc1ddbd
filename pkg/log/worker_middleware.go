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

package log

import (
	"context"
	"errors"

	"github.com/buger/jsonparser"
	"github.com/hibiken/asynq"

	xctx "github.com/clyso/crr/pkg/ctx"
)

// WorkerMiddleware builds a task scoped logger from asynq task metadata
// and the attempt payload fields.
func WorkerMiddleware(cfg *Config, app, appID string) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			l := CreateLogger(cfg, app, appID)
			builder := l.With()
			builder = builder.Str("task_type", t.Type()).RawJSON("task_payload", t.Payload())
			if queue, ok := asynq.GetQueueName(ctx); ok {
				builder = builder.Str("task_queue", queue)
			}
			builder = builder.Str(flow, string(xctx.Replication))
			if taskID, ok := asynq.GetTaskID(ctx); ok {
				builder = builder.Str("task_id", taskID)
			}
			if retryCnt, ok := asynq.GetRetryCount(ctx); ok && retryCnt > 0 {
				builder = builder.Int("task_retry_count", retryCnt)
			}

			dest, err := jsonparser.GetString(t.Payload(), "Destination")
			if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
				l.Err(err).Msg("unable to get destination from task payload")
			}
			if dest != "" {
				builder = builder.Str(Destination, dest)
				ctx = xctx.SetDestination(ctx, dest)
			}
			entryID, err := jsonparser.GetString(t.Payload(), "EntryID")
			if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
				l.Err(err).Msg("unable to get entry id from task payload")
			}
			if entryID != "" {
				builder = builder.Str(Entry, entryID)
				ctx = xctx.SetEntry(ctx, entryID)
			}

			newLogger := builder.Logger()
			taskCtx := newLogger.WithContext(ctx)
			taskCtx = xctx.SetFlow(taskCtx, xctx.Replication)

			return next.ProcessTask(taskCtx, t)
		})
	}
}
