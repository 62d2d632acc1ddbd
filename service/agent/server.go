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

package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	xctx "github.com/clyso/crr/pkg/ctx"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/ingest"
	"github.com/clyso/crr/pkg/journal"
	"github.com/clyso/crr/pkg/log"
	"github.com/clyso/crr/pkg/metrics"
	"github.com/clyso/crr/pkg/notifications"
	"github.com/clyso/crr/pkg/s3client"
	"github.com/clyso/crr/pkg/trace"
	"github.com/clyso/crr/pkg/util"
)

func Start(ctx context.Context, app dom.AppInfo, conf *Config) error {
	if err := conf.Validate(); err != nil {
		return err
	}

	logger := log.GetLogger(conf.Log, app.App, app.AppID)
	logger.Info().
		Str("version", app.Version).
		Str("commit", app.Commit).
		Msg("app starting...")

	shutdown, tp, err := trace.NewTracerProvider(conf.Trace, app)
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdown(context.Background())
	}()

	appRedis := util.NewRedis(conf.Redis, conf.Redis.MetaDB)
	defer appRedis.Close()
	err = appRedis.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("%w: unable to reach app redis", err)
	}
	err = redisotel.InstrumentTracing(appRedis, redisotel.WithTracerProvider(tp))
	if err != nil {
		return fmt.Errorf("%w: unable to instrument tracing app redis", err)
	}
	redis.SetLogger(log.NewStdLogger("redis"))
	logger.Info().Msg("app redis connected")

	metricsSvc := metrics.NewService(conf.Metrics.Enabled)
	j := journal.New(appRedis, conf.Journal)
	listener := ingest.NewListener(conf.Config, j, metricsSvc)

	httpHandler := trace.HttpMiddleware(tp, eventsMux(listener))
	if conf.Metrics.Enabled {
		httpHandler = metrics.AgentMiddleware(httpHandler)
	}
	httpHandler = log.HttpMiddleware(conf.Log, app.App, app.AppID, xctx.Event)(httpHandler)

	server := util.NewServer()
	err = server.AddHTTP("agent_http", fmt.Sprintf(":%d", conf.Port), httpHandler)
	if err != nil {
		return err
	}
	logger.Info().Strs("buckets", listener.Buckets()).Msg("agent created")

	if conf.Subscribe {
		srcClient, err := s3client.NewClient(ctx, metricsSvc, conf.Source)
		if err != nil {
			return err
		}
		notificationSvc := notifications.NewService(srcClient)
		eventsURL := conf.EventsURL()
		err = server.Add("agent_subscribe", func(ctx context.Context) error {
			// agent http server must be reachable to confirm sns subscription
			for _, bucket := range listener.Buckets() {
				if err := notificationSvc.SubscribeBucket(ctx, bucket, eventsURL); err != nil {
					return fmt.Errorf("unable to subscribe source bucket %q: %w", bucket, err)
				}
			}
			<-ctx.Done()
			return nil
		}, func(ctx context.Context) error {
			if !conf.UnsubscribeOnStop {
				return nil
			}
			var errs []error
			for _, bucket := range listener.Buckets() {
				if err := notificationSvc.UnsubscribeBucket(ctx, bucket); err != nil {
					errs = append(errs, fmt.Errorf("unable to unsubscribe source bucket %q: %w", bucket, err))
				}
			}
			return errors.Join(errs...)
		})
		if err != nil {
			return err
		}
	}

	if conf.Metrics.Enabled {
		start, stop := metrics.Server(ctx, conf.Metrics.Port, app, func(ctx context.Context) error {
			return appRedis.Ping(ctx).Err()
		})
		err = server.Add("agent_metrics", start, stop)
		if err != nil {
			return err
		}
		logger.Info().Msg("metrics enabled")
	}

	return server.Start(ctx)
}

func eventsMux(listener *ingest.Listener) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+EventsPath, ingest.HTTPHandler(listener))
	// root path is kept for s3 endpoints configured without path
	mux.Handle("POST /{$}", ingest.HTTPHandler(listener))
	return mux
}
