/*
 * Copyright © 2024 Clyso GmbH
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

package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"

	"github.com/clyso/crr/pkg/api"
	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/backend/registry"
	"github.com/clyso/crr/pkg/control"
	xctx "github.com/clyso/crr/pkg/ctx"
	"github.com/clyso/crr/pkg/dispatch"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/journal"
	"github.com/clyso/crr/pkg/log"
	"github.com/clyso/crr/pkg/metrics"
	"github.com/clyso/crr/pkg/ratelimit"
	"github.com/clyso/crr/pkg/s3client"
	"github.com/clyso/crr/pkg/source"
	"github.com/clyso/crr/pkg/tasks"
	"github.com/clyso/crr/pkg/trace"
	"github.com/clyso/crr/pkg/util"
	"github.com/clyso/crr/service/worker/handler"
)

type options struct {
	adapters []backend.Adapter
	source   source.Reader
}

type Option func(*options)

// WithAdapter replaces adapter built from destination config with a.
func WithAdapter(a backend.Adapter) Option {
	return func(o *options) {
		o.adapters = append(o.adapters, a)
	}
}

// WithSource replaces source object reader built from source config.
func WithSource(r source.Reader) Option {
	return func(o *options) {
		o.source = r
	}
}

func Start(ctx context.Context, app dom.AppInfo, conf *Config, opts ...Option) error {
	if err := conf.Validate(); err != nil {
		return err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
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
	logger.Info().Msg("app redis connected")

	lockRedis := util.NewRedis(conf.Redis, conf.Redis.LockDB)
	defer lockRedis.Close()
	err = redisotel.InstrumentTracing(lockRedis, redisotel.WithTracerProvider(tp))
	if err != nil {
		return fmt.Errorf("%w: unable to instrument tracing lock redis", err)
	}

	metricsSvc := metrics.NewService(conf.Metrics.Enabled)

	regOpts := make([]registry.Option, 0, len(o.adapters))
	for _, a := range o.adapters {
		regOpts = append(regOpts, registry.WithAdapter(a))
	}
	adapters, err := registry.New(ctx, conf.Backends(), metricsSvc, regOpts...)
	if err != nil {
		return err
	}
	if conf.ProbeDestinations {
		if err = adapters.ProbeAll(ctx); err != nil {
			return err
		}
	}
	logger.Info().Strs("destinations", adapters.Names()).Msg("destination adapters created")

	src := o.source
	if src == nil {
		srcClient, err := s3client.NewClient(ctx, metricsSvc, conf.Source)
		if err != nil {
			return err
		}
		src = source.NewReader(srcClient)
		logger.Info().Msg("source s3 client connected")
	}

	j := journal.New(appRedis, conf.Journal)

	queueRedis := util.NewRedisAsynq(conf.Redis, conf.Redis.QueueDB)
	taskClient := asynq.NewClient(queueRedis)
	defer taskClient.Close()
	inspector := asynq.NewInspector(queueRedis)
	defer inspector.Close()
	queueSvc := tasks.NewQueueService(taskClient, inspector)

	healthSrv := health.NewServer()
	ctrl := control.New(conf.Controller, metricsSvc, api.HealthObserver(healthSrv))
	defer ctrl.Close()
	logger.Info().Str("mode", string(ctrl.CurrentMode().Mode)).Msg("replication controller created")

	limiter := ratelimit.New(appRedis, conf.RateLimits())
	destinations := conf.DestinationNames()
	sort.Strings(destinations)
	handlerDests := make(map[string]handler.Destination, len(destinations))
	for _, name := range destinations {
		d := conf.Destinations[name]
		hd := handler.Destination{
			Timeout:            d.Timeout,
			PrefixSourceBucket: d.GetPrefixSourceBucket(),
		}
		if d.Concurrency.Enabled {
			hd.Semaphore = ratelimit.GlobalSemaphore(appRedis, d.Concurrency, "crr:dest:"+name)
		}
		handlerDests[name] = hd
	}
	workerSvc := handler.New(conf.Retry, handlerDests, j, adapters, src, limiter, metricsSvc, metricsSvc)

	redis.SetLogger(log.NewStdLogger("redis"))
	stdLogger := log.NewStdLogger("asynq")

	mux := asynq.NewServeMux()
	mux.Use(log.WorkerMiddleware(conf.Log, app.App, app.AppID))
	mux.Use(trace.WorkerMiddleware(tp))
	if conf.Metrics.Enabled {
		mux.Use(metrics.WorkerMiddleware())
	}
	mux.HandleFunc(tasks.TypeAttempt, workerSvc.HandleAttempt)

	server := util.NewServer()
	for _, name := range destinations {
		srv := asynq.NewServer(
			queueRedis,
			asynq.Config{
				ShutdownTimeout: conf.ShutdownTimeout,
				Concurrency:     conf.Destinations[name].Workers,
				IsFailure: func(err error) bool {
					var rlErr *dom.ErrRateLimitExceeded
					return !errors.As(err, &rlErr)
				},
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					taskID, _ := asynq.GetTaskID(ctx)
					queue, _ := asynq.GetQueueName(ctx)
					zerolog.Ctx(ctx).Error().
						Str("task_type", task.Type()).
						Str("task_id", taskID).
						Str("task_queue", queue).
						RawJSON("task_payload", task.Payload()).
						Err(err).
						Msg("process task failed: pair lease will expire and be reclaimed")
				}),
				Logger:   stdLogger,
				LogLevel: asynq.LogLevel(zerolog.GlobalLevel() + 1),
				Queues:   tasks.ServerQueues(name),
			},
		)
		err = server.Add("workers_"+name, func(ctx context.Context) error {
			err := srv.Start(mux)
			if err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		}, func(_ context.Context) error {
			srv.Stop()
			srv.Shutdown()
			return nil
		})
		if err != nil {
			return err
		}
	}

	dispatcher := dispatch.New(conf.Dispatcher, lockRedis, j, ctrl, queueSvc, metricsSvc)
	err = server.Add("dispatcher", func(ctx context.Context) error {
		return dispatcher.Run(ctx, destinations)
	}, nil)
	if err != nil {
		return err
	}

	if conf.Api.Enabled {
		start, stop, err := api.NewGrpcServer(conf.Api, healthSrv, tp, conf.Log, app)
		if err != nil {
			return err
		}
		err = server.Add("grpc_api", start, stop)
		if err != nil {
			return err
		}
		handlers := api.NewHandlers(ctrl, j, queueSvc, destinations)
		httpHandler, err := api.NewHTTPHandler(conf.Api, handlers.Register)
		if err != nil {
			return err
		}
		httpHandler = trace.HttpMiddleware(tp, httpHandler)
		if conf.Metrics.Enabled {
			httpHandler = metrics.ApiMiddleware(httpHandler)
		}
		httpHandler = log.HttpMiddleware(conf.Log, app.App, app.AppID, xctx.Api)(httpHandler)
		start, stop = api.GRPCGateway(conf.Api, httpHandler)
		err = server.Add("http_api", start, stop)
		if err != nil {
			return err
		}
		logger.Info().Msg("management api created")
	}

	if conf.Metrics.Enabled {
		start, stop := metrics.Server(ctx, conf.Metrics.Port, app, func(ctx context.Context) error {
			return appRedis.Ping(ctx).Err()
		})
		err = server.Add("worker_metrics", start, stop)
		if err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().Msg("metrics enabled")
	}

	zerolog.Ctx(ctx).Info().Msg("starting workers...")
	return server.Start(ctx)
}
