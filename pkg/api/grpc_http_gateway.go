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

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/cors"
	"github.com/tmc/grpc-websocket-proxy/wsproxy"
)

type RegisterHandlersFunc func(mux *runtime.ServeMux, prefix string) error

// NewHTTPHandler builds api http handler with all routes registered by register.
func NewHTTPHandler(conf *Config, register RegisterHandlersFunc) (http.Handler, error) {
	mux := runtime.NewServeMux()
	err := register(mux, conf.PathPrefix)
	if err != nil {
		return nil, err
	}

	withCors := cors.New(cors.Options{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"ACCEPT", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler(mux)

	return wsproxy.WebsocketProxy(withCors), nil
}

func GRPCGateway(conf *Config, handler http.Handler) (start func(context.Context) error, stop func(context.Context) error) {
	srv := &http.Server{Addr: fmt.Sprintf("0.0.0.0:%d", conf.HttpPort)}
	srv.Handler = handler

	start = func(ctx context.Context) error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	stop = func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}
	return
}
