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

package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func NewResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

var apiRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crr_api_requests_total",
		Help: "Number of requests to crr http api.",
	},
	[]string{"method", "status"},
)

var apiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "crr_api_response_time_seconds",
	Help:    "Duration of crr http api requests.",
	Buckets: prometheus.DefBuckets,
}, []string{"method"})

var agentRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agent_requests_total",
		Help: "Number of notifications received by crr agent.",
	},
	[]string{"status"},
)

// ApiMiddleware counts control and status API calls.
func ApiMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(apiDuration.WithLabelValues(r.Method))
		rw := NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		apiRequests.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
		timer.ObserveDuration()
	})
}

func AgentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := NewResponseWriter(w)
		next.ServeHTTP(rw, r)
		agentRequests.WithLabelValues(strconv.Itoa(rw.statusCode)).Inc()
	})
}
