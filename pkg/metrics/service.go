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
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	xctx "github.com/clyso/crr/pkg/ctx"
)

var countRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storage_requests_total",
		Help: "Number of api calls to storage.",
	},
	[]string{"flow", "storage", "method"},
)

var bytesUpload = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crr_destination_bytes_uploaded_total",
		Help: "Number of bytes replicated to destination.",
	},
	[]string{"destination"},
)

var copyInProgressBytes = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "crr_copy_in_progress_bytes",
		Help: "Size of objects currently copied by worker.",
	},
	[]string{"destination"},
)

var ingestedEntries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crr_ingested_entries_total",
		Help: "Number of source writes accepted by the ingestion listener.",
	},
	[]string{"bucket", "result"},
)

var dispatchedLeases = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crr_dispatched_total",
		Help: "Number of leased pairs handed to the worker pool.",
	},
	[]string{"destination"},
)

var attemptResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crr_attempts_total",
		Help: "Replication attempt outcomes per destination.",
	},
	[]string{"destination", "result"},
)

var controllerPaused = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "crr_controller_paused",
		Help: "1 if replication is paused.",
	},
)

var controllerEpoch = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "crr_controller_epoch",
		Help: "Current controller epoch.",
	},
)

const (
	ResultCompleted   = "completed"
	ResultRetry       = "retry"
	ResultFailed      = "failed"
	ResultRateLimited = "rate_limited"
	ResultLeaseLost   = "lease_lost"
	ResultSkipped     = "skipped"
	ResultCreated     = "created"
	ResultError       = "error"
)

type Service interface {
	Count(flow xctx.Flow, storage string, method string)
	Upload(destination string, bytes int64)
	Ingested(bucket, result string)
	Dispatched(destination string)
	Attempt(destination, result string)
	ControllerState(paused bool, epoch uint64)
}

type WorkerService interface {
	WorkerInProgressBytesInc(ctx context.Context, bytes int64)
	WorkerInProgressBytesDec(ctx context.Context, bytes int64)
}

func NewService(enabled bool) *svc {
	return &svc{enabled: enabled}
}

var _ Service = &svc{}
var _ WorkerService = &svc{}

type svc struct {
	enabled bool
}

func (s svc) WorkerInProgressBytesInc(ctx context.Context, bytes int64) {
	if !s.enabled {
		return
	}
	copyInProgressBytes.WithLabelValues(xctx.GetDestination(ctx)).Add(float64(bytes))
}

func (s svc) WorkerInProgressBytesDec(ctx context.Context, bytes int64) {
	if !s.enabled {
		return
	}
	copyInProgressBytes.WithLabelValues(xctx.GetDestination(ctx)).Sub(float64(bytes))
}

func (s svc) Count(flow xctx.Flow, storage string, method string) {
	if !s.enabled {
		return
	}
	countRequests.With(prometheus.Labels{
		"flow":    string(flow),
		"storage": storage,
		"method":  method}).Inc()
}

func (s svc) Upload(destination string, bytes int64) {
	if !s.enabled {
		return
	}
	bytesUpload.WithLabelValues(destination).Add(float64(bytes))
}

func (s svc) Ingested(bucket, result string) {
	if !s.enabled {
		return
	}
	ingestedEntries.WithLabelValues(bucket, result).Inc()
}

func (s svc) Dispatched(destination string) {
	if !s.enabled {
		return
	}
	dispatchedLeases.WithLabelValues(destination).Inc()
}

func (s svc) Attempt(destination, result string) {
	if !s.enabled {
		return
	}
	attemptResults.WithLabelValues(destination, result).Inc()
}

func (s svc) ControllerState(paused bool, epoch uint64) {
	if !s.enabled {
		return
	}
	if paused {
		controllerPaused.Set(1)
	} else {
		controllerPaused.Set(0)
	}
	controllerEpoch.Set(float64(epoch))
}
