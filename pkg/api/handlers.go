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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/gorilla/schema"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"github.com/clyso/crr/pkg/control"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
	"github.com/clyso/crr/pkg/journal"
	"github.com/clyso/crr/pkg/tasks"
	"github.com/clyso/crr/pkg/util"
)

const maxRetryBodySize = 1 << 20

// StatusReader is the journal read model and operator actions served by the api.
type StatusReader interface {
	Status(ctx context.Context, obj dom.Object) (journal.ObjectStatus, error)
	QueueStats(ctx context.Context, dest string) (journal.QueueStats, error)
	ListFailed(ctx context.Context, dest string, limit int) ([]journal.FailedPair, error)
	RetryFailed(ctx context.Context, id entity.EntryID, dest string) error
}

var _ StatusReader = (*journal.Journal)(nil)

type Handlers struct {
	ctrl         *control.Controller
	status       StatusReader
	queueSvc     tasks.QueueService
	destinations []string
	decoder      *schema.Decoder
}

func NewHandlers(ctrl *control.Controller, status StatusReader, queueSvc tasks.QueueService, destinations []string) *Handlers {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return &Handlers{
		ctrl:         ctrl,
		status:       status,
		queueSvc:     queueSvc,
		destinations: destinations,
		decoder:      decoder,
	}
}

// Register adds api routes to mux. Routes are also mounted under prefix if set.
func (h *Handlers) Register(mux *runtime.ServeMux, prefix string) error {
	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodPost, "/crr/pause", h.Pause},
		{http.MethodPost, "/crr/resume", h.Resume},
		{http.MethodGet, "/crr/mode", h.Mode},
		{http.MethodGet, "/crr/status", h.Status},
		{http.MethodGet, "/crr/queues", h.Queues},
		{http.MethodGet, "/crr/failed", h.Failed},
		{http.MethodPost, "/crr/failed/retry", h.RetryFailed},
	}
	prefixes := []string{""}
	if prefix != "" {
		prefixes = append(prefixes, prefix)
	}
	for _, p := range prefixes {
		for _, r := range routes {
			handler := r.handler
			err := mux.HandlePath(r.method, p+r.path, func(w http.ResponseWriter, req *http.Request, _ map[string]string) {
				handler(w, req)
			})
			if err != nil {
				return fmt.Errorf("unable to register route %s %s: %w", r.method, p+r.path, err)
			}
		}
	}
	return nil
}

type statusResponse struct {
	Status string `json:"status"`
}

func (h *Handlers) Pause(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	ack, err := h.ctrl.Pause(ctx)
	if err != nil {
		util.WriteError(ctx, w, err)
		return
	}
	zerolog.Ctx(ctx).Info().Bool("changed", ack.Changed).Uint64("epoch", ack.Epoch).Msg("replication paused by operator")
	util.WriteJSON(ctx, w, http.StatusOK, statusResponse{Status: "paused"})
}

func (h *Handlers) Resume(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	ack, err := h.ctrl.Resume(ctx)
	if err != nil {
		util.WriteError(ctx, w, err)
		return
	}
	zerolog.Ctx(ctx).Info().Bool("changed", ack.Changed).Uint64("epoch", ack.Epoch).Msg("replication resumed by operator")
	util.WriteJSON(ctx, w, http.StatusOK, statusResponse{Status: "resumed"})
}

func (h *Handlers) Mode(w http.ResponseWriter, req *http.Request) {
	util.WriteJSON(req.Context(), w, http.StatusOK, h.ctrl.CurrentMode())
}

type statusQuery struct {
	Bucket    string `schema:"bucket,required"`
	Key       string `schema:"key,required"`
	VersionID string `schema:"versionId"`
}

func (h *Handlers) Status(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	var q statusQuery
	if err := h.decode(&q, req); err != nil {
		util.WriteError(ctx, w, err)
		return
	}
	res, err := h.status.Status(ctx, dom.Object{Bucket: q.Bucket, Name: q.Key, Version: q.VersionID})
	if err != nil {
		util.WriteError(ctx, w, err)
		return
	}
	util.WriteJSON(ctx, w, http.StatusOK, res)
}

type QueueInfo struct {
	journal.QueueStats
	Queue *tasks.QueueStats `json:"queue,omitempty"`
}

func (h *Handlers) Queues(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	res := make([]QueueInfo, 0, len(h.destinations))
	for _, dest := range h.destinations {
		stats, err := h.status.QueueStats(ctx, dest)
		if err != nil {
			util.WriteError(ctx, w, err)
			return
		}
		info := QueueInfo{QueueStats: stats}
		queueStats, err := h.queueSvc.Stats(ctx, tasks.QueueName(dest))
		switch {
		case err == nil:
			info.Queue = queueStats
		case errors.Is(err, dom.ErrNotFound):
			// queue is created on first enqueue
		default:
			util.WriteError(ctx, w, err)
			return
		}
		res = append(res, info)
	}
	util.WriteJSON(ctx, w, http.StatusOK, res)
}

type failedQuery struct {
	Destination string `schema:"destination,required"`
	Limit       int    `schema:"limit"`
}

func (h *Handlers) Failed(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	var q failedQuery
	if err := h.decode(&q, req); err != nil {
		util.WriteError(ctx, w, err)
		return
	}
	if err := h.checkDestination(q.Destination); err != nil {
		util.WriteError(ctx, w, err)
		return
	}
	if q.Limit < 0 {
		util.WriteError(ctx, w, fmt.Errorf("%w: limit must not be negative", dom.ErrInvalidArg))
		return
	}
	res, err := h.status.ListFailed(ctx, q.Destination, q.Limit)
	if err != nil {
		util.WriteError(ctx, w, err)
		return
	}
	util.WriteJSON(ctx, w, http.StatusOK, res)
}

type RetryRequest struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	VersionID   string `json:"versionId"`
	Destination string `json:"destination"`
}

type RetryResponse struct {
	Retried int `json:"retried"`
	// Skipped pairs were not found or are not FAILED.
	Skipped int `json:"skipped"`
}

func (h *Handlers) RetryFailed(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRetryBodySize))
	if err != nil {
		util.WriteError(ctx, w, fmt.Errorf("%w: unable to read body: %w", dom.ErrInvalidArg, err))
		return
	}
	var items []RetryRequest
	if err = json.Unmarshal(body, &items); err != nil {
		util.WriteError(ctx, w, fmt.Errorf("%w: malformed retry request: %w", dom.ErrInvalidArg, err))
		return
	}
	for _, it := range items {
		if it.Bucket == "" || it.Key == "" {
			util.WriteError(ctx, w, fmt.Errorf("%w: bucket and key are required", dom.ErrInvalidArg))
			return
		}
		if err = h.checkDestination(it.Destination); err != nil {
			util.WriteError(ctx, w, err)
			return
		}
	}
	var res RetryResponse
	for _, it := range items {
		obj := dom.Object{Bucket: it.Bucket, Name: it.Key, Version: it.VersionID}
		err = h.status.RetryFailed(ctx, entity.NewEntryID(obj), it.Destination)
		switch {
		case err == nil:
			res.Retried++
		case errors.Is(err, dom.ErrNotFound), errors.Is(err, dom.ErrInvalidTransition):
			zerolog.Ctx(ctx).Debug().Err(err).Stringer("object", obj).Str("destination", it.Destination).Msg("skip retry")
			res.Skipped++
		default:
			util.WriteError(ctx, w, err)
			return
		}
	}
	util.WriteJSON(ctx, w, http.StatusOK, res)
}

func (h *Handlers) decode(dst any, req *http.Request) error {
	if err := h.decoder.Decode(dst, req.URL.Query()); err != nil {
		return fmt.Errorf("%w: %w", dom.ErrInvalidArg, err)
	}
	return nil
}

func (h *Handlers) checkDestination(dest string) error {
	if dest == "" {
		return fmt.Errorf("%w: destination is required", dom.ErrInvalidArg)
	}
	if !slices.Contains(h.destinations, dest) {
		return fmt.Errorf("%w: unknown destination %q", dom.ErrNotFound, dest)
	}
	return nil
}
