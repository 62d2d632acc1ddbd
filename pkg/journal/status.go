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

package journal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
)

type ObjectStatus struct {
	ID           entity.EntryID              `json:"id"`
	Source       dom.Object                  `json:"source"`
	Size         int64                       `json:"size"`
	CreatedAt    time.Time                   `json:"createdAt"`
	Status       entity.AggregateStatus      `json:"status"`
	Destinations map[string]entity.PairState `json:"destinations"`
}

// Status returns replication state of source object version on every destination.
func (j *Journal) Status(ctx context.Context, obj dom.Object) (ObjectStatus, error) {
	if obj.Bucket == "" || obj.Name == "" {
		return ObjectStatus{}, fmt.Errorf("%w: bucket and key are required", dom.ErrInvalidArg)
	}
	e, err := j.Get(ctx, entity.NewEntryID(obj))
	if err != nil {
		return ObjectStatus{}, err
	}
	return ObjectStatus{
		ID:           e.ID,
		Source:       e.Source,
		Size:         e.Size,
		CreatedAt:    e.CreatedAt,
		Status:       entity.Aggregate(e.States),
		Destinations: e.States,
	}, nil
}

type QueueStats struct {
	Destination string `json:"destination"`
	Pending     int64  `json:"pending"`
	InProgress  int64  `json:"inProgress"`
	Completed   int64  `json:"completed"`
	Failed      int64  `json:"failed"`
	// Ready is number of pending pairs which can be dispatched now.
	Ready uint64 `json:"ready"`
	// Leased is number of pairs currently leased by workers.
	Leased uint64 `json:"leased"`
}

func (j *Journal) QueueStats(ctx context.Context, dest string) (QueueStats, error) {
	exec := j.stats.GroupExecutor()
	statsRes := j.stats.WithExecutor(exec).GetOp(ctx, dest)
	readyRes := j.pending.WithExecutor(exec).CountByScoreOp(ctx, dest, 0, j.now().UnixMilli())
	leasedRes := j.inflight.WithExecutor(exec).SizeOp(ctx, dest)
	if err := exec.Exec(ctx); err != nil {
		return QueueStats{}, err
	}
	res := QueueStats{Destination: dest}
	stats, err := statsRes.Get()
	switch {
	case errors.Is(err, dom.ErrNotFound):
	case err != nil:
		return QueueStats{}, fmt.Errorf("unable to get destination %q stats: %w", dest, err)
	default:
		res.Pending, res.InProgress, res.Completed, res.Failed = stats.Pending, stats.InProgress, stats.Completed, stats.Failed
	}
	if res.Ready, err = readyRes.Get(); err != nil {
		return QueueStats{}, err
	}
	if res.Leased, err = leasedRes.Get(); err != nil {
		return QueueStats{}, err
	}
	return res, nil
}

type FailedPair struct {
	ID          entity.EntryID   `json:"id"`
	Source      dom.Object       `json:"source"`
	Destination string           `json:"destination"`
	FailedAt    time.Time        `json:"failedAt"`
	State       entity.PairState `json:"state"`
}

// ListFailed returns up to limit failed pairs of destination, oldest first.
func (j *Journal) ListFailed(ctx context.Context, dest string, limit int) ([]FailedPair, error) {
	if limit <= 0 {
		limit = int(j.batchSize)
	}
	failed, err := j.failed.RangeByScore(ctx, dest, 0, math.MaxInt64, 0, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("unable to list failed pairs: %w", err)
	}
	res := make([]FailedPair, 0, len(failed))
	for _, f := range failed {
		e, err := j.Get(ctx, f.Value)
		if errors.Is(err, dom.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, FailedPair{
			ID:          f.Value,
			Source:      e.Source,
			Destination: dest,
			FailedAt:    time.UnixMilli(f.Score),
			State:       e.States[dest],
		})
	}
	return res, nil
}
