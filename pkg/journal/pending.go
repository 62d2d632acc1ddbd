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
	"iter"
	"time"

	"github.com/clyso/crr/pkg/entity"
)

// Cursor is a position in destination pending listing.
// Pending pairs are ordered by (Score, ID) where Score is ReadyAt in ms.
type Cursor struct {
	Score int64
	ID    entity.EntryID
}

// CursorOf returns cursor positioned right after p.
func CursorOf(p entity.Pending) Cursor {
	return Cursor{Score: p.ReadyAt.UnixMilli(), ID: p.ID}
}

func (c Cursor) before(score int64, id entity.EntryID) bool {
	if score != c.Score {
		return c.Score < score
	}
	return c.ID < id
}

// ListPending returns a live view of destination pending pairs ready for
// dispatch, ordered by (ReadyAt, ID) and starting after cursor.
// When all ready pairs were listed it waits for poll interval and continues
// from the last yielded position, so the sequence ends only when ctx is done
// or consumer stops. Pairs are listed regardless of replication mode.
func (j *Journal) ListPending(ctx context.Context, dest string, after Cursor) iter.Seq2[entity.Pending, error] {
	return func(yield func(entity.Pending, error) bool) {
		cur := after
		var offset int64
		for {
			if ctx.Err() != nil {
				return
			}
			maxScore := j.now().UnixMilli()
			page, err := j.pending.RangeByScore(ctx, dest, cur.Score, maxScore, offset, j.batchSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !yield(entity.Pending{}, err) {
					return
				}
				if !j.sleep(ctx) {
					return
				}
				continue
			}
			yielded := 0
			for _, z := range page {
				if !cur.before(z.Score, z.Value) {
					continue
				}
				p := entity.Pending{ID: z.Value, ReadyAt: time.UnixMilli(z.Score)}
				if !yield(p, nil) {
					return
				}
				cur = CursorOf(p)
				yielded++
			}
			switch {
			case yielded > 0:
				offset = 0
			case int64(len(page)) == j.batchSize:
				// whole page is at or before cursor: skip it
				offset += j.batchSize
			default:
				offset = 0
				if !j.sleep(ctx) {
					return
				}
			}
		}
	}
}

func (j *Journal) sleep(ctx context.Context) bool {
	timer := time.NewTimer(j.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
