// Copyright 2025 Clyso GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/clyso/crr/pkg/dom"
)

var _ QueueService = (*QueueServiceMock)(nil)

// QueueServiceMock keeps enqueued attempts in memory.
type QueueServiceMock struct {
	mu       sync.Mutex
	Attempts map[string][]AttemptPayload
	// EnqueueErr is returned by EnqueueTask when set.
	EnqueueErr error
}

func NewQueueServiceMock() *QueueServiceMock {
	return &QueueServiceMock{Attempts: map[string][]AttemptPayload{}}
}

func (q *QueueServiceMock) SetEnqueueErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.EnqueueErr = err
}

// Take removes and returns enqueued attempts of the queue.
func (q *QueueServiceMock) Take(queue string) []AttemptPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	res := q.Attempts[queue]
	delete(q.Attempts, queue)
	return res
}

func (q *QueueServiceMock) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.Attempts[queue])
}

func (q *QueueServiceMock) UnprocessedCount(ctx context.Context, ignoreNotFound bool, queues ...string) (int, error) {
	if len(queues) == 0 {
		return 0, fmt.Errorf("%w: no queues specified", dom.ErrInvalidArg)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, queue := range queues {
		n, ok := q.Attempts[queue]
		if !ok && !ignoreNotFound {
			return 0, fmt.Errorf("%w: queue %s does not exist", dom.ErrNotFound, queue)
		}
		count += len(n)
	}
	return count, nil
}

func (q *QueueServiceMock) Delete(ctx context.Context, queueName string, force bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.Attempts[queueName]; !ok {
		return fmt.Errorf("unable to delete queue %s: %w", queueName, dom.ErrNotFound)
	}
	if len(q.Attempts[queueName]) != 0 && !force {
		return fmt.Errorf("unable to delete non-empty queue %s: %w", queueName, dom.ErrInvalidArg)
	}
	delete(q.Attempts, queueName)
	return nil
}

func (q *QueueServiceMock) Stats(ctx context.Context, queueName string) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	attempts, ok := q.Attempts[queueName]
	if !ok {
		return nil, fmt.Errorf("%w: queue %s does not exist", dom.ErrNotFound, queueName)
	}
	return &QueueStats{Unprocessed: len(attempts)}, nil
}

func (q *QueueServiceMock) EnqueueTask(ctx context.Context, task any) error {
	var p AttemptPayload
	switch t := task.(type) {
	case AttemptPayload:
		p = t
	case *AttemptPayload:
		p = *t
	default:
		return fmt.Errorf("%w: unknown task payload type %T", dom.ErrInvalidArg, task)
	}
	if err := p.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	queue := QueueName(p.Destination)
	q.Attempts[queue] = append(q.Attempts[queue], p)
	return nil
}
