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


package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/clyso/crr/pkg/dom"
)

type RedisIDKeySet[ID any, V any] struct {
	serialize   SingleValueConverter[V, string]
	deserialize SingleValueConverter[string, V]
	RedisIDCommonStore[ID]
}

func NewRedisIDKeySet[ID any, V any](client redis.Cmdable, idPrefix string,
	tokenizeID SingleToMultiValueConverter[ID, string],
	serializeValue SingleValueConverter[V, string], deserializeValue SingleValueConverter[string, V]) *RedisIDKeySet[ID, V] {
	return &RedisIDKeySet[ID, V]{
		serialize:          serializeValue,
		deserialize:        deserializeValue,
		RedisIDCommonStore: *NewRedisIDCommonStore(client, idPrefix, tokenizeID),
	}
}

func (r *RedisIDKeySet[ID, V]) WithExecutor(exec *RedisExecutor) *RedisIDKeySet[ID, V] {
	return &RedisIDKeySet[ID, V]{
		serialize:          r.serialize,
		deserialize:        r.deserialize,
		RedisIDCommonStore: r.withClient(exec.Get()),
	}
}

func (r *RedisIDKeySet[ID, V]) GetOp(ctx context.Context, id ID) OperationResult[[]V] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[[]V](fmt.Errorf("unable to make key: %w", err))
	}
	cmd := r.client.SMembers(ctx, key)
	return NewRedisOperationResult(func() ([]V, error) {
		if err := cmd.Err(); errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %w", dom.ErrNotFound, err)
		} else if err != nil {
			return nil, fmt.Errorf("unable to get set members: %w", err)
		}
		values, err := convertAll(cmd.Val(), r.deserialize)
		if err != nil {
			return nil, fmt.Errorf("unable to deserialize result: %w", err)
		}
		return values, nil
	})
}

func (r *RedisIDKeySet[ID, V]) Get(ctx context.Context, id ID) ([]V, error) {
	return r.GetOp(ctx, id).Get()
}

func (r *RedisIDKeySet[ID, V]) AddOp(ctx context.Context, id ID, values ...V) OperationResult[uint64] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[uint64](fmt.Errorf("unable to make key: %w", err))
	}
	converted, err := convertAll(values, r.serialize)
	if err != nil {
		return NewRedisFailedOperationResult[uint64](fmt.Errorf("unable to serialize values: %w", err))
	}
	members := make([]any, len(converted))
	for i, v := range converted {
		members[i] = v
	}
	cmd := r.client.SAdd(ctx, key, members...)
	return NewRedisOperationResult(func() (uint64, error) {
		affected, err := cmd.Result()
		if err != nil {
			return 0, fmt.Errorf("unable to add values to set: %w", err)
		}
		return uint64(affected), nil
	})
}

func (r *RedisIDKeySet[ID, V]) Add(ctx context.Context, id ID, values ...V) (uint64, error) {
	return r.AddOp(ctx, id, values...).Get()
}
