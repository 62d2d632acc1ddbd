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
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

type ScoredSetEntry[V any] struct {
	Value V
	Score int64
}

// RedisIDKeySortedSet is a sorted set of V with integer scores.
type RedisIDKeySortedSet[ID any, V any] struct {
	serialize   SingleValueConverter[V, string]
	deserialize SingleValueConverter[string, V]
	RedisIDCommonStore[ID]
}

func NewRedisIDKeySortedSet[ID any, V any](client redis.Cmdable, idPrefix string,
	tokenizeID SingleToMultiValueConverter[ID, string],
	serializeValue SingleValueConverter[V, string], deserializeValue SingleValueConverter[string, V]) *RedisIDKeySortedSet[ID, V] {
	return &RedisIDKeySortedSet[ID, V]{
		serialize:          serializeValue,
		deserialize:        deserializeValue,
		RedisIDCommonStore: *NewRedisIDCommonStore(client, idPrefix, tokenizeID),
	}
}

func (r *RedisIDKeySortedSet[ID, V]) WithExecutor(exec *RedisExecutor) *RedisIDKeySortedSet[ID, V] {
	return &RedisIDKeySortedSet[ID, V]{
		serialize:          r.serialize,
		deserialize:        r.deserialize,
		RedisIDCommonStore: r.withClient(exec.Get()),
	}
}

func (r *RedisIDKeySortedSet[ID, V]) AddOp(ctx context.Context, id ID, values ...ScoredSetEntry[V]) OperationResult[uint64] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[uint64](fmt.Errorf("unable to make key: %w", err))
	}
	members := make([]redis.Z, 0, len(values))
	for _, v := range values {
		member, err := r.serialize(v.Value)
		if err != nil {
			return NewRedisFailedOperationResult[uint64](fmt.Errorf("unable to serialize value: %w", err))
		}
		members = append(members, redis.Z{Score: float64(v.Score), Member: member})
	}
	cmd := r.client.ZAdd(ctx, key, members...)
	return NewRedisOperationResult(func() (uint64, error) {
		affected, err := cmd.Result()
		if err != nil {
			return 0, fmt.Errorf("unable to add value: %w", err)
		}
		return uint64(affected), nil
	})
}

func (r *RedisIDKeySortedSet[ID, V]) Add(ctx context.Context, id ID, values ...ScoredSetEntry[V]) (uint64, error) {
	return r.AddOp(ctx, id, values...).Get()
}

// RangeByScoreOp returns up to count members with min <= score <= max
// ordered by score then member, skipping the first offset matches.
func (r *RedisIDKeySortedSet[ID, V]) RangeByScoreOp(ctx context.Context, id ID, min, max int64, offset, count int64) OperationResult[[]ScoredSetEntry[V]] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[[]ScoredSetEntry[V]](fmt.Errorf("unable to make key: %w", err))
	}
	cmd := r.client.ZRangeArgsWithScores(ctx, redis.ZRangeArgs{
		Key:     key,
		Start:   strconv.FormatInt(min, 10),
		Stop:    strconv.FormatInt(max, 10),
		ByScore: true,
		Offset:  offset,
		Count:   count,
	})
	return NewRedisOperationResult(func() ([]ScoredSetEntry[V], error) {
		res, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("unable to get range: %w", err)
		}
		entries := make([]ScoredSetEntry[V], 0, len(res))
		for _, z := range res {
			member, ok := z.Member.(string)
			if !ok {
				return nil, fmt.Errorf("unable to cast %+v to string", z.Member)
			}
			value, err := r.deserialize(member)
			if err != nil {
				return nil, fmt.Errorf("unable to deserialize value: %w", err)
			}
			entries = append(entries, ScoredSetEntry[V]{Value: value, Score: int64(z.Score)})
		}
		return entries, nil
	})
}

func (r *RedisIDKeySortedSet[ID, V]) RangeByScore(ctx context.Context, id ID, min, max int64, offset, count int64) ([]ScoredSetEntry[V], error) {
	return r.RangeByScoreOp(ctx, id, min, max, offset, count).Get()
}

func (r *RedisIDKeySortedSet[ID, V]) CountByScoreOp(ctx context.Context, id ID, min, max int64) OperationResult[uint64] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[uint64](fmt.Errorf("unable to make key: %w", err))
	}
	cmd := r.client.ZCount(ctx, key, strconv.FormatInt(min, 10), strconv.FormatInt(max, 10))
	return NewRedisOperationResult(func() (uint64, error) {
		n, err := cmd.Result()
		if err != nil {
			return 0, fmt.Errorf("unable to count range: %w", err)
		}
		return uint64(n), nil
	})
}

func (r *RedisIDKeySortedSet[ID, V]) SizeOp(ctx context.Context, id ID) OperationResult[uint64] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[uint64](fmt.Errorf("unable to make key: %w", err))
	}
	cmd := r.client.ZCard(ctx, key)
	return NewRedisOperationResult(func() (uint64, error) {
		size, err := cmd.Result()
		if err != nil {
			return 0, fmt.Errorf("unable to get cardinality: %w", err)
		}
		return uint64(size), nil
	})
}

func (r *RedisIDKeySortedSet[ID, V]) Size(ctx context.Context, id ID) (uint64, error) {
	return r.SizeOp(ctx, id).Get()
}
