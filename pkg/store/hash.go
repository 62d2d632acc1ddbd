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
	"reflect"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/clyso/crr/pkg/dom"
)

var (
	luaHIncrByEx = redis.NewScript(`if redis.call('exists',KEYS[1]) == 1 then return redis.call("hincrby", KEYS[1], ARGV[1], ARGV[2]) else return nil end`)
)

// RedisIDKeyHash stores V as a redis hash. V fields are mapped with `redis` struct tags.
type RedisIDKeyHash[ID any, V any] struct {
	RedisIDCommonStore[ID]
}

func NewRedisIDKeyHash[ID any, V any](client redis.Cmdable, keyPrefix string,
	tokenizeID SingleToMultiValueConverter[ID, string]) *RedisIDKeyHash[ID, V] {
	return &RedisIDKeyHash[ID, V]{
		*NewRedisIDCommonStore(client, keyPrefix, tokenizeID),
	}
}

func (r *RedisIDKeyHash[ID, V]) WithExecutor(exec *RedisExecutor) *RedisIDKeyHash[ID, V] {
	return &RedisIDKeyHash[ID, V]{r.withClient(exec.Get())}
}

func (r *RedisIDKeyHash[ID, V]) SetOp(ctx context.Context, id ID, value V) OperationStatus {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationStatus(fmt.Errorf("unable to make key: %w", err))
	}
	cmd := r.client.HSet(ctx, key, makeRedisFieldMap(value))
	return NewRedisOperationStatus(func() error {
		if err := cmd.Err(); err != nil {
			return fmt.Errorf("unable to set value in hash: %w", err)
		}
		return nil
	})
}

func (r *RedisIDKeyHash[ID, V]) Set(ctx context.Context, id ID, value V) error {
	return r.SetOp(ctx, id, value).Get()
}

// SetIfAbsentOp writes every tagged field of value which is not yet present in the hash.
// Existing fields are left untouched.
func (r *RedisIDKeyHash[ID, V]) SetIfAbsentOp(ctx context.Context, id ID, value V) OperationResult[uint64] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[uint64](fmt.Errorf("unable to make key: %w", err))
	}
	fields := makeRedisFieldMap(value)
	cmds := make([]*redis.BoolCmd, 0, len(fields))
	for field, fieldValue := range fields {
		if fieldValue == nil {
			continue
		}
		cmds = append(cmds, r.client.HSetNX(ctx, key, field, fieldValue))
	}
	return NewRedisOperationResult(func() (uint64, error) {
		var created uint64
		for _, cmd := range cmds {
			ok, err := cmd.Result()
			if err != nil {
				return 0, fmt.Errorf("unable to set hash field: %w", err)
			}
			if ok {
				created++
			}
		}
		return created, nil
	})
}

func (r *RedisIDKeyHash[ID, V]) SetIfAbsent(ctx context.Context, id ID, value V) (uint64, error) {
	return r.SetIfAbsentOp(ctx, id, value).Get()
}

func (r *RedisIDKeyHash[ID, V]) GetOp(ctx context.Context, id ID) OperationResult[V] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[V](fmt.Errorf("unable to make key: %w", err))
	}
	cmd := r.client.HGetAll(ctx, key)

	collectFunc := func() (V, error) {
		var value V
		if err := cmd.Err(); err != nil {
			return value, fmt.Errorf("unable to get hash map: %w", err)
		}
		if len(cmd.Val()) == 0 {
			return value, fmt.Errorf("%w: hash map not found", dom.ErrNotFound)
		}
		if err := cmd.Scan(&value); err != nil {
			return value, fmt.Errorf("unable to scan hash map: %w", err)
		}
		return value, nil
	}

	return NewRedisOperationResult(collectFunc)
}

func (r *RedisIDKeyHash[ID, V]) Get(ctx context.Context, id ID) (V, error) {
	return r.GetOp(ctx, id).Get()
}

func (r *RedisIDKeyHash[ID, V]) GetFieldOp(ctx context.Context, id ID, fieldName string) OperationResult[string] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[string](fmt.Errorf("unable to make key: %w", err))
	}
	cmd := r.client.HGet(ctx, key, fieldName)
	return NewRedisOperationResult(func() (string, error) {
		value, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %w", dom.ErrNotFound, err)
		}
		if err != nil {
			return "", fmt.Errorf("unable to get field: %w", err)
		}
		return value, nil
	})
}

func (r *RedisIDKeyHash[ID, V]) GetField(ctx context.Context, id ID, fieldName string) (string, error) {
	return r.GetFieldOp(ctx, id, fieldName).Get()
}

func (r *RedisIDKeyHash[ID, V]) IncrementFieldByNOp(ctx context.Context, id ID, fieldName string, value int64) OperationResult[int64] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[int64](fmt.Errorf("unable to make key: %w", err))
	}
	cmd := r.client.HIncrBy(ctx, key, fieldName, value)
	return NewRedisOperationResult(func() (int64, error) {
		count, err := cmd.Result()
		if err != nil {
			return 0, fmt.Errorf("unable to execute increment: %w", err)
		}
		return count, nil
	})
}

func (r *RedisIDKeyHash[ID, V]) IncrementFieldByN(ctx context.Context, id ID, fieldName string, value int64) (int64, error) {
	return r.IncrementFieldByNOp(ctx, id, fieldName, value).Get()
}

func (r *RedisIDKeyHash[ID, V]) IncrementFieldByNIfExistsOp(ctx context.Context, id ID, fieldName string, value int64) OperationResult[int64] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[int64](fmt.Errorf("unable to make key: %w", err))
	}
	cmd := luaHIncrByEx.Eval(ctx, r.client, []string{key}, fieldName, value)
	return NewRedisOperationResult(func() (int64, error) {
		result, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			return 0, fmt.Errorf("%w: %w", dom.ErrNotFound, err)
		}
		if err != nil {
			return 0, err
		}
		count, ok := result.(int64)
		if !ok {
			return 0, fmt.Errorf("%w: unable to cast luaHIncrByEx result %T to int64", dom.ErrInternal, result)
		}
		return count, nil
	})
}

func (r *RedisIDKeyHash[ID, V]) IncrementFieldByNIfExists(ctx context.Context, id ID, fieldName string, value int64) (int64, error) {
	return r.IncrementFieldByNIfExistsOp(ctx, id, fieldName, value).Get()
}

func makeRedisFieldMap(value any) map[string]any {
	result := map[string]any{}
	reflectValue := reflect.ValueOf(value)
	if reflectValue.Kind() == reflect.Ptr {
		reflectValue = reflectValue.Elem()
	}
	reflectType := reflectValue.Type()

	for i := range reflectType.NumField() {
		field := reflectType.Field(i)
		redisTag := field.Tag.Get("redis")
		if redisTag == "" || redisTag == "-" {
			continue
		}
		redisTag = strings.Split(redisTag, ",")[0]

		fieldValue := reflectValue.Field(i)
		if !fieldValue.CanInterface() {
			continue
		}
		if field.Type.Kind() == reflect.Ptr {
			if fieldValue.IsNil() {
				continue
			}
			result[redisTag] = fieldValue.Elem().Interface()
			continue
		}
		result[redisTag] = fieldValue.Interface()
	}
	return result
}
