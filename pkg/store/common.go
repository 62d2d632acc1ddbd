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
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	CKeyPartsDelimiter = ":"
	CWildcardSelector  = "*"
)

type ErrorCollector func() error

type ValueCollector[V any] func() (V, error)

// OperationStatus is a deferred result of a command queued to a pipeline.
// Get must be called after the pipeline was executed.
type OperationStatus interface {
	Get() error
}

type OperationResult[T any] interface {
	Get() (T, error)
}

type RedisOperationStatus struct {
	collect ErrorCollector
}

func NewRedisOperationStatus(collect ErrorCollector) *RedisOperationStatus {
	return &RedisOperationStatus{collect: collect}
}

func (r *RedisOperationStatus) Get() error {
	if err := r.collect(); err != nil {
		return fmt.Errorf("unable to collect result: %w", err)
	}
	return nil
}

type RedisOperationResult[T any] struct {
	collect ValueCollector[T]
}

func NewRedisOperationResult[T any](collect ValueCollector[T]) *RedisOperationResult[T] {
	return &RedisOperationResult[T]{collect: collect}
}

func (r *RedisOperationResult[T]) Get() (T, error) {
	result, err := r.collect()
	if err != nil {
		var noVal T
		return noVal, fmt.Errorf("unable to collect result: %w", err)
	}
	return result, nil
}

func NewRedisFailedOperationStatus(err error) *RedisOperationStatus {
	return NewRedisOperationStatus(func() error {
		return fmt.Errorf("unable to create command: %w", err)
	})
}

func NewRedisFailedOperationResult[T any](err error) *RedisOperationResult[T] {
	return NewRedisOperationResult(func() (T, error) {
		var noVal T
		return noVal, fmt.Errorf("unable to create command: %w", err)
	})
}

type SingleValueConverter[F any, T any] func(F) (T, error)

type SingleToMultiValueConverter[F any, T any] func(F) ([]T, error)

func StringValueConverter(value string) (string, error) {
	return value, nil
}

func StringToSingleTokenConverter(id string) ([]string, error) {
	return []string{id}, nil
}

// HashTag wraps a key part into redis cluster hash tag braces,
// so that all keys sharing the part are stored in the same slot.
func HashTag(part string) string {
	return "{" + part + "}"
}

// StringToHashTagConverter tokenizes id as a single hash tagged key part.
func StringToHashTagConverter(id string) ([]string, error) {
	return []string{HashTag(id)}, nil
}

func convertAll[F any, T any](values []F, convert SingleValueConverter[F, T]) ([]T, error) {
	result := make([]T, 0, len(values))
	for _, value := range values {
		converted, err := convert(value)
		if err != nil {
			return nil, fmt.Errorf("unable to convert value: %w", err)
		}
		result = append(result, converted)
	}
	return result, nil
}

// RedisIDCommonStore builds keys of the form <prefix>:<id tokens...>.
type RedisIDCommonStore[ID any] struct {
	tokenizeID SingleToMultiValueConverter[ID, string]
	RedisCommonStore
}

func NewRedisIDCommonStore[ID any](client redis.Cmdable, keyPrefix string, tokenizeID SingleToMultiValueConverter[ID, string]) *RedisIDCommonStore[ID] {
	return &RedisIDCommonStore[ID]{
		tokenizeID:       tokenizeID,
		RedisCommonStore: *NewRedisCommonStore(client, keyPrefix),
	}
}

func (r *RedisIDCommonStore[ID]) withClient(client redis.Cmdable) RedisIDCommonStore[ID] {
	return RedisIDCommonStore[ID]{
		tokenizeID:       r.tokenizeID,
		RedisCommonStore: *NewRedisCommonStore(client, r.keyPrefix),
	}
}

func (r *RedisIDCommonStore[ID]) MakeKey(id ID) (string, error) {
	idTokens, err := r.tokenizeID(id)
	if err != nil {
		return "", fmt.Errorf("unable to tokenize id: %w", err)
	}
	return r.RedisCommonStore.MakeKey(idTokens...), nil
}

func (r *RedisIDCommonStore[ID]) DropOp(ctx context.Context, id ID) OperationResult[uint64] {
	key, err := r.MakeKey(id)
	if err != nil {
		return NewRedisFailedOperationResult[uint64](fmt.Errorf("unable to make key: %w", err))
	}
	cmd := r.client.Unlink(ctx, key)
	return NewRedisOperationResult(func() (uint64, error) {
		affected, err := cmd.Result()
		if err != nil {
			return 0, fmt.Errorf("unable to unlink key: %w", err)
		}
		return uint64(affected), nil
	})
}

func (r *RedisIDCommonStore[ID]) Drop(ctx context.Context, id ID) (uint64, error) {
	return r.DropOp(ctx, id).Get()
}

type RedisCommonStore struct {
	keyPrefix string
	client    redis.Cmdable
}

func NewRedisCommonStore(client redis.Cmdable, keyPrefix string) *RedisCommonStore {
	return &RedisCommonStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisCommonStore) Client() redis.Cmdable {
	return r.client
}

func (r *RedisCommonStore) JoinParts(keyParts ...string) string {
	return strings.Join(keyParts, CKeyPartsDelimiter)
}

func (r *RedisCommonStore) MakeKey(keyParts ...string) string {
	return r.JoinParts(append([]string{r.keyPrefix}, keyParts...)...)
}

func (r *RedisCommonStore) SplitKey(key string) []string {
	trimmedKey := strings.TrimPrefix(key, r.keyPrefix+CKeyPartsDelimiter)
	return strings.Split(trimmedKey, CKeyPartsDelimiter)
}

func (r *RedisCommonStore) MakeWildcardSelector(keyParts ...string) string {
	parts := append([]string{r.keyPrefix}, keyParts...)
	parts = append(parts, CWildcardSelector)
	return r.JoinParts(parts...)
}

func (r *RedisCommonStore) GroupExecutor() *RedisExecutor {
	return NewRedisExecutor(r.client.Pipeline())
}

func (r *RedisCommonStore) TxExecutor() *RedisExecutor {
	return NewRedisExecutor(r.client.TxPipeline())
}

type RedisExecutor struct {
	client redis.Pipeliner
}

func NewRedisExecutor(client redis.Pipeliner) *RedisExecutor {
	return &RedisExecutor{client: client}
}

func (r *RedisExecutor) Get() redis.Pipeliner {
	return r.client
}

func (r *RedisExecutor) Exec(ctx context.Context) error {
	_, err := r.client.Exec(ctx)
	if err != nil && err != redis.Nil {
		return fmt.Errorf("unable to execute command group: %w", err)
	}
	return nil
}
