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
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
	"github.com/clyso/crr/pkg/store"
)

const (
	keyPrefix = "crr"

	defaultPollInterval = time.Second
	defaultBatchSize    = 100
)

type Config struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
}

// Journal is the redis backed system of record of replication entries.
//
// Key layout:
//
//	crr:e:<id>              hash: immutable entry fields
//	crr:t:<id>              set: entry destinations
//	crr:p:{<dest>}:<id>     hash: pair state
//	crr:pending:{<dest>}    sorted set: <id> scored by readyAt ms
//	crr:inflight:{<dest>}   sorted set: <id> scored by leaseUntil ms
//	crr:failed:{<dest>}     sorted set: <id> scored by failure time ms
//	crr:stats:{<dest>}      hash: pair count per state
//
// All keys of one destination share a hash tag, so every pair mutation
// is a single script call on a single cluster slot.
type Journal struct {
	client   redis.UniversalClient
	entries  *store.RedisIDKeyHash[entity.EntryID, entryRecord]
	targets  *store.RedisIDKeySet[entity.EntryID, string]
	pairs    *store.RedisIDKeyHash[pairID, pairRecord]
	pending  *store.RedisIDKeySortedSet[string, entity.EntryID]
	inflight *store.RedisIDKeySortedSet[string, entity.EntryID]
	failed   *store.RedisIDKeySortedSet[string, entity.EntryID]
	stats    *store.RedisIDKeyHash[string, statsRecord]

	now          func() time.Time
	pollInterval time.Duration
	batchSize    int64
}

type Option func(*Journal)

// WithClock replaces time source used for readiness and lease checks.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

func New(client redis.UniversalClient, conf Config, opts ...Option) *Journal {
	j := &Journal{
		client:   client,
		entries:  store.NewRedisIDKeyHash[entity.EntryID, entryRecord](client, keyPrefix+":e", entryIDToTokens),
		targets:  store.NewRedisIDKeySet[entity.EntryID, string](client, keyPrefix+":t", entryIDToTokens, store.StringValueConverter, store.StringValueConverter),
		pairs:    store.NewRedisIDKeyHash[pairID, pairRecord](client, keyPrefix+":p", pairIDToTokens),
		pending:  store.NewRedisIDKeySortedSet[string, entity.EntryID](client, keyPrefix+":pending", store.StringToHashTagConverter, entryIDToString, stringToEntryID),
		inflight: store.NewRedisIDKeySortedSet[string, entity.EntryID](client, keyPrefix+":inflight", store.StringToHashTagConverter, entryIDToString, stringToEntryID),
		failed:   store.NewRedisIDKeySortedSet[string, entity.EntryID](client, keyPrefix+":failed", store.StringToHashTagConverter, entryIDToString, stringToEntryID),
		stats:    store.NewRedisIDKeyHash[string, statsRecord](client, keyPrefix+":stats", store.StringToHashTagConverter),

		now:          time.Now,
		pollInterval: conf.PollInterval,
		batchSize:    int64(conf.BatchSize),
	}
	if j.pollInterval <= 0 {
		j.pollInterval = defaultPollInterval
	}
	if j.batchSize <= 0 {
		j.batchSize = defaultBatchSize
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

type pairID struct {
	Destination string
	ID          entity.EntryID
}

func pairIDToTokens(id pairID) ([]string, error) {
	if id.Destination == "" {
		return nil, fmt.Errorf("%w: empty destination", dom.ErrInvalidArg)
	}
	return []string{store.HashTag(id.Destination), string(id.ID)}, nil
}

func entryIDToTokens(id entity.EntryID) ([]string, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return []string{string(id)}, nil
}

func entryIDToString(id entity.EntryID) (string, error) {
	return string(id), nil
}

func stringToEntryID(s string) (entity.EntryID, error) {
	return entity.EntryID(s), nil
}

type entryRecord struct {
	Bucket    string `redis:"bucket"`
	Name      string `redis:"name"`
	Version   string `redis:"version"`
	Size      int64  `redis:"size"`
	Checksum  string `redis:"checksum"`
	CreatedAt int64  `redis:"createdAt"`
}

type pairRecord struct {
	State         string `redis:"state"`
	Attempts      int    `redis:"attempts"`
	LastError     string `redis:"lastError"`
	ReadyAt       int64  `redis:"readyAt"`
	UpdatedAt     int64  `redis:"updatedAt"`
	CompletedAt   int64  `redis:"completedAt"`
	LeaseToken    string `redis:"leaseToken"`
	LeaseUntil    int64  `redis:"leaseUntil"`
	Epoch         uint64 `redis:"epoch"`
	TargetVersion string `redis:"targetVersion"`
}

type statsRecord struct {
	Pending    int64 `redis:"PENDING"`
	InProgress int64 `redis:"IN_PROGRESS"`
	Completed  int64 `redis:"COMPLETED"`
	Failed     int64 `redis:"FAILED"`
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (p pairRecord) toEntity() entity.PairState {
	return entity.PairState{
		State:         entity.State(p.State),
		Attempts:      p.Attempts,
		LastError:     p.LastError,
		ReadyAt:       fromMillis(p.ReadyAt),
		UpdatedAt:     fromMillis(p.UpdatedAt),
		CompletedAt:   fromMillis(p.CompletedAt),
		LeaseToken:    p.LeaseToken,
		LeaseUntil:    fromMillis(p.LeaseUntil),
		Epoch:         p.Epoch,
		TargetVersion: p.TargetVersion,
	}
}

// Input:
// KEYS[1] -> pair hash
// KEYS[2] -> destination pending sorted set
// KEYS[3] -> destination stats hash
// --
// ARGV[1] -> entry id
// ARGV[2] -> now in ms
//
// Output:
// Returns 1 if pair was created
// Returns 0 if pair already exists
var luaCreatePair = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "state", "PENDING", "attempts", 0, "readyAt", ARGV[2], "updatedAt", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
redis.call("HINCRBY", KEYS[3], "PENDING", 1)
return 1
`)

// Append upserts entry. Existing pairs are left untouched, only destinations
// not yet known for the entry are added as PENDING.
// Entry is durably written when Append returns without error.
func (j *Journal) Append(ctx context.Context, e entity.Entry) (entity.EntryID, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	id := entity.NewEntryID(e.Source)
	if e.ID != "" && e.ID != id {
		return "", fmt.Errorf("%w: entry id %s does not match source %s", dom.ErrInvalidArg, e.ID, e.Source)
	}
	now := j.now()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	exec := j.entries.GroupExecutor()
	entryRes := j.entries.WithExecutor(exec).SetIfAbsentOp(ctx, id, entryRecord{
		Bucket:    e.Source.Bucket,
		Name:      e.Source.Name,
		Version:   e.Source.Version,
		Size:      e.Size,
		Checksum:  e.Checksum,
		CreatedAt: createdAt.UnixMilli(),
	})
	targetsRes := j.targets.WithExecutor(exec).AddOp(ctx, id, e.Targets...)
	if err := exec.Exec(ctx); err != nil {
		return "", err
	}
	if _, err := entryRes.Get(); err != nil {
		return "", fmt.Errorf("unable to store entry: %w", err)
	}
	if _, err := targetsRes.Get(); err != nil {
		return "", fmt.Errorf("unable to store entry destinations: %w", err)
	}

	created := 0
	for _, dest := range e.Targets {
		keys, err := j.pairKeys(dest, id)
		if err != nil {
			return "", err
		}
		res, err := luaCreatePair.Run(ctx, j.client, keys[:3], string(id), now.UnixMilli()).Int()
		if err != nil {
			return "", fmt.Errorf("unable to create pair for destination %q: %w", dest, err)
		}
		created += res
	}
	zerolog.Ctx(ctx).Debug().Str("entry_id", id.String()).Int("created_pairs", created).Msg("journal: entry appended")
	return id, nil
}

// Get returns entry with states of all its pairs.
func (j *Journal) Get(ctx context.Context, id entity.EntryID) (entity.Entry, error) {
	exec := j.entries.GroupExecutor()
	entryRes := j.entries.WithExecutor(exec).GetOp(ctx, id)
	targetsRes := j.targets.WithExecutor(exec).GetOp(ctx, id)
	if err := exec.Exec(ctx); err != nil {
		return entity.Entry{}, err
	}
	rec, err := entryRes.Get()
	if err != nil {
		return entity.Entry{}, fmt.Errorf("unable to get entry %s: %w", id, err)
	}
	targets, err := targetsRes.Get()
	if err != nil {
		return entity.Entry{}, fmt.Errorf("unable to get entry %s destinations: %w", id, err)
	}
	slices.Sort(targets)

	exec = j.pairs.GroupExecutor()
	pairStore := j.pairs.WithExecutor(exec)
	pairRes := make([]store.OperationResult[pairRecord], len(targets))
	for i, dest := range targets {
		pairRes[i] = pairStore.GetOp(ctx, pairID{Destination: dest, ID: id})
	}
	if err := exec.Exec(ctx); err != nil {
		return entity.Entry{}, err
	}
	states := make(map[string]entity.PairState, len(targets))
	for i, dest := range targets {
		p, err := pairRes[i].Get()
		if err != nil {
			// pair is created right after the entry, it can be missing only
			// if Append was interrupted and will be created on redelivery
			zerolog.Ctx(ctx).Debug().Err(err).Str("entry_id", id.String()).Str("destination", dest).Msg("journal: pair not found")
			continue
		}
		states[dest] = p.toEntity()
	}
	return entity.Entry{
		ID:        id,
		Source:    dom.Object{Bucket: rec.Bucket, Name: rec.Name, Version: rec.Version},
		Size:      rec.Size,
		Checksum:  rec.Checksum,
		Targets:   targets,
		CreatedAt: fromMillis(rec.CreatedAt),
		States:    states,
	}, nil
}

// Pair returns state of a single (entry, destination) pair.
func (j *Journal) Pair(ctx context.Context, id entity.EntryID, dest string) (entity.PairState, error) {
	rec, err := j.pairs.Get(ctx, pairID{Destination: dest, ID: id})
	if err != nil {
		return entity.PairState{}, fmt.Errorf("unable to get pair %s/%s: %w", id, dest, err)
	}
	return rec.toEntity(), nil
}

// pairKeys returns keys touched by pair scripts:
// pair, pending, inflight, failed, stats.
func (j *Journal) pairKeys(dest string, id entity.EntryID) ([]string, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	pairKey, err := j.pairs.MakeKey(pairID{Destination: dest, ID: id})
	if err != nil {
		return nil, err
	}
	pendingKey, err := j.pending.MakeKey(dest)
	if err != nil {
		return nil, err
	}
	inflightKey, err := j.inflight.MakeKey(dest)
	if err != nil {
		return nil, err
	}
	failedKey, err := j.failed.MakeKey(dest)
	if err != nil {
		return nil, err
	}
	statsKey, err := j.stats.MakeKey(dest)
	if err != nil {
		return nil, err
	}
	// create script expects pair, pending and stats first
	return []string{pairKey, pendingKey, statsKey, inflightKey, failedKey}, nil
}
