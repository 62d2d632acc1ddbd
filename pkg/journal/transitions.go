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
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
)

type AttemptsChange int

const (
	AttemptsKeep AttemptsChange = iota
	AttemptsIncrement
	AttemptsReset
)

func (a AttemptsChange) arg() string {
	switch a {
	case AttemptsIncrement:
		return "1"
	case AttemptsReset:
		return "reset"
	default:
		return "0"
	}
}

// Transition describes compare-and-swap change of pair state.
type Transition struct {
	To entity.State
	// From narrows the source states accepted for the change.
	// Every state must be allowed by entity.CanTransition.
	// Defaults to entity.AllowedFrom(To).
	From []entity.State
	// LeaseToken must match the current pair lease if set.
	LeaseToken string
	// NewLeaseToken, LeaseUntil and Epoch are stored on transition to IN_PROGRESS.
	NewLeaseToken string
	LeaseUntil    time.Time
	Epoch         uint64
	// ReadyAt is stored on transition to PENDING.
	ReadyAt  time.Time
	Attempts AttemptsChange
	// LastError is stored if not nil.
	LastError     *string
	TargetVersion string
	// RequireReady rejects transition if pair ReadyAt is in the future.
	RequireReady bool
	// RequireExpired rejects transition if pair lease is not expired yet.
	RequireExpired bool
}

const (
	codeOK          = 0
	codeNotFound    = 1
	codeInvalid     = 2
	codeLeaseLost   = 3
	codeNotReady    = 4
	codeNotExpired  = 5
	scriptResultLen = 2
)

// Input:
// KEYS[1] -> pair hash
// KEYS[2] -> destination pending sorted set
// KEYS[3] -> destination stats hash
// KEYS[4] -> destination inflight sorted set
// KEYS[5] -> destination failed sorted set
// --
// ARGV[1]  -> entry id
// ARGV[2]  -> target state
// ARGV[3]  -> comma separated allowed current states
// ARGV[4]  -> required lease token or empty
// ARGV[5]  -> now ms
// ARGV[6]  -> readyAt ms
// ARGV[7]  -> leaseUntil ms
// ARGV[8]  -> new lease token
// ARGV[9]  -> epoch
// ARGV[10] -> attempts change: "0", "1" or "reset"
// ARGV[11] -> last error
// ARGV[12] -> "1" to store last error
// ARGV[13] -> target version
// ARGV[14] -> "1" to require readyAt <= now
// ARGV[15] -> "1" to require leaseUntil <= now
//
// Output:
// {code, current state or attempts}
var luaTransition = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "state")
if not cur then
	return {1, ""}
end
local allowed = false
for s in string.gmatch(ARGV[3], "[^,]+") do
	if s == cur then
		allowed = true
	end
end
if not allowed then
	return {2, cur}
end
if ARGV[4] ~= "" and redis.call("HGET", KEYS[1], "leaseToken") ~= ARGV[4] then
	return {3, cur}
end
local now = tonumber(ARGV[5])
if ARGV[14] == "1" and tonumber(redis.call("HGET", KEYS[1], "readyAt") or "0") > now then
	return {4, cur}
end
if ARGV[15] == "1" and tonumber(redis.call("HGET", KEYS[1], "leaseUntil") or "0") > now then
	return {5, cur}
end
local to = ARGV[2]
local attempts = tonumber(redis.call("HGET", KEYS[1], "attempts") or "0")
if ARGV[10] == "reset" then
	attempts = 0
else
	attempts = attempts + tonumber(ARGV[10])
end
redis.call("HSET", KEYS[1], "state", to, "attempts", attempts, "updatedAt", ARGV[5])
if ARGV[12] == "1" then
	redis.call("HSET", KEYS[1], "lastError", ARGV[11])
end
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[4], ARGV[1])
redis.call("ZREM", KEYS[5], ARGV[1])
if to == "PENDING" then
	redis.call("HSET", KEYS[1], "readyAt", ARGV[6])
	redis.call("HDEL", KEYS[1], "leaseToken", "leaseUntil")
	redis.call("ZADD", KEYS[2], ARGV[6], ARGV[1])
elseif to == "IN_PROGRESS" then
	redis.call("HSET", KEYS[1], "leaseToken", ARGV[8], "leaseUntil", ARGV[7], "epoch", ARGV[9])
	redis.call("ZADD", KEYS[4], ARGV[7], ARGV[1])
elseif to == "COMPLETED" then
	redis.call("HSET", KEYS[1], "completedAt", ARGV[5], "targetVersion", ARGV[13])
	redis.call("HDEL", KEYS[1], "leaseToken", "leaseUntil")
elseif to == "FAILED" then
	redis.call("HDEL", KEYS[1], "leaseToken", "leaseUntil")
	redis.call("ZADD", KEYS[5], ARGV[5], ARGV[1])
end
redis.call("HINCRBY", KEYS[3], cur, -1)
redis.call("HINCRBY", KEYS[3], to, 1)
return {0, tostring(attempts)}
`)

// Input:
// KEYS[1] -> pair hash
// KEYS[2] -> destination inflight sorted set
// --
// ARGV[1] -> entry id
// ARGV[2] -> lease token
// ARGV[3] -> new leaseUntil ms
var luaExtendLease = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "state")
if not cur then
	return {1, ""}
end
if cur ~= "IN_PROGRESS" then
	return {2, cur}
end
if redis.call("HGET", KEYS[1], "leaseToken") ~= ARGV[2] then
	return {3, cur}
end
redis.call("HSET", KEYS[1], "leaseUntil", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
return {0, cur}
`)

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func millisArg(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// UpdateState atomically moves pair of entry id on destination dest to t.To.
// Returns dom.ErrNotFound if pair does not exist, dom.ErrInvalidTransition
// if current state does not allow the change and dom.ErrLeaseLost if
// the lease token does not match.
func (j *Journal) UpdateState(ctx context.Context, id entity.EntryID, dest string, t Transition) error {
	_, err := j.transition(ctx, id, dest, t)
	return err
}

func (j *Journal) transition(ctx context.Context, id entity.EntryID, dest string, t Transition) (int, error) {
	allowed := t.From
	if len(allowed) == 0 {
		allowed = entity.AllowedFrom(t.To)
	}
	if len(allowed) == 0 {
		return 0, fmt.Errorf("%w: unknown target state %q", dom.ErrInvalidArg, t.To)
	}
	for _, s := range allowed {
		if !entity.CanTransition(s, t.To) {
			return 0, fmt.Errorf("%w: transition %s -> %s is not allowed", dom.ErrInvalidArg, s, t.To)
		}
	}
	keys, err := j.pairKeys(dest, id)
	if err != nil {
		return 0, err
	}
	from := make([]string, len(allowed))
	for i, s := range allowed {
		from[i] = string(s)
	}
	var lastErr string
	if t.LastError != nil {
		lastErr = *t.LastError
	}
	res, err := luaTransition.Run(ctx, j.client, keys, string(id),
		string(t.To),
		strings.Join(from, ","),
		t.LeaseToken,
		j.now().UnixMilli(),
		millisArg(t.ReadyAt),
		millisArg(t.LeaseUntil),
		t.NewLeaseToken,
		t.Epoch,
		t.Attempts.arg(),
		lastErr,
		boolArg(t.LastError != nil),
		t.TargetVersion,
		boolArg(t.RequireReady),
		boolArg(t.RequireExpired),
	).Slice()
	if err != nil {
		return 0, fmt.Errorf("unable to update pair %s/%s state: %w", id, dest, err)
	}
	code, val, err := parseScriptResult(res)
	if err != nil {
		return 0, err
	}
	switch code {
	case codeOK:
		attempts, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%w: unable to parse attempts %q", dom.ErrInternal, val)
		}
		return attempts, nil
	case codeNotFound:
		return 0, fmt.Errorf("%w: pair %s/%s", dom.ErrNotFound, id, dest)
	case codeInvalid:
		return 0, fmt.Errorf("%w: pair %s/%s is %s, cannot move to %s", dom.ErrInvalidTransition, id, dest, val, t.To)
	case codeLeaseLost:
		return 0, fmt.Errorf("%w: pair %s/%s", dom.ErrLeaseLost, id, dest)
	case codeNotReady:
		return 0, fmt.Errorf("%w: pair %s/%s is not ready yet", dom.ErrInvalidTransition, id, dest)
	case codeNotExpired:
		return 0, fmt.Errorf("%w: pair %s/%s lease is not expired", dom.ErrInvalidTransition, id, dest)
	}
	return 0, fmt.Errorf("%w: unknown transition result code %d", dom.ErrInternal, code)
}

func parseScriptResult(res []any) (int64, string, error) {
	if len(res) != scriptResultLen {
		return 0, "", fmt.Errorf("%w: unexpected script result %v", dom.ErrInternal, res)
	}
	code, ok := res[0].(int64)
	if !ok {
		return 0, "", fmt.Errorf("%w: unable to cast script code %T to int64", dom.ErrInternal, res[0])
	}
	val, _ := res[1].(string)
	return code, val, nil
}

// leasedOnly restricts transitions back to PENDING to leased pairs.
// FAILED pairs leave FAILED only through RetryFailed.
var leasedOnly = []entity.State{entity.StateInProgress}

// Lease moves a ready PENDING pair to IN_PROGRESS and grants exclusive
// ownership until ttl expires.
func (j *Journal) Lease(ctx context.Context, id entity.EntryID, dest string, epoch uint64, ttl time.Duration) (entity.Lease, error) {
	token := xid.New().String()
	until := j.now().Add(ttl)
	attempts, err := j.transition(ctx, id, dest, Transition{
		To:            entity.StateInProgress,
		NewLeaseToken: token,
		LeaseUntil:    until,
		Epoch:         epoch,
		RequireReady:  true,
	})
	if err != nil {
		return entity.Lease{}, err
	}
	return entity.Lease{
		ID:          id,
		Destination: dest,
		Token:       token,
		Epoch:       epoch,
		Until:       until,
		Attempt:     attempts,
	}, nil
}

// ExtendLease prolongs lease held with token.
func (j *Journal) ExtendLease(ctx context.Context, id entity.EntryID, dest, token string, ttl time.Duration) (time.Time, error) {
	keys, err := j.pairKeys(dest, id)
	if err != nil {
		return time.Time{}, err
	}
	until := j.now().Add(ttl)
	res, err := luaExtendLease.Run(ctx, j.client, []string{keys[0], keys[3]}, string(id), token, until.UnixMilli()).Slice()
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to extend lease %s/%s: %w", id, dest, err)
	}
	code, val, err := parseScriptResult(res)
	if err != nil {
		return time.Time{}, err
	}
	switch code {
	case codeOK:
		return until, nil
	case codeNotFound:
		return time.Time{}, fmt.Errorf("%w: pair %s/%s", dom.ErrNotFound, id, dest)
	case codeInvalid:
		return time.Time{}, fmt.Errorf("%w: pair %s/%s is %s", dom.ErrLeaseLost, id, dest, val)
	default:
		return time.Time{}, fmt.Errorf("%w: pair %s/%s", dom.ErrLeaseLost, id, dest)
	}
}

// Complete marks leased pair as replicated.
func (j *Journal) Complete(ctx context.Context, l entity.Lease, targetVersion string) error {
	return j.UpdateState(ctx, l.ID, l.Destination, Transition{
		To:            entity.StateCompleted,
		LeaseToken:    l.Token,
		TargetVersion: targetVersion,
	})
}

// Retry returns leased pair to PENDING after failed attempt.
// Pair becomes ready for dispatch after delay.
// Returns number of attempts made so far.
func (j *Journal) Retry(ctx context.Context, l entity.Lease, cause error, delay time.Duration) (int, error) {
	msg := errMessage(cause)
	return j.transition(ctx, l.ID, l.Destination, Transition{
		To:         entity.StatePending,
		From:       leasedOnly,
		LeaseToken: l.Token,
		ReadyAt:    j.now().Add(delay),
		Attempts:   AttemptsIncrement,
		LastError:  &msg,
	})
}

// Release returns leased pair to PENDING without counting an attempt.
func (j *Journal) Release(ctx context.Context, l entity.Lease, delay time.Duration) error {
	return j.UpdateState(ctx, l.ID, l.Destination, Transition{
		To:         entity.StatePending,
		From:       leasedOnly,
		LeaseToken: l.Token,
		ReadyAt:    j.now().Add(delay),
	})
}

// Fail marks leased pair as permanently failed.
func (j *Journal) Fail(ctx context.Context, l entity.Lease, cause error) error {
	msg := errMessage(cause)
	return j.UpdateState(ctx, l.ID, l.Destination, Transition{
		To:         entity.StateFailed,
		LeaseToken: l.Token,
		Attempts:   AttemptsIncrement,
		LastError:  &msg,
	})
}

// RetryFailed is an operator action moving FAILED pair back to PENDING
// with attempts counter reset.
func (j *Journal) RetryFailed(ctx context.Context, id entity.EntryID, dest string) error {
	return j.UpdateState(ctx, id, dest, Transition{
		To:       entity.StatePending,
		From:     []entity.State{entity.StateFailed},
		ReadyAt:  j.now(),
		Attempts: AttemptsReset,
	})
}

// ReclaimExpired returns pairs with expired leases back to PENDING.
// Attempt is not counted because its outcome is unknown.
func (j *Journal) ReclaimExpired(ctx context.Context, dest string, now time.Time) (int, error) {
	reclaimed := 0
	var offset int64
	for {
		expired, err := j.inflight.RangeByScore(ctx, dest, 0, now.UnixMilli(), offset, j.batchSize)
		if err != nil {
			return reclaimed, fmt.Errorf("unable to list expired leases: %w", err)
		}
		for _, e := range expired {
			err = j.UpdateState(ctx, e.Value, dest, reclaimTransition(now))
			switch {
			case err == nil:
				reclaimed++
			case errors.Is(err, dom.ErrInvalidTransition), errors.Is(err, dom.ErrNotFound):
				// lease was extended or finished concurrently
				offset++
			default:
				return reclaimed, err
			}
		}
		if int64(len(expired)) < j.batchSize {
			return reclaimed, nil
		}
	}
}

// reclaimTransition returns IN_PROGRESS pair with lease expired before now to PENDING.
func reclaimTransition(now time.Time) Transition {
	msg := "lease expired"
	return Transition{
		To:             entity.StatePending,
		From:           leasedOnly,
		ReadyAt:        now,
		LastError:      &msg,
		RequireExpired: true,
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
