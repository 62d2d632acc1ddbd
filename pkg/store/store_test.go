package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/dom"
)

type testRecord struct {
	Name  string `redis:"name"`
	Count int64  `redis:"count"`
	Skip  string `redis:"-"`
}

func setup(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	db := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	t.Cleanup(func() { client.Close() })
	return db, client
}

func TestMakeKey(t *testing.T) {
	r := require.New(t)
	s := NewRedisIDCommonStore[string](nil, "crr:pending", StringToHashTagConverter)
	key, err := s.MakeKey("aws")
	r.NoError(err)
	r.Equal("crr:pending:{aws}", key)
	r.Equal([]string{"{aws}"}, s.SplitKey(key))
	r.Equal("crr:pending:*", s.MakeWildcardSelector())
}

func TestHash(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	_, client := setup(t)
	s := NewRedisIDKeyHash[string, testRecord](client, "h", StringToSingleTokenConverter)

	_, err := s.Get(ctx, "a")
	r.ErrorIs(err, dom.ErrNotFound)

	created, err := s.SetIfAbsent(ctx, "a", testRecord{Name: "first", Count: 1, Skip: "x"})
	r.NoError(err)
	r.EqualValues(2, created)
	created, err = s.SetIfAbsent(ctx, "a", testRecord{Name: "second", Count: 2})
	r.NoError(err)
	r.Zero(created)

	got, err := s.Get(ctx, "a")
	r.NoError(err)
	r.Equal(testRecord{Name: "first", Count: 1}, got)

	n, err := s.IncrementFieldByN(ctx, "a", "count", 5)
	r.NoError(err)
	r.EqualValues(6, n)

	_, err = s.IncrementFieldByNIfExists(ctx, "missing", "count", 1)
	r.ErrorIs(err, dom.ErrNotFound)

	name, err := s.GetField(ctx, "a", "name")
	r.NoError(err)
	r.Equal("first", name)

	exec := s.GroupExecutor()
	res := s.WithExecutor(exec).GetOp(ctx, "a")
	r.NoError(exec.Exec(ctx))
	got, err = res.Get()
	r.NoError(err)
	r.EqualValues(6, got.Count)

	dropped, err := s.Drop(ctx, "a")
	r.NoError(err)
	r.EqualValues(1, dropped)
}

func TestSortedSet(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	_, client := setup(t)
	s := NewRedisIDKeySortedSet[string, string](client, "z", StringToHashTagConverter, StringValueConverter, StringValueConverter)

	_, err := s.Add(ctx, "d",
		ScoredSetEntry[string]{Value: "b", Score: 10},
		ScoredSetEntry[string]{Value: "a", Score: 10},
		ScoredSetEntry[string]{Value: "c", Score: 5},
		ScoredSetEntry[string]{Value: "d", Score: 20},
	)
	r.NoError(err)

	res, err := s.RangeByScore(ctx, "d", 0, 10, 0, 10)
	r.NoError(err)
	r.Equal([]ScoredSetEntry[string]{{"c", 5}, {"a", 10}, {"b", 10}}, res)

	res, err = s.RangeByScore(ctx, "d", 0, 100, 1, 2)
	r.NoError(err)
	r.Equal([]ScoredSetEntry[string]{{"a", 10}, {"b", 10}}, res)

	size, err := s.Size(ctx, "d")
	r.NoError(err)
	r.EqualValues(4, size)

	cnt, err := s.CountByScoreOp(ctx, "d", 10, 20).Get()
	r.NoError(err)
	r.EqualValues(3, cnt)
}

func TestSet(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	_, client := setup(t)
	s := NewRedisIDKeySet[string, string](client, "s", StringToSingleTokenConverter, StringValueConverter, StringValueConverter)

	added, err := s.Add(ctx, "id", "aws", "gcp")
	r.NoError(err)
	r.EqualValues(2, added)
	added, err = s.Add(ctx, "id", "aws", "azure")
	r.NoError(err)
	r.EqualValues(1, added)

	members, err := s.Get(ctx, "id")
	r.NoError(err)
	r.ElementsMatch([]string{"aws", "gcp", "azure"}, members)
}

func TestLocker(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	db, client := setup(t)
	locker := NewRedisIDKeyLocker[string](client, "lk", StringToSingleTokenConverter, time.Second)

	lock, err := locker.Lock(ctx, "aws", WithDuration(5*time.Second))
	r.NoError(err)

	_, err = locker.Lock(ctx, "aws")
	var rlErr *dom.ErrRateLimitExceeded
	r.ErrorAs(err, &rlErr)
	r.Positive(rlErr.RetryIn)

	// work result is returned as is
	err = lock.Do(ctx, 50*time.Millisecond, func(ctx context.Context) error {
		return dom.ErrNotFound
	})
	r.ErrorIs(err, dom.ErrNotFound)

	// lock taken over by someone else cancels work
	started := make(chan struct{})
	go func() {
		<-started
		db.Del("lk:aws")
		_ = db.Set("lk:aws", "other")
	}()
	err = lock.Do(ctx, 50*time.Millisecond, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return context.Cause(ctx)
	})
	r.True(errors.Is(err, dom.ErrLeaseLost))

	lock.Release(ctx)
	val, err := client.Get(ctx, "lk:aws").Result()
	r.NoError(err)
	r.Equal("other", val, "release must not remove foreign lock")
}
