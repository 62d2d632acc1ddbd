package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
	"github.com/clyso/crr/pkg/testutil"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestJournal(t *testing.T) (*Journal, *testClock) {
	t.Helper()
	client := testutil.SetupRedis(t)
	clock := newTestClock()
	return New(client, Config{PollInterval: 10 * time.Millisecond, BatchSize: 2}, WithClock(clock.Now)), clock
}

func testEntry(key string, targets ...string) entity.Entry {
	return entity.Entry{
		Source:  dom.Object{Bucket: "src", Name: key, Version: "v1"},
		Size:    3,
		Targets: targets,
	}
}

func TestAppend_Idempotent(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	j, _ := newTestJournal(t)

	id, err := j.Append(ctx, testEntry("k1", "aws", "gcp"))
	r.NoError(err)
	r.Equal(entity.NewEntryID(dom.Object{Bucket: "src", Name: "k1", Version: "v1"}), id)

	lease, err := j.Lease(ctx, id, "aws", 0, time.Minute)
	r.NoError(err)
	r.NoError(j.Complete(ctx, lease, "tv1"))

	id2, err := j.Append(ctx, testEntry("k1", "aws", "gcp"))
	r.NoError(err)
	r.Equal(id, id2)

	e, err := j.Get(ctx, id)
	r.NoError(err)
	r.Equal([]string{"aws", "gcp"}, e.Targets)
	r.Equal(entity.StateCompleted, e.States["aws"].State, "existing pair must not be reset")
	r.Equal("tv1", e.States["aws"].TargetVersion)
	r.Equal(entity.StatePending, e.States["gcp"].State)

	// new destination is added, others untouched
	_, err = j.Append(ctx, testEntry("k1", "azure"))
	r.NoError(err)
	e, err = j.Get(ctx, id)
	r.NoError(err)
	r.Equal([]string{"aws", "azure", "gcp"}, e.Targets)
	r.Equal(entity.StateCompleted, e.States["aws"].State)
	r.Equal(entity.StatePending, e.States["azure"].State)

	stats, err := j.QueueStats(ctx, "gcp")
	r.NoError(err)
	r.EqualValues(1, stats.Pending, "pair counted once")
}

func TestAppend_Invalid(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	j, _ := newTestJournal(t)

	_, err := j.Append(ctx, testEntry("k1"))
	r.ErrorIs(err, dom.ErrInvalidArg)

	e := testEntry("k1", "aws")
	e.ID = entity.NewEntryID(dom.Object{Bucket: "other", Name: "k1"})
	_, err = j.Append(ctx, e)
	r.ErrorIs(err, dom.ErrInvalidArg)

	_, err = j.Get(ctx, entity.NewEntryID(dom.Object{Bucket: "src", Name: "nope"}))
	r.ErrorIs(err, dom.ErrNotFound)
}

func TestTransitions(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	j, clock := newTestJournal(t)

	id, err := j.Append(ctx, testEntry("k1", "aws"))
	r.NoError(err)

	lease, err := j.Lease(ctx, id, "aws", 7, time.Minute)
	r.NoError(err)
	r.EqualValues(7, lease.Epoch)
	r.Zero(lease.Attempt)

	// already leased
	_, err = j.Lease(ctx, id, "aws", 7, time.Minute)
	r.ErrorIs(err, dom.ErrInvalidTransition)

	// foreign token
	err = j.Complete(ctx, entity.Lease{ID: id, Destination: "aws", Token: "other"}, "")
	r.ErrorIs(err, dom.ErrLeaseLost)

	attempts, err := j.Retry(ctx, lease, errors.New("timeout"), time.Second)
	r.NoError(err)
	r.Equal(1, attempts)

	p, err := j.Pair(ctx, id, "aws")
	r.NoError(err)
	r.Equal(entity.StatePending, p.State)
	r.Equal("timeout", p.LastError)
	r.Empty(p.LeaseToken)
	r.Equal(clock.Now().Add(time.Second).UnixMilli(), p.ReadyAt.UnixMilli())

	// backoff gate
	_, err = j.Lease(ctx, id, "aws", 7, time.Minute)
	r.ErrorIs(err, dom.ErrInvalidTransition)
	clock.Add(time.Second)
	lease, err = j.Lease(ctx, id, "aws", 8, time.Minute)
	r.NoError(err)
	r.Equal(1, lease.Attempt)

	// release does not count attempt
	r.NoError(j.Release(ctx, lease, 0))
	lease, err = j.Lease(ctx, id, "aws", 8, time.Minute)
	r.NoError(err)
	r.Equal(1, lease.Attempt)

	until, err := j.ExtendLease(ctx, id, "aws", lease.Token, time.Hour)
	r.NoError(err)
	r.Equal(clock.Now().Add(time.Hour).UnixMilli(), until.UnixMilli())
	_, err = j.ExtendLease(ctx, id, "aws", "other", time.Hour)
	r.ErrorIs(err, dom.ErrLeaseLost)

	r.NoError(j.Complete(ctx, lease, "tv"))
	p, err = j.Pair(ctx, id, "aws")
	r.NoError(err)
	r.Equal(entity.StateCompleted, p.State)
	r.Equal(clock.Now().UnixMilli(), p.CompletedAt.UnixMilli())

	// completed is terminal
	for _, to := range []entity.State{entity.StatePending, entity.StateInProgress, entity.StateFailed} {
		err = j.UpdateState(ctx, id, "aws", Transition{To: to})
		r.ErrorIs(err, dom.ErrInvalidTransition, to)
	}
	_, err = j.ExtendLease(ctx, id, "aws", lease.Token, time.Hour)
	r.ErrorIs(err, dom.ErrLeaseLost)

	err = j.UpdateState(ctx, id, "gcp", Transition{To: entity.StatePending})
	r.ErrorIs(err, dom.ErrNotFound)

	stats, err := j.QueueStats(ctx, "aws")
	r.NoError(err)
	r.Equal(QueueStats{Destination: "aws", Completed: 1}, stats)
}

func TestFailAndRetryFailed(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	j, _ := newTestJournal(t)

	id, err := j.Append(ctx, testEntry("k1", "aws", "gcp"))
	r.NoError(err)
	lease, err := j.Lease(ctx, id, "gcp", 0, time.Minute)
	r.NoError(err)
	r.NoError(j.Fail(ctx, lease, errors.New("access denied")))

	failed, err := j.ListFailed(ctx, "gcp", 10)
	r.NoError(err)
	r.Len(failed, 1)
	r.Equal(id, failed[0].ID)
	r.Equal("k1", failed[0].Source.Name)
	r.Equal("access denied", failed[0].State.LastError)
	r.Equal(1, failed[0].State.Attempts)

	st, err := j.Status(ctx, dom.Object{Bucket: "src", Name: "k1", Version: "v1"})
	r.NoError(err)
	r.Equal(entity.AggregateFailed, st.Status)
	r.Equal(entity.StatePending, st.Destinations["aws"].State, "other destination is not affected")

	// failed pair is never leased
	_, err = j.Lease(ctx, id, "gcp", 0, time.Minute)
	r.ErrorIs(err, dom.ErrInvalidTransition)

	r.NoError(j.RetryFailed(ctx, id, "gcp"))
	p, err := j.Pair(ctx, id, "gcp")
	r.NoError(err)
	r.Equal(entity.StatePending, p.State)
	r.Zero(p.Attempts)

	failed, err = j.ListFailed(ctx, "gcp", 10)
	r.NoError(err)
	r.Empty(failed)
	r.ErrorIs(j.RetryFailed(ctx, id, "gcp"), dom.ErrInvalidTransition)
}

func TestReclaimExpired(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	j, clock := newTestJournal(t)

	ids := make([]entity.EntryID, 0, 3)
	for _, k := range []string{"a", "b", "c"} {
		id, err := j.Append(ctx, testEntry(k, "aws"))
		r.NoError(err)
		ids = append(ids, id)
	}
	l1, err := j.Lease(ctx, ids[0], "aws", 0, time.Second)
	r.NoError(err)
	_, err = j.Lease(ctx, ids[1], "aws", 0, time.Second)
	r.NoError(err)
	l3, err := j.Lease(ctx, ids[2], "aws", 0, time.Second)
	r.NoError(err)
	_, err = j.ExtendLease(ctx, ids[2], "aws", l3.Token, time.Minute)
	r.NoError(err)

	n, err := j.ReclaimExpired(ctx, "aws", clock.Now())
	r.NoError(err)
	r.Zero(n)

	clock.Add(2 * time.Second)
	n, err = j.ReclaimExpired(ctx, "aws", clock.Now())
	r.NoError(err)
	r.Equal(2, n)

	p, err := j.Pair(ctx, ids[0], "aws")
	r.NoError(err)
	r.Equal(entity.StatePending, p.State)
	r.Zero(p.Attempts)
	r.ErrorIs(j.Complete(ctx, l1, ""), dom.ErrLeaseLost, "expired lease owner cannot complete")

	p, err = j.Pair(ctx, ids[2], "aws")
	r.NoError(err)
	r.Equal(entity.StateInProgress, p.State)
}

func TestRetryFailed_LeasedPair(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	j, _ := newTestJournal(t)

	id, err := j.Append(ctx, testEntry("k1", "aws"))
	r.NoError(err)
	lease, err := j.Lease(ctx, id, "aws", 0, time.Minute)
	r.NoError(err)

	r.ErrorIs(j.RetryFailed(ctx, id, "aws"), dom.ErrInvalidTransition, "only FAILED pair can be retried by operator")
	p, err := j.Pair(ctx, id, "aws")
	r.NoError(err)
	r.Equal(entity.StateInProgress, p.State)
	r.Equal(lease.Token, p.LeaseToken)

	_, err = j.Lease(ctx, id, "aws", 0, time.Minute)
	r.ErrorIs(err, dom.ErrInvalidTransition, "pair is leased once")
	r.NoError(j.Complete(ctx, lease, "tv1"))

	r.ErrorIs(j.RetryFailed(ctx, id, "aws"), dom.ErrInvalidTransition, "completed pair is terminal")
}

func TestReclaimExpired_FailedPair(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	j, clock := newTestJournal(t)

	id, err := j.Append(ctx, testEntry("k1", "aws"))
	r.NoError(err)
	lease, err := j.Lease(ctx, id, "aws", 0, time.Second)
	r.NoError(err)
	clock.Add(2 * time.Second)
	// expired lease owner records outcome before reclaim
	r.NoError(j.Fail(ctx, lease, errors.New("access denied")))

	r.ErrorIs(j.UpdateState(ctx, id, "aws", reclaimTransition(clock.Now())), dom.ErrInvalidTransition)
	n, err := j.ReclaimExpired(ctx, "aws", clock.Now())
	r.NoError(err)
	r.Zero(n)

	p, err := j.Pair(ctx, id, "aws")
	r.NoError(err)
	r.Equal(entity.StateFailed, p.State)
	r.Equal("access denied", p.LastError)
	failed, err := j.ListFailed(ctx, "aws", 10)
	r.NoError(err)
	r.Len(failed, 1)
}

func TestTransition_From(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	j, _ := newTestJournal(t)

	id, err := j.Append(ctx, testEntry("k1", "aws"))
	r.NoError(err)
	err = j.UpdateState(ctx, id, "aws", Transition{To: entity.StatePending, From: []entity.State{entity.StateCompleted}})
	r.ErrorIs(err, dom.ErrInvalidArg, "from state must be allowed by state machine")

	lease, err := j.Lease(ctx, id, "aws", 0, time.Minute)
	r.NoError(err)
	r.NoError(j.Fail(ctx, lease, errors.New("boom")))
	// default source states of PENDING include FAILED
	r.NoError(j.UpdateState(ctx, id, "aws", Transition{To: entity.StatePending}))
	// leased only transitions do not
	lease, err = j.Lease(ctx, id, "aws", 0, time.Minute)
	r.NoError(err)
	r.NoError(j.Fail(ctx, lease, errors.New("boom")))
	r.ErrorIs(j.Release(ctx, lease, 0), dom.ErrInvalidTransition)
	_, err = j.Retry(ctx, lease, errors.New("boom"), 0)
	r.ErrorIs(err, dom.ErrInvalidTransition)
}

func TestListPending(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j, clock := newTestJournal(t)

	var ids []entity.EntryID
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		id, err := j.Append(ctx, testEntry(k, "aws"))
		r.NoError(err)
		ids = append(ids, id)
		clock.Add(time.Millisecond)
	}
	// not ready yet
	futureID, err := j.Append(ctx, testEntry("future", "aws"))
	r.NoError(err)
	lease, err := j.Lease(ctx, futureID, "aws", 0, time.Minute)
	r.NoError(err)
	_, err = j.Retry(ctx, lease, errors.New("err"), time.Hour)
	r.NoError(err)

	var got []entity.EntryID
	var cursor Cursor
	for p, err := range j.ListPending(ctx, "aws", Cursor{}) {
		r.NoError(err)
		got = append(got, p.ID)
		cursor = CursorOf(p)
		if len(got) == 3 {
			break
		}
	}
	r.Equal(ids[:3], got)

	// restart from cursor
	got = nil
	for p, err := range j.ListPending(ctx, "aws", cursor) {
		r.NoError(err)
		got = append(got, p.ID)
		if len(got) == 2 {
			break
		}
	}
	r.Equal(ids[3:], got)
}

func TestListPending_Live(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j, clock := newTestJournal(t)

	first, err := j.Append(ctx, testEntry("first", "aws"))
	r.NoError(err)

	next := j.ListPending(ctx, "aws", Cursor{})
	got := make(chan entity.EntryID, 10)
	go func() {
		for p, err := range next {
			if err != nil {
				continue
			}
			got <- p.ID
		}
		close(got)
	}()
	r.Equal(first, <-got)

	clock.Add(time.Millisecond)
	second, err := j.Append(ctx, testEntry("second", "aws"))
	r.NoError(err)
	r.Equal(second, <-got)

	cancel()
	for range got {
	}
}

func TestListPending_SameScore(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j, _ := newTestJournal(t)

	// all entries share the same readyAt and exceed batch size
	want := map[entity.EntryID]bool{}
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		id, err := j.Append(ctx, testEntry(k, "aws"))
		r.NoError(err)
		want[id] = true
	}
	seen := map[entity.EntryID]bool{}
	var prev entity.EntryID
	for p, err := range j.ListPending(ctx, "aws", Cursor{}) {
		r.NoError(err)
		r.Greater(p.ID, prev, "ordered by id within same score")
		prev = p.ID
		seen[p.ID] = true
		if len(seen) == len(want) {
			break
		}
	}
	r.Equal(want, seen)
}
