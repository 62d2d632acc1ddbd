package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/backend/mem"
	"github.com/clyso/crr/pkg/backend/registry"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
	"github.com/clyso/crr/pkg/journal"
	"github.com/clyso/crr/pkg/metrics"
	"github.com/clyso/crr/pkg/ratelimit"
	"github.com/clyso/crr/pkg/source"
	"github.com/clyso/crr/pkg/tasks"
	"github.com/clyso/crr/pkg/testutil"
)

type memSource struct {
	mu      sync.Mutex
	objects map[dom.Object][]byte
}

func (m *memSource) put(obj dom.Object, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj] = data
}

func (m *memSource) Open(_ context.Context, obj dom.Object) (io.ReadCloser, source.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[obj]
	if !ok {
		return nil, source.Info{}, dom.Fatal(fmt.Errorf("%w: source object %s", dom.ErrNotFound, obj))
	}
	return io.NopCloser(bytes.NewReader(data)), source.Info{
		Size:      int64(len(data)),
		ETag:      `"etag-` + obj.Name + `"`,
		VersionID: obj.Version,
		Metadata:  map[string]string{"Color": "blue"},
	}, nil
}

type rpmStub struct {
	err error
}

func (r rpmStub) DestReq(context.Context, string) error {
	return r.err
}

func (r rpmStub) DestReqN(context.Context, string, int) error {
	return r.err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

type env struct {
	clock   *testClock
	journal *journal.Journal
	source  *memSource
	dests   map[string]*mem.Adapter
	limit   rpmStub
}

func testConfig() Config {
	return Config{
		MaxAttempts:         3,
		BackoffBase:         time.Second,
		BackoffMax:          time.Minute,
		LeaseTTL:            time.Minute,
		LeaseExtendInterval: 20 * time.Millisecond,
	}
}

func setup(t *testing.T) *env {
	t.Helper()
	client := testutil.SetupRedis(t)
	clock := &testClock{now: time.Now()}
	return &env{
		clock:   clock,
		journal: journal.New(client, journal.Config{PollInterval: 10 * time.Millisecond, BatchSize: 10}, journal.WithClock(clock.Now)),
		source:  &memSource{objects: map[dom.Object][]byte{}},
		dests: map[string]*mem.Adapter{
			"aws": mem.New("aws"),
			"gcp": mem.New("gcp"),
		},
	}
}

func (e *env) handler(t *testing.T, conf Config, dests map[string]Destination) *svc {
	t.Helper()
	require.NoError(t, conf.Validate())
	var opts []registry.Option
	for _, a := range e.dests {
		opts = append(opts, registry.WithAdapter(a))
	}
	metricsSvc := metrics.NewService(false)
	reg, err := registry.New(context.Background(), nil, metricsSvc, opts...)
	require.NoError(t, err)
	if dests == nil {
		dests = map[string]Destination{"aws": {}, "gcp": {}}
	}
	return New(conf, dests, e.journal, reg, e.source, e.limit, metricsSvc, metricsSvc)
}

// lease appends entry for obj and leases its pair for dest.
func (e *env) lease(t *testing.T, obj dom.Object, dest string) entity.Lease {
	t.Helper()
	ctx := context.Background()
	id, err := e.journal.Append(ctx, entity.Entry{
		Source:   obj,
		Size:     4,
		Checksum: "etag-" + obj.Name,
		Targets:  []string{"aws", "gcp"},
	})
	require.NoError(t, err)
	l, err := e.journal.Lease(ctx, id, dest, 1, time.Minute)
	require.NoError(t, err)
	return l
}

// release leases pair again once its backoff is over.
func (e *env) release(t *testing.T, l entity.Lease) entity.Lease {
	t.Helper()
	ctx := context.Background()
	p := e.pair(t, l)
	require.Equal(t, entity.StatePending, p.State)
	_, err := e.journal.Lease(ctx, l.ID, l.Destination, 1, time.Minute)
	require.ErrorIs(t, err, dom.ErrInvalidTransition, "pair is not ready before backoff")
	e.clock.Add(p.ReadyAt.Sub(e.clock.Now()))
	l, err = e.journal.Lease(ctx, l.ID, l.Destination, 1, time.Minute)
	require.NoError(t, err)
	return l
}

func (e *env) run(t *testing.T, h *svc, l entity.Lease) {
	t.Helper()
	task, err := tasks.NewAttemptTask(context.Background(), tasks.AttemptFromLease(l))
	require.NoError(t, err)
	require.NoError(t, h.HandleAttempt(context.Background(), task))
}

func (e *env) pair(t *testing.T, l entity.Lease) entity.PairState {
	t.Helper()
	p, err := e.journal.Pair(context.Background(), l.ID, l.Destination)
	require.NoError(t, err)
	return p
}

func TestHandleAttempt_Completed(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	obj := dom.Object{Bucket: "src", Name: "dir/k1", Version: "v1"}
	e.source.put(obj, []byte("data"))
	h := e.handler(t, testConfig(), map[string]Destination{"aws": {PrefixSourceBucket: true}, "gcp": {}})

	l := e.lease(t, obj, "aws")
	e.run(t, h, l)

	p := e.pair(t, l)
	r.Equal(entity.StateCompleted, p.State)
	r.Equal("1", p.TargetVersion)
	r.False(p.CompletedAt.IsZero())
	r.Equal([]string{"src/dir/k1"}, e.dests["aws"].Keys())

	data, info, err := backend.ReadAll(context.Background(), e.dests["aws"], "src/dir/k1")
	r.NoError(err)
	r.Equal("data", string(data))
	r.Equal(ReplicationStatusReplica, info.Metadata[MetaReplicationStatus])
	r.Equal("v1", info.Metadata[MetaSourceVersionID])
	r.Equal("src", info.Metadata[MetaSourceBucket])
	r.Equal("etag-dir/k1", info.Metadata[MetaSourceETag])
	r.Equal("blue", info.Metadata["color"])

	// other destination is untouched
	gcp, err := e.journal.Pair(context.Background(), l.ID, "gcp")
	r.NoError(err)
	r.Equal(entity.StatePending, gcp.State)
	r.Empty(e.dests["gcp"].Keys())
}

func TestHandleAttempt_ReplicaExists(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	ctx := context.Background()
	obj := dom.Object{Bucket: "src", Name: "k1", Version: "v1"}
	e.source.put(obj, []byte("data"))
	_, err := e.dests["gcp"].Put(ctx, "k1", bytes.NewReader([]byte("data")), 4, backend.Metadata{
		MetaReplicationStatus: ReplicationStatusReplica,
		MetaSourceVersionID:   "v1",
	})
	r.NoError(err)
	h := e.handler(t, testConfig(), nil)

	l := e.lease(t, obj, "gcp")
	e.run(t, h, l)

	r.Equal(entity.StateCompleted, e.pair(t, l).State)
	r.Equal(1, e.dests["gcp"].Puts(), "existing replica is not uploaded again")

	// replica of other version is overwritten
	obj2 := dom.Object{Bucket: "src", Name: "k1", Version: "v2"}
	e.source.put(obj2, []byte("data"))
	l = e.lease(t, obj2, "gcp")
	e.run(t, h, l)
	p := e.pair(t, l)
	r.Equal(entity.StateCompleted, p.State)
	r.Equal("2", p.TargetVersion)
	r.Equal(2, e.dests["gcp"].Puts())
}

func TestHandleAttempt_Retryable(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	obj := dom.Object{Bucket: "src", Name: "k1", Version: "v1"}
	e.source.put(obj, []byte("data"))
	h := e.handler(t, testConfig(), nil)
	e.dests["aws"].FailNext(2, errors.New("connection reset"))

	l := e.lease(t, obj, "aws")
	e.run(t, h, l)
	p := e.pair(t, l)
	r.Equal(entity.StatePending, p.State)
	r.Equal(1, p.Attempts)
	r.Contains(p.LastError, "connection reset")
	r.Equal(e.clock.Now().Add(time.Second).UnixMilli(), p.ReadyAt.UnixMilli())

	l = e.release(t, l)
	r.Equal(1, l.Attempt)
	e.run(t, h, l)
	p = e.pair(t, l)
	r.Equal(entity.StatePending, p.State)
	r.Equal(2, p.Attempts)
	r.Equal(e.clock.Now().Add(2*time.Second).UnixMilli(), p.ReadyAt.UnixMilli(), "backoff doubles")

	l = e.release(t, l)
	e.run(t, h, l)
	p = e.pair(t, l)
	r.Equal(entity.StateCompleted, p.State)
	r.Equal(3, e.dests["aws"].Puts())
}

func TestHandleAttempt_MaxAttempts(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	obj := dom.Object{Bucket: "src", Name: "k1", Version: "v1"}
	e.source.put(obj, []byte("data"))
	conf := testConfig()
	conf.MaxAttempts = 2
	h := e.handler(t, conf, nil)
	e.dests["aws"].SetFault(errors.New("service unavailable"))

	l := e.lease(t, obj, "aws")
	e.run(t, h, l)
	r.Equal(entity.StatePending, e.pair(t, l).State)

	l = e.release(t, l)
	e.run(t, h, l)
	p := e.pair(t, l)
	r.Equal(entity.StateFailed, p.State)
	r.Equal(2, p.Attempts)
	r.Contains(p.LastError, "service unavailable")
}

func TestHandleAttempt_Fatal(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	obj := dom.Object{Bucket: "src", Name: "k1", Version: "v1"}
	e.source.put(obj, []byte("data"))
	e.dests["azure"] = mem.New("azure")
	e.dests["azure"].SetFault(fmt.Errorf("%w: access denied", dom.ErrAuth))
	h := e.handler(t, testConfig(), map[string]Destination{"aws": {}, "gcp": {}, "azure": {}})

	ctx := context.Background()
	id, err := e.journal.Append(ctx, entity.Entry{Source: obj, Size: 4, Targets: []string{"aws", "azure"}})
	r.NoError(err)
	for _, dest := range []string{"aws", "azure"} {
		l, err := e.journal.Lease(ctx, id, dest, 1, time.Minute)
		r.NoError(err)
		e.run(t, h, l)
	}

	st, err := e.journal.Status(ctx, obj)
	r.NoError(err)
	r.Equal(entity.StateCompleted, st.Destinations["aws"].State)
	r.Equal(entity.StateFailed, st.Destinations["azure"].State)
	r.Equal(1, st.Destinations["azure"].Attempts)
	r.Contains(st.Destinations["azure"].LastError, "access denied")
	r.Equal(entity.AggregateFailed, st.Status)
}

func TestHandleAttempt_SourceMissing(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	h := e.handler(t, testConfig(), nil)

	l := e.lease(t, dom.Object{Bucket: "src", Name: "gone", Version: "v1"}, "aws")
	e.run(t, h, l)
	p := e.pair(t, l)
	r.Equal(entity.StateFailed, p.State)
	r.Contains(p.LastError, dom.ErrNotFound.Error())
	r.Zero(e.dests["aws"].Puts())
}

func TestHandleAttempt_RateLimited(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	obj := dom.Object{Bucket: "src", Name: "k1", Version: "v1"}
	e.source.put(obj, []byte("data"))
	e.limit = rpmStub{err: &dom.ErrRateLimitExceeded{RetryIn: 5 * time.Second}}
	h := e.handler(t, testConfig(), nil)

	l := e.lease(t, obj, "aws")
	e.run(t, h, l)
	p := e.pair(t, l)
	r.Equal(entity.StatePending, p.State)
	r.Zero(p.Attempts, "rate limited attempt is not counted")
	r.Equal(e.clock.Now().Add(5*time.Second).UnixMilli(), p.ReadyAt.UnixMilli())
	r.Zero(e.dests["aws"].Puts())
}

func TestHandleAttempt_Semaphore(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	obj := dom.Object{Bucket: "src", Name: "k1", Version: "v1"}
	e.source.put(obj, []byte("data"))
	sem := ratelimit.LocalSemaphore(ratelimit.SemaphoreConfig{Enabled: true, Limit: 1, RetryMin: time.Second, RetryMax: time.Second}, "aws")
	h := e.handler(t, testConfig(), map[string]Destination{"aws": {Semaphore: sem}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	release, err := sem.TryAcquire(ctx)
	r.NoError(err)

	l := e.lease(t, obj, "aws")
	e.run(t, h, l)
	p := e.pair(t, l)
	r.Equal(entity.StatePending, p.State)
	r.Zero(p.Attempts)

	release()
	r.Eventually(func() bool {
		_, err := sem.TryAcquire(ctx)
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestHandleAttempt_Timeout(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	obj := dom.Object{Bucket: "src", Name: "k1", Version: "v1"}
	e.source.put(obj, []byte("data"))
	h := e.handler(t, testConfig(), map[string]Destination{"aws": {Timeout: 50 * time.Millisecond}})
	e.dests["aws"].SetPutDelay(time.Second)

	l := e.lease(t, obj, "aws")
	e.run(t, h, l)
	p := e.pair(t, l)
	r.Equal(entity.StatePending, p.State)
	r.Equal(1, p.Attempts)
	r.Contains(p.LastError, "timed out")
	r.Empty(e.dests["aws"].Keys())
}

func TestHandleAttempt_LeaseLost(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	ctx := context.Background()
	obj := dom.Object{Bucket: "src", Name: "k1", Version: "v1"}
	e.source.put(obj, []byte("data"))
	h := e.handler(t, testConfig(), nil)

	// stale token
	l := e.lease(t, obj, "aws")
	stale := l
	stale.Token = "stale"
	e.run(t, h, stale)
	r.Equal(entity.StateInProgress, e.pair(t, l).State)
	r.Zero(e.dests["aws"].Puts())

	// lease taken away while uploading
	e.dests["aws"].SetPutDelay(2 * time.Second)
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = e.journal.Release(ctx, l, 0)
	}()
	start := time.Now()
	e.run(t, h, l)
	r.Less(time.Since(start), 2*time.Second, "upload is cancelled")
	p := e.pair(t, l)
	r.Equal(entity.StatePending, p.State)
	r.Zero(p.Attempts)
	r.Empty(e.dests["aws"].Keys())

	// entry is gone
	task, err := tasks.NewAttemptTask(ctx, tasks.AttemptFromLease(entity.Lease{
		ID: entity.NewEntryID(dom.Object{Bucket: "src", Name: "nope"}), Destination: "aws", Token: "t",
	}))
	r.NoError(err)
	r.NoError(h.HandleAttempt(ctx, task))
}

func TestConfig_Validate(t *testing.T) {
	r := require.New(t)
	c := testConfig()
	r.NoError(c.Validate())
	c.MaxAttempts = 0
	r.ErrorIs(c.Validate(), dom.ErrInvalidArg)
	c = testConfig()
	c.BackoffMax = c.BackoffBase / 2
	r.ErrorIs(c.Validate(), dom.ErrInvalidArg)
	c = testConfig()
	c.LeaseExtendInterval = c.LeaseTTL
	r.ErrorIs(c.Validate(), dom.ErrInvalidArg)
}

func TestTargetKey(t *testing.T) {
	r := require.New(t)
	r.Equal("src/a/b", TargetKey("src", "a/b", true))
	r.Equal("a/b", TargetKey("src", "a/b", false))
}
