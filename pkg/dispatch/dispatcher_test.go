package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/control"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
	"github.com/clyso/crr/pkg/journal"
	"github.com/clyso/crr/pkg/metrics"
	"github.com/clyso/crr/pkg/tasks"
	"github.com/clyso/crr/pkg/testutil"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

func testConfig() Config {
	c := Config{
		LeaseTTL:       time.Minute,
		RescanInterval: 200 * time.Millisecond,
		LockTTL:        time.Second,
		InFlightPoll:   10 * time.Millisecond,
	}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	c.EnqueueRetryDelay = 50 * time.Millisecond
	return c
}

type env struct {
	client  redis.UniversalClient
	journal *journal.Journal
	ctrl    *control.Controller
	queue   *tasks.QueueServiceMock
}

func setup(t *testing.T, ctrlConf control.Config) *env {
	t.Helper()
	client := testutil.SetupRedis(t)
	ctrl := control.New(ctrlConf, metrics.NewService(false))
	t.Cleanup(ctrl.Close)
	return &env{
		client:  client,
		journal: journal.New(client, journal.Config{PollInterval: 10 * time.Millisecond, BatchSize: 2}),
		ctrl:    ctrl,
		queue:   tasks.NewQueueServiceMock(),
	}
}

func (e *env) start(t *testing.T, conf Config, dest ...string) {
	t.Helper()
	d := New(conf, e.client, e.journal, e.ctrl, e.queue, metrics.NewService(false))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx, dest)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("dispatcher did not stop")
		}
	})
}

func (e *env) append(t *testing.T, key string, targets ...string) entity.EntryID {
	t.Helper()
	id, err := e.journal.Append(context.Background(), entity.Entry{
		Source:  dom.Object{Bucket: "src", Name: key, Version: "v1"},
		Size:    1,
		Targets: targets,
	})
	require.NoError(t, err)
	return id
}

func (e *env) state(t *testing.T, id entity.EntryID, dest string) entity.PairState {
	t.Helper()
	p, err := e.journal.Pair(context.Background(), id, dest)
	require.NoError(t, err)
	return p
}

func TestDispatch_Running(t *testing.T) {
	r := require.New(t)
	e := setup(t, control.Config{})
	ids := []entity.EntryID{
		e.append(t, "k1", "aws", "gcp"),
		e.append(t, "k2", "aws"),
		e.append(t, "k3", "aws"),
	}
	e.start(t, testConfig(), "aws", "gcp")

	r.Eventually(func() bool {
		return e.queue.Len(tasks.QueueName("aws")) == 3 && e.queue.Len(tasks.QueueName("gcp")) == 1
	}, waitFor, tick)

	for _, a := range e.queue.Take(tasks.QueueName("aws")) {
		r.Equal("aws", a.Destination)
		r.Contains(ids, a.EntryID)
		p := e.state(t, a.EntryID, "aws")
		r.Equal(entity.StateInProgress, p.State)
		r.Equal(a.LeaseToken, p.LeaseToken)
	}

	// entries appended later are picked up by the live listing
	id := e.append(t, "k4", "gcp")
	r.Eventually(func() bool {
		return e.queue.Len(tasks.QueueName("gcp")) == 2
	}, waitFor, tick)
	r.Equal(entity.StateInProgress, e.state(t, id, "gcp").State)
}

func TestDispatch_Paused(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	e := setup(t, control.Config{StartPaused: true})
	e.start(t, testConfig(), "aws")

	id := e.append(t, "k1", "aws")
	time.Sleep(300 * time.Millisecond)
	r.Zero(e.queue.Len(tasks.QueueName("aws")))
	r.Equal(entity.StatePending, e.state(t, id, "aws").State)

	ack, err := e.ctrl.Resume(ctx)
	r.NoError(err)
	r.Eventually(func() bool {
		return e.queue.Len(tasks.QueueName("aws")) == 1
	}, waitFor, tick)
	attempts := e.queue.Take(tasks.QueueName("aws"))
	r.Equal(ack.Epoch, attempts[0].Epoch)

	_, err = e.ctrl.Pause(ctx)
	r.NoError(err)
	id2 := e.append(t, "k2", "aws")
	time.Sleep(300 * time.Millisecond)
	r.Zero(e.queue.Len(tasks.QueueName("aws")), "nothing is dispatched after pause returned")
	r.Equal(entity.StatePending, e.state(t, id2, "aws").State)

	_, err = e.ctrl.Resume(ctx)
	r.NoError(err)
	r.Eventually(func() bool {
		return e.queue.Len(tasks.QueueName("aws")) == 1
	}, waitFor, tick)
}

func TestDispatch_EnqueueFailure(t *testing.T) {
	r := require.New(t)
	e := setup(t, control.Config{})
	e.queue.SetEnqueueErr(errors.New("queue is down"))
	id := e.append(t, "k1", "aws")
	e.start(t, testConfig(), "aws")

	time.Sleep(200 * time.Millisecond)
	p := e.state(t, id, "aws")
	r.Equal(entity.StatePending, p.State, "lease released on enqueue failure")
	r.Zero(p.Attempts)

	e.queue.SetEnqueueErr(nil)
	r.Eventually(func() bool {
		return e.queue.Len(tasks.QueueName("aws")) == 1
	}, waitFor, tick)
	r.Equal(entity.StateInProgress, e.state(t, id, "aws").State)
}

func TestDispatch_MaxInFlight(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	e := setup(t, control.Config{})
	conf := testConfig()
	conf.MaxInFlight = 1
	e.append(t, "k1", "aws")
	e.append(t, "k2", "aws")
	e.start(t, conf, "aws")

	r.Eventually(func() bool {
		return e.queue.Len(tasks.QueueName("aws")) == 1
	}, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	attempts := e.queue.Take(tasks.QueueName("aws"))
	r.Len(attempts, 1)

	r.NoError(e.journal.Complete(ctx, attempts[0].Lease(), "v1"))
	r.Eventually(func() bool {
		return e.queue.Len(tasks.QueueName("aws")) == 1
	}, waitFor, tick)
}

func TestDispatch_ReclaimExpired(t *testing.T) {
	r := require.New(t)
	e := setup(t, control.Config{})
	conf := testConfig()
	conf.LeaseTTL = 100 * time.Millisecond
	id := e.append(t, "k1", "aws")
	e.start(t, conf, "aws")

	r.Eventually(func() bool {
		return e.queue.Len(tasks.QueueName("aws")) == 1
	}, waitFor, tick)
	first := e.queue.Take(tasks.QueueName("aws"))[0]

	// worker never reports back: lease expires and pair is dispatched again
	r.Eventually(func() bool {
		return e.queue.Len(tasks.QueueName("aws")) >= 1
	}, waitFor, tick)
	second := e.queue.Take(tasks.QueueName("aws"))[0]
	r.Equal(id, second.EntryID)
	r.NotEqual(first.LeaseToken, second.LeaseToken)
}

func TestDispatch_SingleOwner(t *testing.T) {
	r := require.New(t)
	e := setup(t, control.Config{})
	e.start(t, testConfig(), "aws")
	e.start(t, testConfig(), "aws")
	for _, k := range []string{"k1", "k2", "k3", "k4"} {
		e.append(t, k, "aws")
	}
	r.Eventually(func() bool {
		return e.queue.Len(tasks.QueueName("aws")) == 4
	}, waitFor, tick)
	time.Sleep(200 * time.Millisecond)
	r.Equal(4, e.queue.Len(tasks.QueueName("aws")), "every pair is dispatched once")
}

func TestDispatch_ControllerClosed(t *testing.T) {
	r := require.New(t)
	e := setup(t, control.Config{StartPaused: true})
	d := New(testConfig(), e.client, e.journal, e.ctrl, e.queue, nil)
	done := make(chan error, 1)
	go func() {
		done <- d.Run(context.Background(), []string{"aws"})
	}()
	time.Sleep(50 * time.Millisecond)
	e.ctrl.Close()
	select {
	case err := <-done:
		r.NoError(err)
	case <-time.After(waitFor):
		t.Fatal("dispatcher did not stop after controller close")
	}
}

func TestConfig_Validate(t *testing.T) {
	r := require.New(t)
	c := Config{}
	r.ErrorIs(c.Validate(), dom.ErrInvalidArg)
	c = Config{LeaseTTL: time.Second, RescanInterval: time.Second, LockTTL: time.Second}
	r.NoError(c.Validate())
	r.Equal(time.Second, c.EnqueueRetryDelay)
	r.Equal(defaultMaxInFlight, c.MaxInFlight, "leased backlog is bounded by default")
	c.MaxInFlight = -1
	r.ErrorIs(c.Validate(), dom.ErrInvalidArg)
}
