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

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clyso/crr/pkg/control"
	xctx "github.com/clyso/crr/pkg/ctx"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
	"github.com/clyso/crr/pkg/journal"
	"github.com/clyso/crr/pkg/log"
	"github.com/clyso/crr/pkg/metrics"
	"github.com/clyso/crr/pkg/store"
	"github.com/clyso/crr/pkg/tasks"
	"github.com/clyso/crr/pkg/util"
)

const (
	lockPrefix = "crr:dispatch-lock"
	// defaultMaxInFlight bounds attempts which are already leased and
	// still run to completion after pause.
	defaultMaxInFlight = 64
)

type Config struct {
	// LeaseTTL is how long a worker owns a leased pair before it can be reclaimed.
	LeaseTTL time.Duration `yaml:"leaseTTL"`
	// MaxInFlight limits number of leased pairs per destination.
	// Defaults to 64 if not set.
	MaxInFlight       int           `yaml:"maxInFlight"`
	RescanInterval    time.Duration `yaml:"rescanInterval"`
	InFlightPoll      time.Duration `yaml:"inFlightPoll"`
	EnqueueRetryDelay time.Duration `yaml:"enqueueRetryDelay"`
	LockTTL           time.Duration `yaml:"lockTTL"`
	LockOverlap       time.Duration `yaml:"lockOverlap"`
}

func (c *Config) Validate() error {
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("%w: dispatcher leaseTTL must be positive", dom.ErrInvalidArg)
	}
	if c.MaxInFlight < 0 {
		return fmt.Errorf("%w: dispatcher maxInFlight must not be negative", dom.ErrInvalidArg)
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = defaultMaxInFlight
	}
	if c.RescanInterval <= 0 {
		return fmt.Errorf("%w: dispatcher rescanInterval must be positive", dom.ErrInvalidArg)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("%w: dispatcher lockTTL must be positive", dom.ErrInvalidArg)
	}
	if c.InFlightPoll <= 0 {
		c.InFlightPoll = 100 * time.Millisecond
	}
	if c.EnqueueRetryDelay <= 0 {
		c.EnqueueRetryDelay = time.Second
	}
	if c.LockOverlap <= 0 {
		c.LockOverlap = c.LockTTL / 2
	}
	return nil
}

// Journal is the part of the replication journal used for dispatch.
type Journal interface {
	ListPending(ctx context.Context, dest string, after journal.Cursor) iter.Seq2[entity.Pending, error]
	Lease(ctx context.Context, id entity.EntryID, dest string, epoch uint64, ttl time.Duration) (entity.Lease, error)
	Release(ctx context.Context, l entity.Lease, delay time.Duration) error
	ReclaimExpired(ctx context.Context, dest string, now time.Time) (int, error)
	QueueStats(ctx context.Context, dest string) (journal.QueueStats, error)
}

var _ Journal = (*journal.Journal)(nil)

// Dispatcher moves ready pending pairs of each destination to the
// destination work queue while replication is running.
type Dispatcher struct {
	conf       Config
	journal    Journal
	ctrl       *control.Controller
	queueSvc   tasks.QueueService
	locker     *store.RedisIDKeyLocker[string]
	metricsSvc metrics.Service
}

func New(conf Config, lockClient redis.UniversalClient, j Journal, ctrl *control.Controller, queueSvc tasks.QueueService, metricsSvc metrics.Service) *Dispatcher {
	return &Dispatcher{
		conf:       conf,
		journal:    j,
		ctrl:       ctrl,
		queueSvc:   queueSvc,
		locker:     store.NewRedisIDKeyLocker[string](lockClient, lockPrefix, store.StringToSingleTokenConverter, conf.LockOverlap),
		metricsSvc: metricsSvc,
	}
}

// Run dispatches all given destinations until ctx is done or controller is closed.
func (d *Dispatcher) Run(ctx context.Context, destinations []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, dest := range destinations {
		g.Go(func() error {
			return d.Serve(ctx, dest)
		})
	}
	return g.Wait()
}

// Serve runs dispatch loop of a single destination. Only one process
// dispatches a destination at a time, others wait for the destination lock.
func (d *Dispatcher) Serve(ctx context.Context, dest string) error {
	ctx = log.WithFlow(ctx, xctx.Dispatch)
	ctx = log.WithDestination(ctx, dest)
	logger := zerolog.Ctx(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		lock, err := d.locker.Lock(ctx, dest, store.WithDuration(d.conf.LockTTL))
		if err != nil {
			var rlErr *dom.ErrRateLimitExceeded
			if !errors.As(err, &rlErr) {
				logger.Err(err).Msg("unable to obtain dispatch lock")
				rlErr = &dom.ErrRateLimitExceeded{RetryIn: util.DurationJitter(time.Second, 5*time.Second)}
			}
			if !sleep(ctx, rlErr.RetryIn) {
				return nil
			}
			continue
		}
		logger.Info().Msg("dispatch lock obtained")
		err = lock.Do(ctx, d.conf.LockTTL/2, func(ctx context.Context) error {
			return d.dispatch(ctx, dest)
		})
		lock.Release(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, dom.ErrControlUnavailable):
			logger.Info().Msg("controller closed: dispatch stopped")
			return nil
		case err != nil:
			logger.Warn().Err(err).Msg("dispatch interrupted")
		}
	}
}

type stopReason int

const (
	stopDone stopReason = iota
	stopModeChanged
	stopRescan
	stopError
)

func (d *Dispatcher) dispatch(ctx context.Context, dest string) error {
	logger := zerolog.Ctx(ctx)
	var cursor journal.Cursor
	d.reclaim(ctx, dest)
	rescan := time.NewTicker(d.conf.RescanInterval)
	defer rescan.Stop()
	for {
		snap, err := d.ctrl.WaitRunning(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		logger.Debug().Uint64("epoch", snap.Epoch).Msg("dispatch cycle started")
		var reason stopReason
		cursor, reason, err = d.cycle(ctx, dest, snap, cursor, rescan.C)
		switch reason {
		case stopDone:
			return err
		case stopRescan:
			cursor = journal.Cursor{}
			d.reclaim(ctx, dest)
		case stopError:
			logger.Err(err).Msg("dispatch cycle failed")
			if !sleep(ctx, util.DurationJitter(time.Second, 3*time.Second)) {
				return nil
			}
		case stopModeChanged:
		}
	}
}

// cycle dispatches pending pairs of dest until mode changes, rescan is due or an error occurs.
// Returned cursor points after the last pair that does not need to be seen again.
func (d *Dispatcher) cycle(ctx context.Context, dest string, snap control.Snapshot, cursor journal.Cursor, rescan <-chan time.Time) (journal.Cursor, stopReason, error) {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	changed := d.ctrl.Changed()
	reason := stopDone
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-changed:
			reason = stopModeChanged
		case <-rescan:
			reason = stopRescan
		case <-cycleCtx.Done():
			return
		}
		cancel()
	}()
	stop := func(r stopReason, err error) (journal.Cursor, stopReason, error) {
		cancel()
		<-stopped
		if r == stopDone && reason != stopDone {
			r = reason
		}
		if r == stopDone && ctx.Err() != nil {
			err = nil
		}
		return cursor, r, err
	}

	for pending, err := range d.journal.ListPending(cycleCtx, dest, cursor) {
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("unable to list pending pairs")
			continue
		}
		if err = d.waitInFlight(cycleCtx, dest); err != nil {
			if cycleCtx.Err() != nil {
				break
			}
			return stop(stopError, err)
		}
		err = d.ctrl.Guard(snap.Epoch, func() error {
			return d.leaseAndEnqueue(ctx, dest, snap.Epoch, pending.ID)
		})
		switch {
		case err == nil:
			cursor = journal.CursorOf(pending)
		case errors.Is(err, dom.ErrStaleEpoch):
			return stop(stopModeChanged, nil)
		case errors.Is(err, dom.ErrControlUnavailable):
			return stop(stopDone, err)
		case errors.Is(err, dom.ErrInvalidTransition), errors.Is(err, dom.ErrNotFound):
			// leased by another dispatcher or already finished
			zerolog.Ctx(ctx).Debug().Err(err).Str(log.Entry, pending.ID.String()).Msg("skip pending pair")
			cursor = journal.CursorOf(pending)
		default:
			return stop(stopError, err)
		}
	}
	return stop(stopDone, ctx.Err())
}

func (d *Dispatcher) leaseAndEnqueue(ctx context.Context, dest string, epoch uint64, id entity.EntryID) error {
	lease, err := d.journal.Lease(ctx, id, dest, epoch, d.conf.LeaseTTL)
	if err != nil {
		return err
	}
	err = d.queueSvc.EnqueueTask(ctx, tasks.AttemptFromLease(lease))
	if err != nil {
		zerolog.Ctx(ctx).Err(err).Str(log.Entry, id.String()).Msg("unable to enqueue attempt: release lease")
		if relErr := d.journal.Release(context.WithoutCancel(ctx), lease, d.conf.EnqueueRetryDelay); relErr != nil {
			zerolog.Ctx(ctx).Err(relErr).Str(log.Entry, id.String()).Msg("unable to release lease")
		}
		return nil
	}
	if d.metricsSvc != nil {
		d.metricsSvc.Dispatched(dest)
	}
	zerolog.Ctx(ctx).Debug().Str(log.Entry, id.String()).Int("attempt", lease.Attempt).Msg("attempt dispatched")
	return nil
}

func (d *Dispatcher) waitInFlight(ctx context.Context, dest string) error {
	if d.conf.MaxInFlight <= 0 {
		return nil
	}
	for {
		stats, err := d.journal.QueueStats(ctx, dest)
		if err != nil {
			return err
		}
		if stats.Leased < uint64(d.conf.MaxInFlight) {
			return nil
		}
		if !sleep(ctx, d.conf.InFlightPoll) {
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) reclaim(ctx context.Context, dest string) {
	n, err := d.journal.ReclaimExpired(ctx, dest, time.Now())
	if err != nil {
		if ctx.Err() == nil {
			zerolog.Ctx(ctx).Err(err).Msg("unable to reclaim expired leases")
		}
		return
	}
	if n > 0 {
		zerolog.Ctx(ctx).Info().Int("reclaimed", n).Msg("expired leases returned to pending")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
