package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
	"github.com/clyso/crr/pkg/log"
	"github.com/clyso/crr/pkg/metrics"
	"github.com/clyso/crr/pkg/tasks"
	"github.com/clyso/crr/pkg/util"
)

// HandleAttempt runs single replication attempt of leased pair and records
// its outcome in the journal. Outcomes are journal transitions, so handled
// attempts never return error to the queue.
func (s *svc) HandleAttempt(ctx context.Context, t *asynq.Task) error {
	p, err := tasks.DecodeAttempt(t)
	if err != nil {
		return fmt.Errorf("attempt payload decode failed: %v: %w", err, asynq.SkipRetry)
	}
	ctx = log.WithEntry(ctx, p.EntryID.String())
	ctx = log.WithDestination(ctx, p.Destination)
	logger := zerolog.Ctx(ctx)
	lease := p.Lease()

	entry, err := s.journal.Get(ctx, p.EntryID)
	if err != nil {
		if errors.Is(err, dom.ErrNotFound) {
			logger.Warn().Msg("drop attempt: entry not found")
			return nil
		}
		return err
	}
	ctx = log.WithSource(ctx, entry.Source)
	pair, ok := entry.States[p.Destination]
	if !ok || pair.State != entity.StateInProgress || pair.LeaseToken != p.LeaseToken {
		zerolog.Ctx(ctx).Info().Str("state", string(pair.State)).Msg("drop attempt: lease is not held")
		s.metricsSvc.Attempt(p.Destination, metrics.ResultLeaseLost)
		return nil
	}
	lease.Attempt = pair.Attempts
	lease.Until = pair.LeaseUntil

	version, err := s.attempt(ctx, lease, entry)
	return s.finish(ctx, lease, version, err)
}

func (s *svc) attempt(ctx context.Context, lease entity.Lease, entry entity.Entry) (string, error) {
	dest, ok := s.destinations[lease.Destination]
	if !ok {
		return "", dom.Fatal(fmt.Errorf("%w: unknown destination %q", dom.ErrInvalidStorageConfig, lease.Destination))
	}
	adapter, err := s.adapters.Get(lease.Destination)
	if err != nil {
		return "", dom.Fatal(err)
	}

	if err = s.limit.DestReq(ctx, lease.Destination); err != nil {
		return "", err
	}
	if dest.Semaphore != nil {
		release, err := dest.Semaphore.TryAcquire(ctx)
		if err != nil {
			return "", err
		}
		defer release()
	}

	key := TargetKey(entry.Source.Bucket, entry.Source.Name, dest.PrefixSourceBucket)
	existing, err := s.call(ctx, dest, func(ctx context.Context) (backend.ObjectInfo, error) {
		return adapter.Head(ctx, key)
	})
	switch {
	case err == nil && isReplicaOf(existing, entry):
		zerolog.Ctx(ctx).Info().Str("target_version", existing.VersionID).Msg("replica already exists: skip upload")
		return existing.VersionID, nil
	case err != nil && !backend.IsNotFound(err):
		return "", err
	}

	body, info, err := s.source.Open(ctx, entry.Source)
	if err != nil {
		if errors.Is(err, dom.ErrNotFound) {
			return "", dom.Fatal(err)
		}
		return "", err
	}
	defer body.Close()

	s.workerMetric.WorkerInProgressBytesInc(ctx, info.Size)
	defer s.workerMetric.WorkerInProgressBytesDec(ctx, info.Size)

	res, err := s.put(ctx, lease, dest, func(ctx context.Context) (backend.PutResult, error) {
		return adapter.Put(ctx, key, body, info.Size, replicaMeta(entry, info))
	})
	if err != nil {
		return "", err
	}
	s.metricsSvc.Upload(lease.Destination, info.Size)
	return res.VersionID, nil
}

// call runs adapter call with destination timeout. Timeout is retryable.
func (s *svc) call(ctx context.Context, dest Destination, fn func(ctx context.Context) (backend.ObjectInfo, error)) (backend.ObjectInfo, error) {
	if dest.Timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, dest.Timeout)
	defer cancel()
	res, err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, dom.Retryable(fmt.Errorf("destination call timed out after %s: %w", dest.Timeout, err))
	}
	return res, err
}

// put uploads object while lease is extended in background.
// Upload is cancelled if the lease is lost.
func (s *svc) put(ctx context.Context, lease entity.Lease, dest Destination, fn func(ctx context.Context) (backend.PutResult, error)) (backend.PutResult, error) {
	leaseCtx, cancelLease := context.WithCancelCause(ctx)
	defer cancelLease(nil)
	putCtx := leaseCtx
	if dest.Timeout > 0 {
		var cancel context.CancelFunc
		putCtx, cancel = context.WithTimeout(leaseCtx, dest.Timeout)
		defer cancel()
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepLease(leaseCtx, lease, done, cancelLease)
	}()
	res, err := fn(putCtx)
	close(done)
	wg.Wait()

	if cause := context.Cause(leaseCtx); errors.Is(cause, dom.ErrLeaseLost) {
		return backend.PutResult{}, cause
	}
	if err != nil {
		if errors.Is(putCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return backend.PutResult{}, dom.Retryable(fmt.Errorf("destination put timed out after %s: %w", dest.Timeout, err))
		}
		return backend.PutResult{}, err
	}
	return res, nil
}

func (s *svc) keepLease(ctx context.Context, lease entity.Lease, done <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(s.conf.LeaseExtendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := s.journal.ExtendLease(ctx, lease.ID, lease.Destination, lease.Token, s.conf.LeaseTTL)
			switch {
			case err == nil:
			case errors.Is(err, dom.ErrLeaseLost), errors.Is(err, dom.ErrNotFound):
				zerolog.Ctx(ctx).Warn().Err(err).Msg("lease lost during upload: cancel attempt")
				cancel(fmt.Errorf("%w: %w", dom.ErrLeaseLost, err))
				return
			case ctx.Err() != nil:
				return
			default:
				zerolog.Ctx(ctx).Err(err).Msg("unable to extend lease")
			}
		}
	}
}

// finish records attempt outcome in the journal.
func (s *svc) finish(ctx context.Context, lease entity.Lease, version string, err error) error {
	logger := zerolog.Ctx(ctx)
	// outcome must be recorded even if worker is shutting down
	jctx := context.WithoutCancel(ctx)
	var rlErr *dom.ErrRateLimitExceeded
	var result string
	var jErr error
	switch {
	case err == nil:
		result = metrics.ResultCompleted
		jErr = s.journal.Complete(jctx, lease, version)
		if jErr == nil {
			logger.Info().Str("target_version", version).Msg("object replicated")
		}
	case errors.As(err, &rlErr):
		result = metrics.ResultRateLimited
		logger.Debug().Dur("retry_in", rlErr.RetryIn).Msg("destination rate limit exceeded: release lease")
		jErr = s.journal.Release(jctx, lease, rlErr.RetryIn)
	case errors.Is(err, dom.ErrLeaseLost):
		logger.Warn().Err(err).Msg("drop attempt: lease lost")
		s.metricsSvc.Attempt(lease.Destination, metrics.ResultLeaseLost)
		return nil
	case dom.IsFatal(err):
		result = metrics.ResultFailed
		logger.Error().Err(err).Msg("replication failed")
		jErr = s.journal.Fail(jctx, lease, err)
	default:
		attempts := lease.Attempt + 1
		if attempts >= s.conf.MaxAttempts {
			result = metrics.ResultFailed
			logger.Error().Err(err).Int("attempts", attempts).Msg("replication failed: max attempts reached")
			jErr = s.journal.Fail(jctx, lease, err)
			break
		}
		result = metrics.ResultRetry
		delay := util.ExpBackoff(s.conf.BackoffBase, s.conf.BackoffMax, lease.Attempt)
		logger.Warn().Err(err).Int("attempts", attempts).Dur("retry_in", delay).Msg("replication attempt failed: retry")
		_, jErr = s.journal.Retry(jctx, lease, err, delay)
	}

	if jErr != nil {
		if errors.Is(jErr, dom.ErrLeaseLost) || errors.Is(jErr, dom.ErrInvalidTransition) || errors.Is(jErr, dom.ErrNotFound) {
			logger.Warn().Err(jErr).Str("result", result).Msg("unable to record attempt outcome: lease is not held")
			s.metricsSvc.Attempt(lease.Destination, metrics.ResultLeaseLost)
			return nil
		}
		return fmt.Errorf("unable to record attempt outcome %s: %w", result, jErr)
	}
	s.metricsSvc.Attempt(lease.Destination, result)
	return nil
}
