package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
	"github.com/clyso/crr/pkg/journal"
	"github.com/clyso/crr/pkg/metrics"
	"github.com/clyso/crr/pkg/ratelimit"
	"github.com/clyso/crr/pkg/source"
)

type Config struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BackoffBase time.Duration `yaml:"backoffBase"`
	BackoffMax  time.Duration `yaml:"backoffMax"`
	// LeaseTTL is lease duration set on every lease extension.
	LeaseTTL            time.Duration `yaml:"leaseTTL"`
	LeaseExtendInterval time.Duration `yaml:"leaseExtendInterval"`
}

func (c *Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: retry maxAttempts must be positive", dom.ErrInvalidArg)
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("%w: retry backoff must be positive and backoffMax must not be less than backoffBase", dom.ErrInvalidArg)
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("%w: retry leaseTTL must be positive", dom.ErrInvalidArg)
	}
	if c.LeaseExtendInterval <= 0 || c.LeaseExtendInterval >= c.LeaseTTL {
		return fmt.Errorf("%w: retry leaseExtendInterval must be positive and less than leaseTTL", dom.ErrInvalidArg)
	}
	return nil
}

// Destination holds per destination attempt settings.
type Destination struct {
	// Timeout limits single adapter call. Zero means no limit.
	Timeout            time.Duration
	PrefixSourceBucket bool
	// Semaphore limits concurrent uploads to destination. Optional.
	Semaphore ratelimit.Semaphore
}

type Journal interface {
	Get(ctx context.Context, id entity.EntryID) (entity.Entry, error)
	ExtendLease(ctx context.Context, id entity.EntryID, dest, token string, ttl time.Duration) (time.Time, error)
	Complete(ctx context.Context, l entity.Lease, targetVersion string) error
	Retry(ctx context.Context, l entity.Lease, cause error, delay time.Duration) (int, error)
	Release(ctx context.Context, l entity.Lease, delay time.Duration) error
	Fail(ctx context.Context, l entity.Lease, cause error) error
}

var _ Journal = (*journal.Journal)(nil)

type Adapters interface {
	Get(name string) (backend.Adapter, error)
}

type svc struct {
	conf         Config
	destinations map[string]Destination
	journal      Journal
	adapters     Adapters
	source       source.Reader
	limit        ratelimit.RPM
	metricsSvc   metrics.Service
	workerMetric metrics.WorkerService
}

func New(conf Config, destinations map[string]Destination, j Journal, adapters Adapters, src source.Reader, limit ratelimit.RPM, metricsSvc metrics.Service, workerMetric metrics.WorkerService) *svc {
	return &svc{
		conf:         conf,
		destinations: destinations,
		journal:      j,
		adapters:     adapters,
		source:       src,
		limit:        limit,
		metricsSvc:   metricsSvc,
		workerMetric: workerMetric,
	}
}
