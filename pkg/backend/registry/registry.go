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

package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/backend/awss3"
	"github.com/clyso/crr/pkg/backend/azure"
	"github.com/clyso/crr/pkg/backend/gcs"
	"github.com/clyso/crr/pkg/backend/mem"
	"github.com/clyso/crr/pkg/backend/s3compat"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/metrics"
)

// Registry holds adapters of configured destinations.
type Registry struct {
	adapters map[string]backend.Adapter
	names    []string
}

type Option func(*Registry)

// WithAdapter registers prebuilt adapter. It takes precedence over configuration
// of destination with the same name.
func WithAdapter(a backend.Adapter) Option {
	return func(r *Registry) {
		r.adapters[a.Name()] = a
	}
}

// New builds adapters for all configured destinations.
func New(ctx context.Context, conf map[string]backend.Config, metricsSvc metrics.Service, opts ...Option) (*Registry, error) {
	r := &Registry{adapters: map[string]backend.Adapter{}}
	for _, opt := range opts {
		opt(r)
	}
	for name, c := range conf {
		if _, ok := r.adapters[name]; ok {
			continue
		}
		a, err := build(ctx, name, c)
		if err != nil {
			return nil, err
		}
		r.adapters[name] = a
	}
	for name, a := range r.adapters {
		r.adapters[name] = backend.Instrument(a, metricsSvc)
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

func build(ctx context.Context, name string, conf backend.Config) (backend.Adapter, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: destination %q", err, name)
	}
	switch conf.Kind {
	case backend.KindAWS:
		return awss3.New(name, conf)
	case backend.KindGCP:
		return gcs.New(ctx, name, conf)
	case backend.KindAzure:
		return azure.New(name, conf)
	case backend.KindWasabi, backend.KindS3:
		return s3compat.New(name, conf)
	case backend.KindMem:
		return mem.New(name), nil
	}
	return nil, fmt.Errorf("%w: unsupported destination kind %q", dom.ErrInvalidStorageConfig, conf.Kind)
}

func (r *Registry) Get(name string) (backend.Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: destination %q is not configured", dom.ErrNotFound, name)
	}
	return a, nil
}

// Names returns sorted destination names.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

func (r *Registry) Has(name string) bool {
	_, ok := r.adapters[name]
	return ok
}

// ProbeAll probes every destination concurrently and returns joined errors.
func (r *Registry) ProbeAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	errs := make([]error, len(r.names))
	for i, name := range r.names {
		a := r.adapters[name]
		g.Go(func() error {
			if err := backend.Probe(ctx, a); err != nil {
				errs[i] = fmt.Errorf("destination %q probe failed: %w", name, err)
				return nil
			}
			zerolog.Ctx(ctx).Info().Str("destination", name).Msg("destination probe succeeded")
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Registry) Close() error {
	var errs []error
	for _, a := range r.adapters {
		if c, ok := unwrap(a).(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func unwrap(a backend.Adapter) backend.Adapter {
	if u, ok := a.(interface{ Unwrap() backend.Adapter }); ok {
		return u.Unwrap()
	}
	return a
}
