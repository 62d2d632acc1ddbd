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

package ingest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
	"github.com/clyso/crr/pkg/log"
	"github.com/clyso/crr/pkg/metrics"
)

// Rule routes writes to bucket objects with key Prefix to Destinations.
type Rule struct {
	Bucket       string   `yaml:"bucket"`
	Prefix       string   `yaml:"prefix"`
	Destinations []string `yaml:"destinations"`
}

type Config struct {
	Rules []Rule `yaml:"rules"`
}

// Validate checks rules against known destination names.
// Known destinations are not checked if known is empty.
func (c *Config) Validate(known ...string) error {
	for i, r := range c.Rules {
		if r.Bucket == "" {
			return fmt.Errorf("%w: replication rule %d: bucket is not set", dom.ErrInvalidArg, i)
		}
		if len(r.Destinations) == 0 {
			return fmt.Errorf("%w: replication rule %d: no destinations", dom.ErrInvalidArg, i)
		}
		for _, d := range r.Destinations {
			if len(known) != 0 && !slices.Contains(known, d) {
				return fmt.Errorf("%w: replication rule %d: unknown destination %q", dom.ErrInvalidArg, i, d)
			}
		}
	}
	return nil
}

// SourceWrite is a committed write of a source object version.
type SourceWrite struct {
	Bucket    string
	Key       string
	VersionID string
	Size      int64
	Checksum  string
	EventTime time.Time
	// Destinations overrides replication rules if not empty.
	Destinations []string
}

type Journal interface {
	Append(ctx context.Context, e entity.Entry) (entity.EntryID, error)
}

type Listener struct {
	journal    Journal
	rules      []Rule
	metricsSvc metrics.Service
}

func NewListener(conf Config, j Journal, metricsSvc metrics.Service) *Listener {
	return &Listener{
		journal:    j,
		rules:      conf.Rules,
		metricsSvc: metricsSvc,
	}
}

// OnSourceWrite records replication entry for the written object version.
// It returns after the entry is durably stored. Repeated calls for the same
// version only add destinations which are not yet known for the entry.
// Empty id and nil error are returned if no rule matches the object.
// Writes without version id are rejected with dom.ErrInvalidArg.
func (l *Listener) OnSourceWrite(ctx context.Context, w SourceWrite) (entity.EntryID, error) {
	obj := dom.Object{Bucket: w.Bucket, Name: w.Key, Version: w.VersionID}
	ctx = log.WithSource(ctx, obj)
	dests := w.Destinations
	if len(dests) == 0 {
		dests = l.Destinations(w.Bucket, w.Key)
	}
	if len(dests) == 0 {
		zerolog.Ctx(ctx).Debug().Msg("no replication rule for object: skipped")
		l.count(w.Bucket, metrics.ResultSkipped)
		return "", nil
	}
	if w.VersionID == "" {
		// overwrites of unversioned key share one entry and would never be replicated again
		zerolog.Ctx(ctx).Warn().Msg("source write without version id: skipped, source bucket versioning is required")
		l.count(w.Bucket, metrics.ResultSkipped)
		return "", fmt.Errorf("%w: source write %s/%s has no version id, enable versioning on source bucket", dom.ErrInvalidArg, w.Bucket, w.Key)
	}
	id, err := l.journal.Append(ctx, entity.Entry{
		Source:    obj,
		Size:      w.Size,
		Checksum:  strings.Trim(w.Checksum, `"`),
		Targets:   dests,
		CreatedAt: w.EventTime,
	})
	if err != nil {
		l.count(w.Bucket, metrics.ResultError)
		return "", fmt.Errorf("unable to append replication entry for %s: %w", obj, err)
	}
	l.count(w.Bucket, metrics.ResultCreated)
	zerolog.Ctx(ctx).Info().Str(log.Entry, id.String()).Strs("destinations", dests).Msg("replication entry recorded")
	return id, nil
}

// Destinations returns union of destinations of all rules matching the object
// in order of rules.
func (l *Listener) Destinations(bucket, key string) []string {
	var res []string
	for _, r := range l.rules {
		if r.Bucket != bucket || !strings.HasPrefix(key, r.Prefix) {
			continue
		}
		for _, d := range r.Destinations {
			if !slices.Contains(res, d) {
				res = append(res, d)
			}
		}
	}
	return res
}

// Buckets returns source buckets referenced by rules.
func (l *Listener) Buckets() []string {
	var res []string
	for _, r := range l.rules {
		if !slices.Contains(res, r.Bucket) {
			res = append(res, r.Bucket)
		}
	}
	return res
}

func (l *Listener) count(bucket, result string) {
	if l.metricsSvc != nil {
		l.metricsSvc.Ingested(bucket, result)
	}
}
