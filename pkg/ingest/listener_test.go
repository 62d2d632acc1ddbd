package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
	"github.com/clyso/crr/pkg/journal"
	"github.com/clyso/crr/pkg/metrics"
	"github.com/clyso/crr/pkg/testutil"
)

var testRules = Config{Rules: []Rule{
	{Bucket: "src", Destinations: []string{"aws", "gcp"}},
	{Bucket: "src", Prefix: "docs/", Destinations: []string{"gcp", "azure"}},
	{Bucket: "logs", Prefix: "app/", Destinations: []string{"wasabi"}},
}}

func newTestListener(t *testing.T) (*Listener, *journal.Journal) {
	t.Helper()
	j := journal.New(testutil.SetupRedis(t), journal.Config{PollInterval: 10 * time.Millisecond})
	return NewListener(testRules, j, metrics.NewService(false)), j
}

func TestListener_Destinations(t *testing.T) {
	r := require.New(t)
	l := NewListener(testRules, nil, nil)
	r.Equal([]string{"aws", "gcp"}, l.Destinations("src", "k1"))
	r.Equal([]string{"aws", "gcp", "azure"}, l.Destinations("src", "docs/a.txt"))
	r.Equal([]string{"wasabi"}, l.Destinations("logs", "app/1.log"))
	r.Empty(l.Destinations("logs", "sys/1.log"))
	r.Empty(l.Destinations("other", "k1"))
	r.Equal([]string{"src", "logs"}, l.Buckets())
}

func TestListener_OnSourceWrite(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	l, j := newTestListener(t)

	w := SourceWrite{Bucket: "src", Key: "k1", VersionID: "v1", Size: 3, Checksum: `"abc"`}
	id, err := l.OnSourceWrite(ctx, w)
	r.NoError(err)
	r.Equal(entity.NewEntryID(dom.Object{Bucket: "src", Name: "k1", Version: "v1"}), id)

	e, err := j.Get(ctx, id)
	r.NoError(err)
	r.Equal("abc", e.Checksum)
	r.EqualValues(3, e.Size)
	r.ElementsMatch([]string{"aws", "gcp"}, e.Targets)
	for _, dest := range e.Targets {
		r.Equal(entity.StatePending, e.States[dest].State)
	}

	// duplicated notification does not reset progress
	lease, err := j.Lease(ctx, id, "aws", 0, time.Minute)
	r.NoError(err)
	r.NoError(j.Complete(ctx, lease, ""))
	id2, err := l.OnSourceWrite(ctx, w)
	r.NoError(err)
	r.Equal(id, id2)
	p, err := j.Pair(ctx, id, "aws")
	r.NoError(err)
	r.Equal(entity.StateCompleted, p.State)

	// explicit destinations override rules
	w.Destinations = []string{"azure"}
	_, err = l.OnSourceWrite(ctx, w)
	r.NoError(err)
	e, err = j.Get(ctx, id)
	r.NoError(err)
	r.ElementsMatch([]string{"aws", "gcp", "azure"}, e.Targets)
}

func TestListener_Skipped(t *testing.T) {
	r := require.New(t)
	l, _ := newTestListener(t)
	id, err := l.OnSourceWrite(context.Background(), SourceWrite{Bucket: "other", Key: "k1"})
	r.NoError(err)
	r.Empty(id)
}

type failingJournal struct{}

func (failingJournal) Append(context.Context, entity.Entry) (entity.EntryID, error) {
	return "", errors.New("redis is down")
}

func TestListener_JournalError(t *testing.T) {
	r := require.New(t)
	l := NewListener(testRules, failingJournal{}, nil)
	_, err := l.OnSourceWrite(context.Background(), SourceWrite{Bucket: "src", Key: "k1", VersionID: "v1"})
	r.Error(err)
	r.NotErrorIs(err, dom.ErrInvalidArg)
}

func TestListener_Unversioned(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	l, j := newTestListener(t)

	id, err := l.OnSourceWrite(ctx, SourceWrite{Bucket: "src", Key: "k1", Checksum: "etag1"})
	r.ErrorIs(err, dom.ErrInvalidArg)
	r.Empty(id)
	_, err = j.Get(ctx, entity.NewEntryID(dom.Object{Bucket: "src", Name: "k1"}))
	r.ErrorIs(err, dom.ErrNotFound, "unversioned write is not journaled")

	// overwrite gets its own version and entry
	id1, err := l.OnSourceWrite(ctx, SourceWrite{Bucket: "src", Key: "k1", VersionID: "v1", Checksum: "etag1"})
	r.NoError(err)
	id2, err := l.OnSourceWrite(ctx, SourceWrite{Bucket: "src", Key: "k1", VersionID: "v2", Checksum: "etag2"})
	r.NoError(err)
	r.NotEqual(id1, id2)
	e, err := j.Get(ctx, id2)
	r.NoError(err)
	r.Equal("etag2", e.Checksum)
	r.Equal(entity.StatePending, e.States["aws"].State)
}

func TestConfig_Validate(t *testing.T) {
	r := require.New(t)
	r.NoError(testRules.Validate())
	r.NoError(testRules.Validate("aws", "gcp", "azure", "wasabi"))
	r.ErrorIs(testRules.Validate("aws", "gcp"), dom.ErrInvalidArg)

	c := Config{Rules: []Rule{{Bucket: "b"}}}
	r.ErrorIs(c.Validate(), dom.ErrInvalidArg)
	c = Config{Rules: []Rule{{Destinations: []string{"aws"}}}}
	r.ErrorIs(c.Validate(), dom.ErrInvalidArg)
}
