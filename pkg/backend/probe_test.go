package backend_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/backend/mem"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/metrics"
)

func TestProbe(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	a := mem.New("mem1")
	r.NoError(backend.Probe(ctx, backend.Instrument(a, metrics.NewService(false))))
	r.Empty(a.Keys(), "probe object removed")

	a.SetFault(backend.NewStatusError(403, "AccessDenied", errors.New("denied")))
	err := backend.Probe(ctx, a)
	r.Error(err)
	r.True(dom.IsFatal(err))
}

func TestMemAdapter(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	a := backend.Instrument(mem.New("mem1"), metrics.NewService(false))
	r.Equal(backend.KindMem, a.Kind())
	r.Equal("mem1", a.Name())

	ok, err := a.Exists(ctx, "k1")
	r.NoError(err)
	r.False(ok)
	_, err = a.Head(ctx, "k1")
	r.ErrorIs(err, dom.ErrNotFound)

	res, err := a.Put(ctx, "k1", bytes.NewReader([]byte("data")), 4, backend.Metadata{"a": "b"})
	r.NoError(err)
	r.Equal("1", res.VersionID)
	data, info, err := backend.ReadAll(ctx, a, "k1")
	r.NoError(err)
	r.Equal("data", string(data))
	r.EqualValues(4, info.Size)
	r.Equal("b", info.Metadata["a"])

	_, err = a.Put(ctx, "k2", bytes.NewReader([]byte("dat")), 4, nil)
	r.True(dom.IsRetryable(err), "short body")
	ok, err = a.Exists(ctx, "k2")
	r.NoError(err)
	r.False(ok, "failed put is not visible")

	r.NoError(a.Delete(ctx, "k1"))
	ok, err = a.Exists(ctx, "k1")
	r.NoError(err)
	r.False(ok)
}

func TestMemFaults(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	a := mem.New("mem1")
	a.FailNext(2, backend.NewStatusError(503, "SlowDown", errors.New("slow")))
	for i := 0; i < 2; i++ {
		_, err := a.Put(ctx, "k", bytes.NewReader(nil), 0, nil)
		r.True(dom.IsRetryable(err))
	}
	_, err := a.Put(ctx, "k", bytes.NewReader(nil), 0, nil)
	r.NoError(err)
	r.Equal(3, a.Puts())
	r.Equal([]string{"k"}, a.Keys())
}
