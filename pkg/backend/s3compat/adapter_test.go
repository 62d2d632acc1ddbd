package s3compat

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	mclient "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/dom"
)

func setup(t *testing.T, bucket string) *Adapter {
	t.Helper()
	s3Backend := s3mem.New()
	require.NoError(t, s3Backend.CreateBucket(bucket))
	ts := httptest.NewServer(gofakes3.New(s3Backend).Server())
	t.Cleanup(ts.Close)

	a, err := New("wasabi", backend.Config{
		Kind:      backend.KindWasabi,
		Bucket:    bucket,
		Endpoint:  ts.URL,
		AccessKey: "access",
		SecretKey: "secret",
		Region:    "us-east-1",
		PathStyle: true,
		Prefix:    "replica/",
	})
	require.NoError(t, err)
	return a
}

func TestAdapter(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	a := setup(t, "dest")
	r.Equal(backend.KindWasabi, a.Kind())
	r.Equal("wasabi", a.Name())

	ok, err := a.Exists(ctx, "k1")
	r.NoError(err)
	r.False(ok)

	body := []byte("some content")
	_, err = a.Put(ctx, "k1", bytes.NewReader(body), int64(len(body)), backend.Metadata{"crr-replication-status": "REPLICA"})
	r.NoError(err)

	info, err := a.Head(ctx, "k1")
	r.NoError(err)
	r.EqualValues(len(body), info.Size)
	r.Equal("REPLICA", info.Metadata["crr-replication-status"])

	data, _, err := backend.ReadAll(ctx, a, "k1")
	r.NoError(err)
	r.Equal(body, data)

	// prefix is applied to destination key
	_, err = a.client.StatObject(ctx, "dest", "replica/k1", mclient.StatObjectOptions{})
	r.NoError(err)

	r.NoError(a.Delete(ctx, "k1"))
	_, _, err = a.Get(ctx, "k1")
	r.ErrorIs(err, dom.ErrNotFound)
}

func TestAdapterUnknownSize(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	a := setup(t, "dest")
	body := strings.Repeat("y", 1024)
	_, err := a.Put(ctx, "stream", strings.NewReader(body), -1, nil)
	r.NoError(err)
	info, err := a.Head(ctx, "stream")
	r.NoError(err)
	r.EqualValues(len(body), info.Size)
}

func TestAdapterMissingBucket(t *testing.T) {
	r := require.New(t)
	a := setup(t, "dest")
	a.conf.Bucket = "nope"
	_, err := a.Put(context.Background(), "k", bytes.NewReader([]byte("a")), 1, nil)
	r.Error(err)
	r.True(dom.IsFatal(err))
}

func TestConvertErr(t *testing.T) {
	r := require.New(t)
	err := convertErr(mclient.ErrorResponse{StatusCode: 503, Code: "SlowDown"})
	var statusErr *backend.StatusError
	r.ErrorAs(err, &statusErr)
	r.Equal("SlowDown", statusErr.Code)
	r.True(dom.IsRetryable(backend.Classify(err)))

	plain := errors.New("plain")
	r.Equal(plain, convertErr(plain))
}
