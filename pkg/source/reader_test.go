package source

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	mclient "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/metrics"
	"github.com/clyso/crr/pkg/s3client"
)

func TestReader(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	s3Backend := s3mem.New()
	r.NoError(s3Backend.CreateBucket("src"))
	ts := httptest.NewServer(gofakes3.New(s3Backend).Server())
	defer ts.Close()

	client, err := s3client.NewClient(ctx, metrics.NewService(false), s3client.Config{
		Name:      "src",
		Address:   ts.URL,
		AccessKey: "access",
		SecretKey: "secret",
	})
	r.NoError(err)
	_, err = client.S3().PutObject(ctx, "src", "k1", bytes.NewReader([]byte("v1 content")), 10, mclient.PutObjectOptions{
		UserMetadata: map[string]string{"Owner": "me"},
	})
	r.NoError(err)

	reader := NewReader(client)
	rc, info, err := reader.Open(ctx, dom.Object{Bucket: "src", Name: "k1"})
	r.NoError(err)
	defer rc.Close()
	r.EqualValues(10, info.Size)
	r.Equal("me", info.Metadata["owner"])
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(rc)
	r.NoError(err)
	r.Equal("v1 content", buf.String())

	_, _, err = reader.Open(ctx, dom.Object{Bucket: "src", Name: "missing"})
	r.ErrorIs(err, dom.ErrNotFound)
	r.True(dom.IsFatal(err))
}

func TestConvertErr(t *testing.T) {
	r := require.New(t)
	obj := dom.Object{Bucket: "b", Name: "k", Version: "v"}
	err := convertErr(obj, mclient.ErrorResponse{StatusCode: 404, Code: "NoSuchVersion"})
	r.ErrorIs(err, dom.ErrNotFound)
	r.True(dom.IsFatal(err))

	err = convertErr(obj, mclient.ErrorResponse{StatusCode: 503, Code: "SlowDown"})
	r.True(dom.IsRetryable(err))
	err = convertErr(obj, mclient.ErrorResponse{StatusCode: 403, Code: "AccessDenied"})
	r.True(dom.IsFatal(err))
}
