package gcs

import (
	"context"
	"fmt"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/dom"
)

func TestConvertErr(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "rate limit", err: &googleapi.Error{Code: 429, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, retryable: true},
		{name: "unavailable", err: &googleapi.Error{Code: 503}, retryable: true},
		{name: "forbidden", err: &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "forbidden"}}}},
		{name: "unauthorized", err: fmt.Errorf("write: %w", &googleapi.Error{Code: 401})},
		{name: "no bucket", err: storage.ErrBucketNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := backend.Classify(convertErr(tt.err))
			require.ErrorIs(t, got, tt.err)
			require.Equal(t, tt.retryable, dom.IsRetryable(got))
			require.Equal(t, !tt.retryable, dom.IsFatal(got))
		})
	}
}

func TestReadErr(t *testing.T) {
	a, err := New(context.Background(), "gcp", backend.Config{Kind: backend.KindGCP, Bucket: "b", Endpoint: "http://127.0.0.1:1/storage/v1/"})
	require.NoError(t, err)
	defer a.Close()
	require.Equal(t, backend.KindGCP, a.Kind())
	require.ErrorIs(t, a.readErr("k", fmt.Errorf("attrs: %w", storage.ErrObjectNotExist)), dom.ErrNotFound)
	require.True(t, dom.IsFatal(a.readErr("k", &googleapi.Error{Code: 403})))
}
