package azure

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/dom"
)

func TestNew(t *testing.T) {
	r := require.New(t)
	conf := backend.Config{
		Kind:        backend.KindAzure,
		Bucket:      "container",
		AccountName: "acc",
		AccountKey:  base64.StdEncoding.EncodeToString([]byte("secret")),
	}
	a, err := New("azure", conf)
	r.NoError(err)
	r.Equal(backend.KindAzure, a.Kind())
	r.Equal("https://acc.blob.core.windows.net/", ServiceURL(conf))

	conf.BlobDomain = "blob.core.chinacloudapi.cn"
	r.Equal("https://acc.blob.core.chinacloudapi.cn/", ServiceURL(conf))
	conf.Endpoint = "http://127.0.0.1:10000/devstoreaccount1"
	r.Equal("http://127.0.0.1:10000/devstoreaccount1/", ServiceURL(conf))

	conf.AccountKey = "%%%"
	_, err = New("azure", conf)
	r.ErrorIs(err, dom.ErrInvalidStorageConfig)
}

func TestMetadata(t *testing.T) {
	r := require.New(t)
	enc := encodeMeta(backend.Metadata{"crr-source-version-id": "v1", "crr-replication-status": "REPLICA"})
	r.Contains(enc, "crr_source_version_id")
	r.Contains(enc, "crr_replication_status")
	dec := decodeMeta(enc)
	r.Equal("v1", dec["crr-source-version-id"])
	r.Equal("REPLICA", dec["crr-replication-status"])
	r.Nil(encodeMeta(nil))
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "server busy", err: &azcore.ResponseError{StatusCode: 503, ErrorCode: string(bloberror.ServerBusy)}, retryable: true},
		{name: "internal", err: &azcore.ResponseError{StatusCode: 500}, retryable: true},
		{name: "auth", err: &azcore.ResponseError{StatusCode: 403, ErrorCode: string(bloberror.AuthenticationFailed)}},
		{name: "no container", err: fmt.Errorf("upload: %w", &azcore.ResponseError{StatusCode: 404, ErrorCode: string(bloberror.ContainerNotFound)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := backend.Classify(convertErr(tt.err))
			require.ErrorIs(t, got, tt.err)
			require.Equal(t, tt.retryable, dom.IsRetryable(got))
			require.Equal(t, !tt.retryable, dom.IsFatal(got))
		})
	}

	a := &Adapter{name: "azure"}
	require.ErrorIs(t, a.readErr("k", &azcore.ResponseError{StatusCode: 404, ErrorCode: string(bloberror.BlobNotFound)}), dom.ErrNotFound)
	require.ErrorIs(t, a.readErr("k", &azcore.ResponseError{StatusCode: 404}), dom.ErrNotFound)
	require.True(t, dom.IsFatal(a.readErr("k", &azcore.ResponseError{StatusCode: 404, ErrorCode: string(bloberror.ContainerNotFound)})))
}
