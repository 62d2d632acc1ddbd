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

package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/dom"
)

const defaultBlobDomain = "blob.core.windows.net"

var _ backend.Adapter = &Adapter{}

// Adapter replicates objects to Azure Blob Storage.
// Bucket is used as container name. Blocks are staged and become visible
// only when the block list is committed.
type Adapter struct {
	name   string
	conf   backend.Config
	client *azblob.Client
}

func New(name string, conf backend.Config) (*Adapter, error) {
	opts := &azblob.ClientOptions{}
	if conf.HttpTimeout > 0 {
		opts.Retry = policy.RetryOptions{MaxRetries: -1, TryTimeout: conf.HttpTimeout}
	} else {
		opts.Retry = policy.RetryOptions{MaxRetries: -1}
	}
	serviceURL := ServiceURL(conf)

	var (
		client *azblob.Client
		err    error
	)
	if conf.AccountKey != "" {
		cred, credErr := azblob.NewSharedKeyCredential(conf.AccountName, conf.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("%w: invalid azure account key for %s: %v", dom.ErrInvalidStorageConfig, name, credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, opts)
	} else {
		cred, credErr := azidentity.NewClientSecretCredential(conf.TenantID, conf.ClientID, conf.ClientSecret,
			&azidentity.ClientSecretCredentialOptions{DisableInstanceDiscovery: true})
		if credErr != nil {
			return nil, fmt.Errorf("%w: invalid azure ad credentials for %s: %v", dom.ErrInvalidStorageConfig, name, credErr)
		}
		client, err = azblob.NewClient(serviceURL, cred, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create azure client for %s: %v", dom.ErrInvalidStorageConfig, name, err)
	}
	return &Adapter{name: name, conf: conf, client: client}, nil
}

// ServiceURL returns blob service url of configured storage account.
func ServiceURL(conf backend.Config) string {
	if conf.Endpoint != "" {
		return strings.TrimSuffix(conf.Endpoint, "/") + "/"
	}
	domain := conf.BlobDomain
	if domain == "" {
		domain = defaultBlobDomain
	}
	return fmt.Sprintf("https://%s.%s/", conf.AccountName, domain)
}

func (a *Adapter) Kind() backend.Kind {
	return backend.KindAzure
}

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) Put(ctx context.Context, key string, body io.Reader, size int64, meta backend.Metadata) (backend.PutResult, error) {
	resp, err := a.client.UploadStream(ctx, a.conf.Bucket, a.conf.ObjectKey(key), body, &azblob.UploadStreamOptions{
		BlockSize: a.conf.GetPartSize(),
		Metadata:  encodeMeta(meta),
	})
	if err != nil {
		return backend.PutResult{}, backend.Classify(convertErr(err))
	}
	res := backend.PutResult{VersionID: deref(resp.VersionID)}
	if resp.ETag != nil {
		res.ETag = strings.Trim(string(*resp.ETag), `"`)
	}
	return res, nil
}

func (a *Adapter) Get(ctx context.Context, key string) (io.ReadCloser, backend.ObjectInfo, error) {
	resp, err := a.client.DownloadStream(ctx, a.conf.Bucket, a.conf.ObjectKey(key), nil)
	if err != nil {
		return nil, backend.ObjectInfo{}, a.readErr(key, err)
	}
	info := backend.ObjectInfo{
		Key:          key,
		Size:         deref(resp.ContentLength),
		VersionID:    deref(resp.VersionID),
		LastModified: deref(resp.LastModified),
		Metadata:     decodeMeta(resp.Metadata),
	}
	if resp.ETag != nil {
		info.ETag = strings.Trim(string(*resp.ETag), `"`)
	}
	return resp.Body, info, nil
}

func (a *Adapter) Head(ctx context.Context, key string) (backend.ObjectInfo, error) {
	blobClient := a.client.ServiceClient().NewContainerClient(a.conf.Bucket).NewBlobClient(a.conf.ObjectKey(key))
	resp, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return backend.ObjectInfo{}, a.readErr(key, err)
	}
	info := backend.ObjectInfo{
		Key:          key,
		Size:         deref(resp.ContentLength),
		VersionID:    deref(resp.VersionID),
		LastModified: deref(resp.LastModified),
		Metadata:     decodeMeta(resp.Metadata),
	}
	if resp.ETag != nil {
		info.ETag = strings.Trim(string(*resp.ETag), `"`)
	}
	return info, nil
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.Head(ctx, key)
	if backend.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteBlob(ctx, a.conf.Bucket, a.conf.ObjectKey(key), nil)
	if err == nil || bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	return backend.Classify(convertErr(err))
}

func (a *Adapter) readErr(key string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("%w: object %s not found in %s", dom.ErrNotFound, key, a.name)
	}
	var respErr *azcore.ResponseError
	// HEAD responses carry no error code
	if errors.As(err, &respErr) && respErr.StatusCode == 404 && respErr.ErrorCode == "" {
		return fmt.Errorf("%w: object %s not found in %s", dom.ErrNotFound, key, a.name)
	}
	return backend.Classify(convertErr(err))
}

func convertErr(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return backend.NewStatusError(respErr.StatusCode, respErr.ErrorCode, err)
	}
	return err
}

// Azure metadata names must be valid C# identifiers.
func encodeMeta(meta backend.Metadata) map[string]*string {
	if len(meta) == 0 {
		return nil
	}
	res := make(map[string]*string, len(meta))
	for k, v := range meta {
		res[strings.ReplaceAll(k, "-", "_")] = to.Ptr(v)
	}
	return res
}

func decodeMeta(meta map[string]*string) backend.Metadata {
	if len(meta) == 0 {
		return nil
	}
	res := make(backend.Metadata, len(meta))
	for k, v := range meta {
		res[strings.ReplaceAll(strings.ToLower(k), "_", "-")] = deref(v)
	}
	return res
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
