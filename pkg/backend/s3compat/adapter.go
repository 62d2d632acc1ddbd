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

package s3compat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/dom"
)

var _ backend.Adapter = &Adapter{}

// Adapter replicates objects to S3 compatible storages like Wasabi with minio-go.
// Bodies larger than part size are uploaded with multipart upload which is
// aborted on failure.
type Adapter struct {
	kind   backend.Kind
	name   string
	conf   backend.Config
	client *mclient.Client
}

func New(name string, conf backend.Config) (*Adapter, error) {
	host := strings.TrimPrefix(conf.Endpoint, "http://")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimSuffix(host, "/")
	opts := &mclient.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.Secure || strings.HasPrefix(conf.Endpoint, "https://"),
		Region: conf.Region,
	}
	if conf.PathStyle {
		opts.BucketLookup = mclient.BucketLookupPath
	}
	if conf.HttpTimeout > 0 {
		transport, err := mclient.DefaultTransport(opts.Secure)
		if err != nil {
			return nil, err
		}
		transport.ResponseHeaderTimeout = conf.HttpTimeout
		opts.Transport = transport
	}
	client, err := mclient.New(host, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create s3 client for %s: %v", dom.ErrInvalidStorageConfig, name, err)
	}
	kind := conf.Kind
	if kind == "" {
		kind = backend.KindS3
	}
	return &Adapter{kind: kind, name: name, conf: conf, client: client}, nil
}

func (a *Adapter) Kind() backend.Kind {
	return a.kind
}

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) Put(ctx context.Context, key string, body io.Reader, size int64, meta backend.Metadata) (backend.PutResult, error) {
	info, err := a.client.PutObject(ctx, a.conf.Bucket, a.conf.ObjectKey(key), body, size, mclient.PutObjectOptions{
		UserMetadata: meta,
		PartSize:     uint64(a.conf.GetPartSize()),
	})
	if err != nil {
		return backend.PutResult{}, backend.Classify(convertErr(err))
	}
	return backend.PutResult{VersionID: info.VersionID, ETag: info.ETag}, nil
}

func (a *Adapter) Get(ctx context.Context, key string) (io.ReadCloser, backend.ObjectInfo, error) {
	obj, err := a.client.GetObject(ctx, a.conf.Bucket, a.conf.ObjectKey(key), mclient.GetObjectOptions{})
	if err != nil {
		return nil, backend.ObjectInfo{}, a.readErr(key, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, backend.ObjectInfo{}, a.readErr(key, err)
	}
	return obj, objectInfo(key, stat), nil
}

func (a *Adapter) Head(ctx context.Context, key string) (backend.ObjectInfo, error) {
	stat, err := a.client.StatObject(ctx, a.conf.Bucket, a.conf.ObjectKey(key), mclient.StatObjectOptions{})
	if err != nil {
		return backend.ObjectInfo{}, a.readErr(key, err)
	}
	return objectInfo(key, stat), nil
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.Head(ctx, key)
	if backend.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	err := a.client.RemoveObject(ctx, a.conf.Bucket, a.conf.ObjectKey(key), mclient.RemoveObjectOptions{})
	if err != nil {
		return backend.Classify(convertErr(err))
	}
	return nil
}

func (a *Adapter) readErr(key string, err error) error {
	if resp := mclient.ToErrorResponse(err); resp.Code == "NoSuchKey" || (resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket") {
		return fmt.Errorf("%w: object %s not found in %s", dom.ErrNotFound, key, a.name)
	}
	return backend.Classify(convertErr(err))
}

func objectInfo(key string, stat mclient.ObjectInfo) backend.ObjectInfo {
	var meta backend.Metadata
	if len(stat.UserMetadata) != 0 {
		meta = make(backend.Metadata, len(stat.UserMetadata))
		for k, v := range stat.UserMetadata {
			meta[strings.ToLower(k)] = v
		}
	}
	return backend.ObjectInfo{
		Key:          key,
		Size:         stat.Size,
		ETag:         stat.ETag,
		VersionID:    stat.VersionID,
		LastModified: stat.LastModified,
		Metadata:     meta,
	}
}

// convertErr maps minio error responses into backend.StatusError.
func convertErr(err error) error {
	var resp mclient.ErrorResponse
	if errors.As(err, &resp) && resp.StatusCode != 0 {
		return backend.NewStatusError(resp.StatusCode, resp.Code, err)
	}
	return err
}
