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

package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/dom"
)

var _ backend.Adapter = &Adapter{}

// Adapter replicates objects to Google Cloud Storage.
// Object becomes visible only when the resumable upload is committed by Writer.Close.
type Adapter struct {
	name   string
	conf   backend.Config
	client *storage.Client
}

func New(ctx context.Context, name string, conf backend.Config) (*Adapter, error) {
	var opts []option.ClientOption
	if conf.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(conf.CredentialsFile))
	}
	if conf.Endpoint != "" {
		// emulators do not require authentication
		opts = append(opts, option.WithEndpoint(conf.Endpoint))
		if conf.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create gcs client for %s: %v", dom.ErrInvalidStorageConfig, name, err)
	}
	return &Adapter{name: name, conf: conf, client: client}, nil
}

func (a *Adapter) Kind() backend.Kind {
	return backend.KindGCP
}

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) object(key string) *storage.ObjectHandle {
	return a.client.Bucket(a.conf.Bucket).Object(a.conf.ObjectKey(key))
}

func (a *Adapter) Put(ctx context.Context, key string, body io.Reader, size int64, meta backend.Metadata) (backend.PutResult, error) {
	// canceling writer context aborts the upload
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wc := a.object(key).NewWriter(ctx)
	wc.ChunkSize = int(a.conf.GetPartSize())
	wc.Metadata = meta
	if _, err := io.Copy(wc, body); err != nil {
		cancel()
		_ = wc.Close()
		return backend.PutResult{}, backend.Classify(convertErr(err))
	}
	if err := wc.Close(); err != nil {
		return backend.PutResult{}, backend.Classify(convertErr(err))
	}
	attrs := wc.Attrs()
	if attrs == nil {
		return backend.PutResult{}, nil
	}
	return backend.PutResult{
		VersionID: strconv.FormatInt(attrs.Generation, 10),
		ETag:      attrs.Etag,
	}, nil
}

func (a *Adapter) Get(ctx context.Context, key string) (io.ReadCloser, backend.ObjectInfo, error) {
	attrs, err := a.object(key).Attrs(ctx)
	if err != nil {
		return nil, backend.ObjectInfo{}, a.readErr(key, err)
	}
	// pin generation read to the one attrs were taken from
	rc, err := a.object(key).Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return nil, backend.ObjectInfo{}, a.readErr(key, err)
	}
	return rc, objectInfo(key, attrs), nil
}

func (a *Adapter) Head(ctx context.Context, key string) (backend.ObjectInfo, error) {
	attrs, err := a.object(key).Attrs(ctx)
	if err != nil {
		return backend.ObjectInfo{}, a.readErr(key, err)
	}
	return objectInfo(key, attrs), nil
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.Head(ctx, key)
	if backend.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	err := a.object(key).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return backend.Classify(convertErr(err))
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) readErr(key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: object %s not found in %s", dom.ErrNotFound, key, a.name)
	}
	return backend.Classify(convertErr(err))
}

func objectInfo(key string, attrs *storage.ObjectAttrs) backend.ObjectInfo {
	return backend.ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		ETag:         attrs.Etag,
		VersionID:    strconv.FormatInt(attrs.Generation, 10),
		LastModified: attrs.Updated,
		Metadata:     attrs.Metadata,
	}
}

// convertErr maps googleapi errors into backend.StatusError.
func convertErr(err error) error {
	if errors.Is(err, storage.ErrBucketNotExist) {
		return backend.NewStatusError(http.StatusNotFound, "NoSuchBucket", err)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		code := ""
		if len(gErr.Errors) != 0 {
			code = gErr.Errors[0].Reason
		}
		return backend.NewStatusError(gErr.Code, code, err)
	}
	return err
}
