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

package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	mclient "github.com/minio/minio-go/v7"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/s3client"
)

// Info describes opened source object version.
type Info struct {
	Size         int64
	ETag         string
	VersionID    string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Reader opens exact source object versions for replication.
type Reader interface {
	Open(ctx context.Context, obj dom.Object) (io.ReadCloser, Info, error)
}

func NewReader(client s3client.Client) Reader {
	return &reader{client: client.S3()}
}

type reader struct {
	client *s3client.S3
}

// Open returns source object content. Missing object or version is reported
// as fatal dom.ErrNotFound, other errors are classified as for destinations.
func (r *reader) Open(ctx context.Context, obj dom.Object) (io.ReadCloser, Info, error) {
	opts := mclient.GetObjectOptions{}
	if obj.Version != "" {
		opts.VersionID = obj.Version
	}
	o, err := r.client.GetObject(ctx, obj.Bucket, obj.Name, opts)
	if err != nil {
		return nil, Info{}, convertErr(obj, err)
	}
	stat, err := o.Stat()
	if err != nil {
		_ = o.Close()
		return nil, Info{}, convertErr(obj, err)
	}
	return o, Info{
		Size:         stat.Size,
		ETag:         stat.ETag,
		VersionID:    stat.VersionID,
		ContentType:  stat.ContentType,
		LastModified: stat.LastModified,
		Metadata:     userMeta(stat.UserMetadata),
	}, nil
}

func convertErr(obj dom.Object, err error) error {
	resp := mclient.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey", resp.Code == "NoSuchVersion", resp.Code == "NoSuchBucket",
		resp.StatusCode == http.StatusNotFound:
		return dom.Fatal(fmt.Errorf("%w: source object %s: %v", dom.ErrNotFound, obj, err))
	case resp.StatusCode != 0:
		return backend.Classify(backend.NewStatusError(resp.StatusCode, resp.Code, err))
	}
	return backend.Classify(err)
}

func userMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	res := make(map[string]string, len(in))
	for k, v := range in {
		res[strings.ToLower(k)] = v
	}
	return res
}
