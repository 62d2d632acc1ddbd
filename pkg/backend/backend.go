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

package backend

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/clyso/crr/pkg/dom"
)

type Kind string

const (
	KindAWS    Kind = "aws"
	KindGCP    Kind = "gcp"
	KindAzure  Kind = "azure"
	KindWasabi Kind = "wasabi"
	KindS3     Kind = "s3"
	KindMem    Kind = "mem"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindAWS, KindGCP, KindAzure, KindWasabi, KindS3, KindMem:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown destination kind %q", dom.ErrInvalidStorageConfig, s)
}

// Metadata is user defined object metadata.
type Metadata map[string]string

type PutResult struct {
	VersionID string
	ETag      string
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	VersionID    string
	LastModified time.Time
	Metadata     Metadata
}

// Adapter is a uniform interface over destination cloud object storage.
// Put must be atomic: the object either becomes visible with the full
// content or not at all.
// Errors returned by Put are classified into dom.ErrRetryable or dom.ErrFatal.
// Head and Get return dom.ErrNotFound if the object does not exist.
type Adapter interface {
	Kind() Kind
	Name() string
	Put(ctx context.Context, key string, body io.Reader, size int64, meta Metadata) (PutResult, error)
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Head(ctx context.Context, key string) (ObjectInfo, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}
