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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/clyso/crr/pkg/dom"
)

const probePrefix = ".crr-probe/"

// Probe validates destination credentials and permissions by writing,
// reading and deleting a small object.
func Probe(ctx context.Context, a Adapter) error {
	key := probePrefix + xid.New().String()
	body := []byte("crr probe " + a.Name())
	if _, err := a.Put(ctx, key, bytes.NewReader(body), int64(len(body)), Metadata{"crr-probe": "true"}); err != nil {
		return fmt.Errorf("%w: unable to write probe object to %s", err, a.Name())
	}
	defer func() {
		if err := a.Delete(ctx, key); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("destination", a.Name()).Msg("unable to delete probe object")
		}
	}()
	info, err := a.Head(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: unable to stat probe object in %s", err, a.Name())
	}
	if info.Size != int64(len(body)) {
		return fmt.Errorf("%w: probe object size mismatch in %s: got %d, want %d", dom.ErrInternal, a.Name(), info.Size, len(body))
	}
	return nil
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, dom.ErrNotFound)
}

// ReadAll reads the whole object. Intended for small objects and tests.
func ReadAll(ctx context.Context, a Adapter, key string) ([]byte, ObjectInfo, error) {
	rc, info, err := a.Get(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	return data, info, nil
}
