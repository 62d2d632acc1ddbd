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

package mem

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/dom"
)

var _ backend.Adapter = &Adapter{}

type object struct {
	data     []byte
	info     backend.ObjectInfo
	versions int
}

// Adapter keeps objects in memory. Faults can be injected to simulate
// failing destinations.
type Adapter struct {
	name string

	mu       sync.Mutex
	objects  map[string]*object
	puts     int
	failNext []error
	fault    error
	putDelay time.Duration
	onPut    func(key string)
}

func New(name string) *Adapter {
	return &Adapter{name: name, objects: map[string]*object{}}
}

func (a *Adapter) Kind() backend.Kind {
	return backend.KindMem
}

func (a *Adapter) Name() string {
	return a.name
}

// FailNext makes the next n Put calls return err.
func (a *Adapter) FailNext(n int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < n; i++ {
		a.failNext = append(a.failNext, err)
	}
}

// SetFault makes every Put return err until cleared with nil.
func (a *Adapter) SetFault(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fault = err
}

func (a *Adapter) SetPutDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.putDelay = d
}

// OnPut registers a callback invoked after each successful Put.
func (a *Adapter) OnPut(fn func(key string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onPut = fn
}

// Puts returns number of Put calls including failed ones.
func (a *Adapter) Puts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.puts
}

func (a *Adapter) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.objects))
	for k := range a.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a *Adapter) Put(ctx context.Context, key string, body io.Reader, size int64, meta backend.Metadata) (backend.PutResult, error) {
	a.mu.Lock()
	a.puts++
	var injected error
	switch {
	case len(a.failNext) != 0:
		injected = a.failNext[0]
		a.failNext = a.failNext[1:]
	case a.fault != nil:
		injected = a.fault
	}
	delay := a.putDelay
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return backend.PutResult{}, backend.Classify(ctx.Err())
		case <-time.After(delay):
		}
	}
	if injected != nil {
		return backend.PutResult{}, backend.Classify(injected)
	}
	// read fully before publishing so partial bodies are never visible
	data, err := io.ReadAll(body)
	if err != nil {
		return backend.PutResult{}, backend.Classify(err)
	}
	if size >= 0 && int64(len(data)) != size {
		return backend.PutResult{}, dom.Retryable(fmt.Errorf("%w: short body for %s: got %d, want %d", dom.ErrInternal, key, len(data), size))
	}
	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])

	a.mu.Lock()
	obj, ok := a.objects[key]
	if !ok {
		obj = &object{}
		a.objects[key] = obj
	}
	obj.versions++
	obj.data = data
	obj.info = backend.ObjectInfo{
		Key:          key,
		Size:         int64(len(data)),
		ETag:         etag,
		VersionID:    strconv.Itoa(obj.versions),
		LastModified: time.Now(),
		Metadata:     maps.Clone(meta),
	}
	res := backend.PutResult{VersionID: obj.info.VersionID, ETag: etag}
	onPut := a.onPut
	a.mu.Unlock()

	if onPut != nil {
		onPut(key)
	}
	return res, nil
}

func (a *Adapter) Get(_ context.Context, key string) (io.ReadCloser, backend.ObjectInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.objects[key]
	if !ok {
		return nil, backend.ObjectInfo{}, fmt.Errorf("%w: object %s not found in %s", dom.ErrNotFound, key, a.name)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.info, nil
}

func (a *Adapter) Head(_ context.Context, key string) (backend.ObjectInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.objects[key]
	if !ok {
		return backend.ObjectInfo{}, fmt.Errorf("%w: object %s not found in %s", dom.ErrNotFound, key, a.name)
	}
	return obj.info, nil
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.Head(ctx, key)
	if backend.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (a *Adapter) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, key)
	return nil
}
