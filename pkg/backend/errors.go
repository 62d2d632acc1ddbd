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
	"errors"
	"fmt"
	"net/http"

	"github.com/clyso/crr/pkg/dom"
)

// StatusError carries vendor response status of failed storage call.
type StatusError struct {
	StatusCode int
	Code       string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d %s: %v", e.StatusCode, e.Code, e.Err)
	}
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func NewStatusError(statusCode int, code string, err error) error {
	if err == nil {
		return nil
	}
	return &StatusError{StatusCode: statusCode, Code: code, Err: err}
}

var throttlingCodes = map[string]struct{}{
	"SlowDown":             {},
	"Throttling":           {},
	"ThrottlingException":  {},
	"RequestLimitExceeded": {},
	"TooManyRequests":      {},
	"ServerBusy":           {},
	"RequestTimeout":       {},
	"RequestTimeTooSkewed": {},
	"InternalError":        {},
	"ServiceUnavailable":   {},
	"OperationTimedOut":    {},
}

// Classify wraps err into dom.ErrRetryable or dom.ErrFatal.
// Timeouts, network errors, throttling and 5xx responses are retryable.
// Auth failures, missing bucket and other 4xx responses are fatal.
// Unrecognized errors are considered retryable.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if dom.IsRetryable(err) || dom.IsFatal(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dom.Retryable(err)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if _, ok := throttlingCodes[statusErr.Code]; ok {
			return dom.Retryable(err)
		}
		switch code := statusErr.StatusCode; {
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
			return dom.Retryable(err)
		case code >= http.StatusBadRequest:
			return dom.Fatal(err)
		}
	}
	if errors.Is(err, dom.ErrAuth) || errors.Is(err, dom.ErrInvalidStorageConfig) {
		return dom.Fatal(err)
	}
	return dom.Retryable(err)
}
